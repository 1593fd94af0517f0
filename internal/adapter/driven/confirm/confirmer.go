// Package confirm implements the LinkConfirmer port with a plain HTTP GET,
// which is all the provider's forwarding verification endpoint requires.
package confirm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

var _ driven.LinkConfirmer = (*HTTPConfirmer)(nil)

// HTTPConfirmer visits a confirmation URL and treats any 2xx response as
// confirmed.
type HTTPConfirmer struct {
	client *http.Client
}

func NewHTTPConfirmer(timeout time.Duration) *HTTPConfirmer {
	return &HTTPConfirmer{client: &http.Client{Timeout: timeout}}
}

// Confirm fetches the URL. The endpoint confirms as a side effect of the GET;
// the response body carries nothing we need.
func (c *HTTPConfirmer) Confirm(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build confirmation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("visit confirmation url: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("confirmation endpoint returned %s", resp.Status)
	}
	return nil
}
