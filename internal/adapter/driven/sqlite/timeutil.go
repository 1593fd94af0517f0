package sqlite

import (
	"fmt"
	"time"
)

// parseTime parses the timestamp formats SQLite produces for our columns:
// the RFC 3339 form written by the STRFTIME defaults and by Go, and the plain
// datetime form older rows may carry.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
