// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	// SecretKey is the 32-byte AES key protecting credentials and
	// confirmation links at rest.
	SecretKey []byte

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string

	IMAPHost string
	IMAPPort string

	// InboxDomain is the domain of the per-user virtual inbox; deliveries go
	// to <user_id>@<InboxDomain>.
	InboxDomain string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthUserinfoURL  string

	FetchTimeout   time.Duration
	DeliverTimeout time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Required: MAILRELAY_SECRET_KEY (64 hex chars), MAILRELAY_SMTP_HOST,
// MAILRELAY_SMTP_USERNAME, MAILRELAY_SMTP_PASSWORD, MAILRELAY_IMAP_HOST,
// MAILRELAY_INBOX_DOMAIN, MAILRELAY_OAUTH_CLIENT_ID,
// MAILRELAY_OAUTH_CLIENT_SECRET. Everything else has a default.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("MAILRELAY_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:            envOr("MAILRELAY_DB_PATH", "mailrelay.db"),
		SMTPHost:          os.Getenv("MAILRELAY_SMTP_HOST"),
		SMTPPort:          envOr("MAILRELAY_SMTP_PORT", "587"),
		SMTPUsername:      os.Getenv("MAILRELAY_SMTP_USERNAME"),
		SMTPPassword:      os.Getenv("MAILRELAY_SMTP_PASSWORD"),
		IMAPHost:          os.Getenv("MAILRELAY_IMAP_HOST"),
		IMAPPort:          envOr("MAILRELAY_IMAP_PORT", "993"),
		InboxDomain:       os.Getenv("MAILRELAY_INBOX_DOMAIN"),
		OAuthClientID:     os.Getenv("MAILRELAY_OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("MAILRELAY_OAUTH_CLIENT_SECRET"),
		OAuthRedirectURL:  envOr("MAILRELAY_OAUTH_REDIRECT_URL", "http://localhost:8080/api/v1/auth/callback"),
		OAuthAuthURL:      envOr("MAILRELAY_OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
		OAuthTokenURL:     envOr("MAILRELAY_OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		OAuthUserinfoURL:  envOr("MAILRELAY_OAUTH_USERINFO_URL", "https://openidconnect.googleapis.com/v1/userinfo"),
	}

	for name, value := range map[string]string{
		"MAILRELAY_SMTP_HOST":           cfg.SMTPHost,
		"MAILRELAY_SMTP_USERNAME":       cfg.SMTPUsername,
		"MAILRELAY_SMTP_PASSWORD":       cfg.SMTPPassword,
		"MAILRELAY_IMAP_HOST":           cfg.IMAPHost,
		"MAILRELAY_INBOX_DOMAIN":        cfg.InboxDomain,
		"MAILRELAY_OAUTH_CLIENT_ID":     cfg.OAuthClientID,
		"MAILRELAY_OAUTH_CLIENT_SECRET": cfg.OAuthClientSecret,
	} {
		if value == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	keyHex := os.Getenv("MAILRELAY_SECRET_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("MAILRELAY_SECRET_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("MAILRELAY_SECRET_KEY must be 64 hex characters (32 bytes)")
	}
	cfg.SecretKey = key

	if cfg.FetchTimeout, err = durationOr("MAILRELAY_FETCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliverTimeout, err = durationOr("MAILRELAY_DELIVER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = durationOr("MAILRELAY_RETRY_DELAY", 2*time.Second); err != nil {
		return nil, err
	}

	cfg.MaxAttempts = 3
	if v, ok := os.LookupEnv("MAILRELAY_MAX_ATTEMPTS"); ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 1 {
			return nil, fmt.Errorf("MAILRELAY_MAX_ATTEMPTS has invalid value %q", v)
		}
		cfg.MaxAttempts = n
	}

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", name, v, err)
	}
	return parsed, nil
}
