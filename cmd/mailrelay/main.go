package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	confirmadapter "github.com/receiptdrop/mailrelay/internal/adapter/driven/confirm"
	imapadapter "github.com/receiptdrop/mailrelay/internal/adapter/driven/imap"
	oauthadapter "github.com/receiptdrop/mailrelay/internal/adapter/driven/oauth"
	smtpadapter "github.com/receiptdrop/mailrelay/internal/adapter/driven/smtp"
	sqliteadapter "github.com/receiptdrop/mailrelay/internal/adapter/driven/sqlite"
	httphandler "github.com/receiptdrop/mailrelay/internal/adapter/driving/http"
	"github.com/receiptdrop/mailrelay/internal/application"
	"github.com/receiptdrop/mailrelay/internal/config"
)

const mailProvider = "gmail"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"smtp_host", cfg.SMTPHost,
		"imap_host", cfg.IMAPHost,
		"inbox_domain", cfg.InboxDomain,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	credentialStore, err := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	if err != nil {
		return err
	}
	ledger := sqliteadapter.NewDedupRepo(db)
	linkStore, err := sqliteadapter.NewConfirmLinkRepo(db, cfg.SecretKey)
	if err != nil {
		return err
	}

	oauthProvider := oauthadapter.NewProvider(
		cfg.OAuthClientID,
		cfg.OAuthClientSecret,
		cfg.OAuthRedirectURL,
		oauthadapter.Endpoints{
			AuthURL:     cfg.OAuthAuthURL,
			TokenURL:    cfg.OAuthTokenURL,
			UserinfoURL: cfg.OAuthUserinfoURL,
		},
		[]string{"https://mail.google.com/", "email"},
		30*time.Second,
	)
	mailbox := imapadapter.NewProvider(cfg.IMAPHost, cfg.IMAPPort, cfg.FetchTimeout)
	relay := smtpadapter.NewRelay(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.DeliverTimeout)
	confirmer := confirmadapter.NewHTTPConfirmer(30 * time.Second)

	// 6. Wire application services.
	logger := slog.Default()
	credentialMgr := application.NewCredentialManager(credentialStore, oauthProvider, mailProvider, logger)
	forwardSvc := application.NewForwardService(credentialMgr, mailbox, relay, ledger,
		cfg.InboxDomain, cfg.FetchTimeout, cfg.MaxAttempts, cfg.RetryDelay, logger)
	searchSvc := application.NewSearchService(credentialMgr, mailbox, logger)
	accountSvc := application.NewAccountService(credentialStore, oauthProvider, mailProvider,
		cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthTokenURL, logger)
	linkSvc := application.NewLinkService(linkStore, confirmer, logger)

	// 7. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(forwardSvc, searchSvc, accountSvc, linkSvc, logger)
	handler := httphandler.NewServeMux(apiHandler, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // forward batches can run long
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("mailrelay started", "listen_addr", cfg.ListenAddr)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 9. Graceful shutdown; in-flight forward batches get time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
