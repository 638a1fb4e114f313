package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/activitymap"
	"github.com/goliatone/go-shopagent/background"
	"github.com/goliatone/go-shopagent/capture"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/goliatone/go-shopagent/httpapi"
	"github.com/goliatone/go-shopagent/provider/google"
	"github.com/goliatone/go-shopagent/provider/local"
	"github.com/goliatone/go-shopagent/session"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	shutdownTimeout = 10 * time.Second
	memoryDSN       = "file::memory:?cache=shared"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var printConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background context and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			lgr := newLogger(flags.verbose)
			cfg, err := loadConfig(cmd.Context(), lgr)
			if err != nil {
				return err
			}
			if printConfig {
				fmt.Println(print.MaybeHighlightJSON(cfg))
			}
			return serve(cmd.Context(), cfg, lgr)
		},
	}
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print the resolved config before starting")
	return cmd
}

func serve(ctx context.Context, cfg *shopagent.Config, lgr *glog.BaseLogger) error {
	logger := lgr.GetLogger("serve")

	db, err := openDB(cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	backend, err := sessionBackend(ctx, cfg.Store, db, lgr.GetLogger("session"))
	if err != nil {
		return err
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}

	recorder := capture.NewBunRecorder(db)
	if err := recorder.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate captures: %w", err)
	}

	accounts := local.NewAccountsRepository(db)
	if err := accounts.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate accounts: %w", err)
	}

	signingKey, err := signingKey(cfg.Auth, logger)
	if err != nil {
		return err
	}

	providerOpts := []local.Option{
		local.WithLoggerProvider(lgr),
		local.WithMinPasswordLength(cfg.Auth.GetMinPasswordLength()),
		local.WithVerificationBaseURL(verificationBaseURL(cfg)),
		local.WithSessionCache(local.NewKeyringCache(cfg.Auth.KeyringService)),
	}
	if cfg.Mail.IsConfigured() {
		providerOpts = append(providerOpts, local.WithMailer(local.NewSMTPMailer(cfg.Mail)))
	} else {
		logger.Warn("mail is not configured, verification links are logged")
	}

	var flow gateway.InteractiveFlow
	if cfg.Google.ClientID != "" {
		verifier, err := google.NewVerifier(cfg.Google.ClientID, cfg.Google.JWKSURL)
		if err != nil {
			return err
		}
		defer verifier.Close()
		providerOpts = append(providerOpts, local.WithCredentialVerifier(verifier))
		flow = google.NewFlow(cfg.Google, google.WithFlowLogger(lgr.GetLogger("google")))
	} else {
		logger.Info("google client id not set, federated sign-in disabled")
	}

	provider := local.NewProvider(accounts, signingKey, providerOpts...)

	svc := background.New(cfg, background.Dependencies{
		Provider:     provider,
		Flow:         flow,
		Backend:      backend,
		Recorder:     recorder,
		ActivitySink: activitymap.NewLogSink(lgr.GetLogger("activity")),
	}, background.WithLoggerProvider(lgr))

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Close()

	serverOpts := []httpapi.Option{
		httpapi.WithLoggerProvider(lgr),
		httpapi.WithEmailVerifier(provider),
	}
	if cfg.Server.AccessToken != "" {
		serverOpts = append(serverOpts, httpapi.WithAccessToken(cfg.Server.AccessToken))
	}
	srv := httpapi.New(svc.Router(), svc.Reader(), serverOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Server.Addr)
	}()
	pterm.Success.Printfln("shopagent listening on %s (store: %s)", cfg.Server.Addr, cfg.Store.Driver)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	pterm.Info.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDB(cfg shopagent.StoreConfig) (*bun.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = memoryDSN
	}
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func sessionBackend(ctx context.Context, cfg shopagent.StoreConfig, db *bun.DB, logger shopagent.Logger) (session.Backend, error) {
	switch cfg.Driver {
	case shopagent.StoreDriverMemory:
		return session.NewMemoryBackend(), nil
	case shopagent.StoreDriverRedis:
		return session.NewRedisBackend(cfg.RedisURL, cfg.Namespace, session.WithRedisLogger(logger))
	case shopagent.StoreDriverSQLite:
		backend := session.NewBunBackend(db, cfg.Namespace)
		if err := backend.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate session: %w", err)
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func signingKey(cfg shopagent.AuthConfig, logger shopagent.Logger) ([]byte, error) {
	if cfg.SigningKey != "" {
		return []byte(cfg.SigningKey), nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	logger.Warn("auth.signing_key not set, verification links expire on restart")
	return []byte(hex.EncodeToString(buf)), nil
}

func verificationBaseURL(cfg *shopagent.Config) string {
	if cfg.Auth.VerificationBaseURL != "" {
		return cfg.Auth.VerificationBaseURL
	}
	return cfg.Server.BaseURL + httpapi.RouteVerifyEmail
}
