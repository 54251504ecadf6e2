package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcp-copado",
	Short: "Copado MCP server over stdio",
	Long: `mcp-copado serves four tools (list_user_stories, list_promotions,
create_promotion, deploy_promotion) as newline-delimited JSON-RPC on stdin/stdout.

With SALESFORCE_INSTANCE_URL and SALESFORCE_ACCESS_TOKEN set it talks to the
org hosting Copado; otherwise it serves a built-in demo fixture.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func main() {
	rootCmd.Flags().String("env-file", "", "env file to load (default .env when present)")
	rootCmd.Flags().String("log-level", "", "log level: debug, info, warn, error (overrides COPADO_LOG_LEVEL)")
	rootCmd.Flags().String("fixture-db", "", "SQLite file persisting the mock fixture (overrides COPADO_FIXTURE_DB)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("fixture-db"); v != "" {
		cfg.FixtureDB = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openFixtureStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var audit *AuditLogger
	if cfg.AuditLog != "" {
		audit, err = OpenAuditLogger(cfg.AuditLog, logger)
		if err != nil {
			return err
		}
		defer audit.Close()
	}

	client := NewCopadoClient(store, cfg.Credentials(), logger)
	if client.Mode() == ModeLive {
		logger.Info("found Salesforce credentials, running in live mode", "instance_url", normalizeInstanceURL(cfg.InstanceURL))
	} else {
		logger.Info("no Salesforce credentials found, running in mock mode")
	}

	logger.Info("starting Copado MCP server (stdio)")
	srv := NewServer(client, os.Stdout, logger, audit)
	return serveStdio(ctx, srv, os.Stdin, shutdownGrace)
}

// shutdownGrace bounds how long a cancelled serveStdio waits for the request
// in flight before the store and audit log are closed.
const shutdownGrace = 5 * time.Second

// serveStdio runs srv until in reaches EOF or ctx is cancelled. Stdin reads
// cannot be interrupted, so after cancellation it only waits, at most grace,
// for the message being handled to finish.
func serveStdio(ctx context.Context, srv *Server, in io.Reader, grace time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, in)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-srv.idle():
		return nil
	case <-timer.C:
		srv.logger.Warn("abandoning request in flight after shutdown grace period", "grace", grace)
		return nil
	}
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// openFixtureStore picks the fixture backend from cfg.
func openFixtureStore(ctx context.Context, cfg Config, logger *slog.Logger) (FixtureStore, error) {
	switch {
	case cfg.FixtureDSN != "":
		store, err := OpenSQLStore(ctx, DialectPostgres, cfg.FixtureDSN, DefaultFixture())
		if err != nil {
			return nil, err
		}
		logger.Info("using persistent fixture", "backend", describePostgres(cfg.FixtureDSN))
		return store, nil
	case cfg.FixtureDB != "":
		store, err := OpenSQLStore(ctx, DialectSQLite, cfg.FixtureDB, DefaultFixture())
		if err != nil {
			return nil, err
		}
		logger.Info("using persistent fixture", "backend", "sqlite", "path", cfg.FixtureDB)
		return store, nil
	default:
		return NewMemoryStore(DefaultFixture()), nil
	}
}
