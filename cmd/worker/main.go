package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/inbox-autoresponder/internal/bootstrap"
	"github.com/kirillkom/inbox-autoresponder/internal/config"
	"github.com/kirillkom/inbox-autoresponder/internal/observability/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Inbox autoresponder worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newMigrateCmd(), newKnowledgeCmd(), newVersionCmd())
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the mailbox and answer new mail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				slog.Error("worker_failed", "error", err)
				return err
			}
			return nil
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", app.Metrics.Handler())
	metricsMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.Health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcherDone := make(chan error, 1)
	go func() {
		watcherDone <- app.Watcher.Run(runCtx, app.Queue)
	}()

	slog.Info("worker_started", "mailbox", cfg.MailboxIdentity(), "version", version)
	drainErr := app.Pipeline.Run(runCtx, app.Queue)
	cancel()
	watchErr := <-watcherDone
	slog.Info("worker_stopped", "mailbox", cfg.MailboxIdentity())
	return errors.Join(drainErr, watchErr)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := bootstrap.Migrate(cmd.Context(), cfg); err != nil {
				slog.Error("migrate_failed", "error", err)
				return err
			}
			slog.Info("migrate_completed")
			return nil
		},
	}
}

func newKnowledgeCmd() *cobra.Command {
	knowledge := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage knowledge documents",
	}

	var owner string
	add := &cobra.Command{
		Use:   "add FILE...",
		Short: "Upload documents used to ground replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if owner == "" {
				owner = cfg.KnowledgeOwner
			}
			admin, err := bootstrap.NewAdmin(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer admin.Close()

			for _, path := range args {
				if err := uploadFile(cmd.Context(), admin, owner, path); err != nil {
					return err
				}
			}
			return nil
		},
	}
	add.Flags().StringVar(&owner, "owner", "", "owner the documents belong to (defaults to KNOWLEDGE_OWNER)")
	knowledge.AddCommand(add)
	return knowledge
}

func uploadFile(ctx context.Context, admin *bootstrap.Admin, owner, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	doc, err := admin.Uploader.Upload(ctx, owner, name, mimeType, f)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	slog.Info("knowledge_document_added", "document_id", doc.ID, "owner", owner, "filename", name)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
