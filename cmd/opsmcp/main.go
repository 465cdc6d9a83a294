package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/inbox-autoresponder/internal/adapters/mcp"
	"github.com/kirillkom/inbox-autoresponder/internal/bootstrap"
	"github.com/kirillkom/inbox-autoresponder/internal/config"
	"github.com/kirillkom/inbox-autoresponder/internal/observability/logging"
)

var version = "dev"

// Stdout carries the MCP protocol, so logs go to stderr.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLoggerTo(os.Stderr, "opsmcp", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	admin, err := bootstrap.NewAdmin(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer admin.Close()

	tools := mcpadapter.NewTools(admin.Service, cfg.MailboxIdentity())
	stdio := server.NewStdioServer(mcpadapter.NewServer(tools, version))
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	slog.Info("opsmcp_started", "mailbox", cfg.MailboxIdentity())
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		slog.Error("opsmcp_failed", "error", err)
		admin.Close()
		os.Exit(1)
	}
}
