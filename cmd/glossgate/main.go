// Command glossgate serves read-only glossary retrieval tools over MCP,
// mediating between untrusted agent callers and the upstream retrieval API.
//
// Usage:
//
//	glossgate run --transport stdio
//	glossgate run --transport http --addr :8080
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/glossgate/glossgate/internal/audit"
	"github.com/glossgate/glossgate/internal/auth"
	"github.com/glossgate/glossgate/internal/config"
	"github.com/glossgate/glossgate/internal/pipeline"
	"github.com/glossgate/glossgate/internal/ratelimit"
	"github.com/glossgate/glossgate/internal/registry"
	"github.com/glossgate/glossgate/internal/server"
	"github.com/glossgate/glossgate/internal/upstream"
	"github.com/glossgate/glossgate/internal/validate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("glossgate", flag.ContinueOnError)
	transport := flags.String("transport", "stdio", "transport to serve MCP clients on: stdio or http")
	addr := flags.String("addr", ":8080", "listen address for the http transport")

	command := "run"
	if len(args) > 0 && args[0] == "run" {
		args = args[1:]
	} else if len(args) > 0 && args[0][0] != '-' {
		command = args[0]
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if command != "run" {
		fmt.Fprintf(os.Stderr, "unknown command %q (only \"run\" is supported)\n", command)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := mustBuildLogger(cfg.LogLevel, *transport)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	srv, authenticator, err := buildServer(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *transport {
	case "stdio":
		logger.Info("serving mcp over stdio")
		if err := srv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stdio transport failed", zap.Error(err))
			return 1
		}
	case "http":
		if err := serveHTTP(ctx, srv, authenticator, *addr, logger); err != nil {
			logger.Error("http transport failed", zap.Error(err))
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown transport %q (stdio or http)\n", *transport)
		return 2
	}
	return 0
}

// buildServer wires config through the component graph: upstream client,
// registry, validator, limiter, audit recorder, pipeline, MCP server.
func buildServer(cfg *config.Config, logger *zap.Logger) (*server.Server, auth.Authenticator, error) {
	client := upstream.New(upstream.Config{
		BaseURL:       cfg.APIBaseURL,
		APIKey:        cfg.APIKey,
		Timeout:       cfg.HTTPTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryWait:     cfg.RetryWait,
	})

	reg, err := registry.New(client, cfg)
	if err != nil {
		return nil, nil, err
	}

	validator, err := validate.New(cfg.DatasetIDPattern, cfg.MaxQueryLength, cfg.MaxTerms, cfg.MaxTermLength)
	if err != nil {
		return nil, nil, err
	}

	limiter, err := ratelimit.New(cfg.RateLimitCapacity, cfg.RateLimitInterval, cfg.ToolRateLimits)
	if err != nil {
		return nil, nil, err
	}

	var authenticator auth.Authenticator
	if cfg.HTTPAuthTokenHash != "" {
		bearer, err := auth.NewBearerAuthenticator(cfg.HTTPAuthTokenHash)
		if err != nil {
			return nil, nil, fmt.Errorf("MCP_HTTP_AUTH_TOKEN_HASH is not a bcrypt hash: %w", err)
		}
		authenticator = bearer
	}

	recorder := audit.NewZapRecorder(logger.Named("audit"))
	p := pipeline.New(reg, validator, limiter, recorder, logger)

	logger.Info("gateway configured",
		zap.String("upstream", cfg.APIBaseURL),
		zap.Strings("tools", reg.Names()),
		zap.Int("rate_limit_capacity", cfg.RateLimitCapacity),
		zap.Duration("rate_limit_interval", cfg.RateLimitInterval),
		zap.Bool("http_auth", authenticator != nil),
	)

	return server.New(p, logger), authenticator, nil
}

func serveHTTP(ctx context.Context, srv *server.Server, authenticator auth.Authenticator, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.Handler(authenticator))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving mcp over http", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func mustBuildLogger(level, transport string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug", "DEBUG":
		zapLevel = zapcore.DebugLevel
	case "warn", "warning", "WARN", "WARNING":
		zapLevel = zapcore.WarnLevel
	case "error", "ERROR":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	// Stdout belongs to the MCP protocol when serving stdio; logs go to
	// stderr there.
	output := "stdout"
	if transport == "stdio" {
		output = "stderr"
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
