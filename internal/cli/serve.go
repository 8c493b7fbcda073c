package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scriptoria/internal/web"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web UI and JSON API",
		Long: strings.TrimSpace(`
Serve the HTML form, the live history page and the JSON API from a local HTTP server.

Generation uses the OpenAI-compatible backend when OPENAI_API_KEY is set and the local
deterministic fallback otherwise.
`),
		Example: strings.TrimSpace(`
# Serve on the default address
scriptoria serve

# Serve on all interfaces with a separate history file
scriptoria --history /srv/scriptoria/history.json serve --addr :5000
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.config()
			listenAddr := strings.TrimSpace(addr)
			if listenAddr == "" {
				listenAddr = cfg.Addr
			}
			if listenAddr == "" {
				return writeErr(cmd, errors.New("serve: missing --addr"))
			}

			logger, err := app.logger(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			arc, err := app.openArchive(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer arc.Close()
			gen, err := app.newService(logger)
			if err != nil {
				return writeErr(cmd, err)
			}

			srv, err := web.NewServer(web.ServerConfig{
				History:        hist,
				Generator:      gen,
				Archive:        arc,
				Logger:         logger,
				RateLimitRPS:   cfg.RateLimitRPS(),
				RateLimitBurst: cfg.RateLimit.Burst,
			})
			if err != nil {
				return writeErr(cmd, err)
			}

			ln, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return writeErr(cmd, err)
			}

			actualAddr := ln.Addr().String()
			url := "http://" + actualAddr + "/"

			_ = writeOut(cmd, app, map[string]any{
				"addr":      actualAddr,
				"url":       url,
				"history":   hist.Path(),
				"archive":   cfg.ResolvedArchivePath(),
				"backend":   cfg.OpenAI.APIKey != "",
				"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
			}, nil)
			fmt.Fprintf(cmd.ErrOrStderr(), "scriptoria running at %s (history=%s)\n", url, hist.Path())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveUntilDone(ctx, ln, srv.Handler())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Bind address (host:port or :port; default from config, 127.0.0.1:5000)")
	return cmd
}

// serveUntilDone serves on ln until ctx is cancelled, then shuts down gracefully.
func serveUntilDone(ctx context.Context, ln net.Listener, h http.Handler) error {
	hs := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// SSE streams never finish on their own.
	if err := hs.Shutdown(shutdownCtx); err != nil {
		_ = hs.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
