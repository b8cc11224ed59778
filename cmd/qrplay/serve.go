package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/internal/web"
	"github.com/ytget/qrplay/youtube/embed"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string, lookup web.InfoLookup, stderr io.Writer) int {
	fs := newFlagSet("serve", "[flags]", stderr)
	flagAddr := fs.String("addr", ":8080", "Listen address")
	flagBaseURL := fs.String("base-url", "", "Public origin of the page (e.g., https://qrplay.example). Set it in deployments: when empty the embed origin is taken from the client-supplied Host header")
	flagTTL := fs.Duration("session-ttl", 2*time.Hour, "Idle time before a game session expires")
	flagMax := fs.Int("max-sessions", 10000, "Maximum number of live sessions")
	flagDelay := fs.Duration("play-delay", embed.PlayDelay, "Delay before the page sends the play command")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return 2
	}

	log := logger.WithComponent(logger.ComponentApp)
	srv := web.New(web.Config{
		BaseURL:    *flagBaseURL,
		SessionTTL: *flagTTL,
		MaxSession: *flagMax,
		PlayDelay:  *flagDelay,
		Lookup:     lookup,
	})

	httpServer := &http.Server{
		Addr:              *flagAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", map[string]interface{}{"addr": *flagAddr, "base_url": *flagBaseURL})
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", map[string]interface{}{"error": err})
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown failed", map[string]interface{}{"error": err})
		return 1
	}
	log.Info("Shutdown complete")
	return 0
}
