// Package main provides the localhost agent for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avanzando/mobilecore/internal/config"
	"github.com/avanzando/mobilecore/internal/core"
	"github.com/avanzando/mobilecore/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("AVZ_CONFIG"))
	if err != nil {
		logging.Error("Failed to load configuration", err)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	if err := run(cfg); err != nil {
		logging.Error("Desktop agent stopped with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	c, err := core.New(cfg, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	hub := NewWSHub()
	defer hub.Close()
	unsubscribe := c.Service.Subscribe(hub.Publish)
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Start(ctx)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(c, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Desktop agent listening", map[string]interface{}{
			"addr":     cfg.ListenAddr,
			"data_dir": cfg.DataDir,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logging.Info("Shutting down desktop agent")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
