package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cgi"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// configPaths are tried in order; the first one that exists is loaded. When
// none exists, the defaults are written to the first.
var configPaths = []string{"./config.json", "./config.yaml", "./config.yml"}

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// stderr, so nothing lands in a cgi response body.
	baseLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		for sig := range osSignalChan {
			if sig == syscall.SIGHUP {
				baseLogger.Info("SIGHUP received, reloading configuration.")
				actionChan <- actionRestart
				continue
			}
			baseLogger.Info("OS signal received, initiating shutdown.", "signal", sig.String())
			actionChan <- actionShutdown
			return
		}
	}()

	for {
		action, err := run(actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			os.Exit(1)
		}

		if action == actionRestart {
			baseLogger.Info("--- Server Restarting ---")
			continue
		}
		break
	}
}

// run builds the container and serves until shutdown or restart is requested,
// returning the requested action. In cgi mode it answers one request and returns.
func run(actionChan chan string) (string, error) {
	container, err := BuildContainer(findConfigPath(configPaths))
	if err != nil {
		return "", err
	}
	defer func() {
		if err := container.Close(); err != nil {
			container.Logger.Error("Failed to close container", "error", err)
		}
	}()
	logger := container.Logger

	server, err := NewServer(container)
	if err != nil {
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	if container.Config.Server.Mode == modeCGI {
		if err = cgi.Serve(server.Handler()); err != nil {
			return "", fmt.Errorf("cgi request failed: %w", err)
		}
		return actionShutdown, nil
	}

	logger.Info("Starting server cycle...", "version", Version, "cache", container.Cache.String())

	// Parse templates now so problems show in the log before the first request;
	// the homepage reports the same error until the templates are fixed.
	if _, err = container.Templates(); err != nil {
		logger.Error("Failed to load templates", "error", err)
	}

	httpServer := server.HTTPServer()
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Starting resume generator server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	var action string
	select {
	case action = <-actionChan:
	case err = <-serverErrors:
		return "", fmt.Errorf("http server failed: %w", err)
	}

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	return action, nil
}

// findConfigPath returns the first of paths that exists, or paths[0].
func findConfigPath(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return paths[0]
}
