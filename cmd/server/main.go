// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// monday.com provisioner: webhook server
//
// Entry point for the provisioning service. It:
//  1. Loads configuration from .env, config.yaml and the environment
//  2. Connects to Redis and PostgreSQL when they are configured
//  3. Serves the webhook endpoint monday.com automations call
//  4. Serves a health endpoint on a separate port
//  5. Handles graceful shutdown on SIGTERM/SIGINT, waiting for downloads
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"

	"github.com/bcem/provisioner/internal/app"
	"github.com/bcem/provisioner/internal/config"
	"github.com/bcem/provisioner/internal/logging"
	"github.com/bcem/provisioner/internal/webhook"
)

func main() {
	loadEnvironment()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(os.Stdout, "info", "json")
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.Info("starting monday.com provisioner",
		"port", cfg.Port,
		"health_port", cfg.HealthPort,
		"source", cfg.SourceDir,
		"destination", cfg.DestinationDir,
	)

	// Downloads run on baseCtx; it outlives the listeners so that shutdown
	// can drain them.
	baseCtx, cancelDownloads := context.WithCancel(context.Background())
	defer cancelDownloads()

	a, err := app.New(baseCtx, cfg, app.Options{Deliveries: true})
	if err != nil {
		slog.Error("failed to initialise provisioner", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	serveCtx, stopServing := context.WithCancel(baseCtx)
	defer stopServing()

	// --- Webhook Server ---
	var requestLog *httplog.Logger
	if cfg.HTTPRequestLog {
		requestLog = httplog.NewLogger("provisioner", httplog.Options{
			JSON:     cfg.LogFormat != "text",
			LogLevel: logging.ParseLevel(cfg.LogLevel),
			Writer:   os.Stdout,
		})
	}
	router := webhook.NewRouter(webhook.NewHandler(a.Runner), requestLog)

	ready, stopped, err := webhook.Serve(serveCtx, cfg.Port, router, cfg.ShutdownTimeout)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Health Check Server ---
	if cfg.HealthPort != 0 {
		go serveHealth(serveCtx, cfg.HealthPort, a)
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Runs already inside a handler must have started their downloads
	// before the runner is drained.
	stopServing()
	<-stopped

	if err := a.Runner.Shutdown(shutdownCtx); err != nil {
		slog.Warn("cancelling unfinished downloads", "error", err)
		cancelDownloads()
		a.Runner.Wait()
	}

	slog.Info("provisioner stopped")
}

// loadEnvironment reads a .env file from the working directory when one
// exists. Variables already set in the environment win.
func loadEnvironment() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
}

// serveHealth runs the health endpoint until ctx is cancelled.
func serveHealth(ctx context.Context, port int, a *app.App) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Check(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("health server listening", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("health server error", "error", err)
	}
}
