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

// Package webhook serves the endpoint monday.com automations call. It
// answers the subscription challenge, validates item events and runs the
// provisioning pipeline for each one.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"

	"github.com/bcem/provisioner/internal/pipeline"
)

// Response bodies.
const (
	createdMessage = "Directory structure created.\n"
	invalidJSON    = `{"error":"Invalid JSON"}`
	missingName    = `{"error":"pulseName is required"}`
)

// Runner executes a provisioning request. Implemented by pipeline.Runner.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// Handler processes monday.com webhook deliveries.
type Handler struct {
	runner Runner
}

// NewHandler creates a webhook handler.
func NewHandler(runner Runner) *Handler {
	return &Handler{runner: runner}
}

// ServeHTTP handles a delivery.
//
// monday.com verifies a new webhook by POSTing {"challenge": "..."} and
// expecting the same value echoed back as JSON. Every other delivery must
// carry event.pulseName and event.pulseId; the folder is provisioned before
// the response is written.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed\n")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		writeText(w, http.StatusInternalServerError, "Internal Server Error\n")
		return
	}

	doc, err := decodeBody(body)
	if err != nil {
		slog.Warn("webhook body is not valid JSON", "body_len", len(body))
		writeJSON(w, http.StatusBadRequest, []byte(invalidJSON))
		return
	}

	obj, _ := doc.(map[string]any)

	if challenge := obj["challenge"]; truthy(challenge) {
		slog.Info("webhook challenge received")
		resp, err := json.Marshal(map[string]any{"challenge": challenge})
		if err != nil {
			writeText(w, http.StatusInternalServerError, "Internal Server Error\n")
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	req, ok := parseEvent(obj)
	if !ok {
		slog.Warn("pulseName or pulseId is missing from the webhook payload")
		writeJSON(w, http.StatusBadRequest, []byte(missingName))
		return
	}

	slog.Info("processing item event",
		"item_id", req.ItemID,
		"item_name", req.ItemName,
		"delivery_id", req.DeliveryID,
	)

	if _, err := h.runner.Run(r.Context(), req); err != nil {
		slog.Error("failed to provision item",
			"item_id", req.ItemID,
			"error", err,
		)
		writeText(w, http.StatusInternalServerError, "Internal Server Error\n")
		return
	}

	writeText(w, http.StatusOK, createdMessage)
}

// decodeBody parses body keeping numbers verbatim, so a challenge is echoed
// exactly as it was sent.
func decodeBody(body []byte) (any, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseEvent extracts the pipeline request from a delivery.
func parseEvent(obj map[string]any) (pipeline.Request, bool) {
	event, _ := obj["event"].(map[string]any)

	name, _ := event["pulseName"].(string)
	if name == "" || !truthy(event["pulseId"]) {
		return pipeline.Request{}, false
	}

	var itemID string
	switch id := event["pulseId"].(type) {
	case string:
		itemID = id
	case json.Number:
		itemID = id.String()
	default:
		return pipeline.Request{}, false
	}

	delivery, _ := event["triggerUuid"].(string)
	return pipeline.Request{
		ItemID:     itemID,
		ItemName:   SanitizeName(name),
		DeliveryID: delivery,
	}, true
}

// SanitizeName keeps ASCII letters, digits and spaces.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ':
			return r
		}
		return -1
	}, name)
}

// truthy reports whether a decoded JSON value counts as present: not null,
// false, zero or the empty string.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// NewRouter mounts the handler on every path. A non-nil requestLog adds
// per-request access logging.
func NewRouter(handler http.Handler, requestLog *httplog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if requestLog != nil {
		r.Use(httplog.RequestLogger(requestLog))
	}
	r.Handle("/", handler)
	r.Handle("/*", handler)
	return r
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections. When ctx is cancelled the server
// stops accepting requests and waits up to grace for in-flight ones; the
// stopped channel is closed once that shutdown has returned.
func Serve(ctx context.Context, port int, handler http.Handler, grace time.Duration) (ready, stopped <-chan struct{}, err error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}
	ready, stopped = serveListener(ctx, ln, handler, grace)
	return ready, stopped, nil
}

func serveListener(ctx context.Context, ln net.Listener, handler http.Handler, grace time.Duration) (<-chan struct{}, <-chan struct{}) {
	server := &http.Server{
		Handler: handler,
	}

	ready := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("webhook server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("webhook server listening", "addr", ln.Addr().String())
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, stopped
}
