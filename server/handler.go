// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package server is the HTTP transport over the session registry.
//
// Every operation is a thin translation: decode the request, call the
// registry or the agent manager, encode the result. Event delivery is
// two cursor views over the same per-session log: a poll endpoint that
// pages by offset and a server-sent event stream that follows it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/clock"
	"github.com/computesdk/sandbox-agent/lib/service"
	"github.com/computesdk/sandbox-agent/lib/session"
	"github.com/computesdk/sandbox-agent/lib/version"
)

// maxRequestBodySize bounds JSON request bodies. Messages are the
// largest thing a client sends.
const maxRequestBodySize = 4 << 20

// Error kinds reported in the "kind" field of an error body.
const (
	KindMalformedRequest = "malformed_request"
	KindUnknownAgent     = "unknown_agent"
	KindDuplicateSession = "duplicate_session"
	KindUnknownSession   = "unknown_session"
	KindInstallFailed    = "install_failed"
	KindAdapterError     = "adapter_error"
	KindUnauthorized     = "unauthorized"
	KindUnavailable      = "unavailable"
	KindInternal         = "internal"
)

// AgentManager is the part of agents.Manager the transport calls.
type AgentManager interface {
	Install(ctx context.Context, id agents.ID) error
	Status(id agents.ID) (agents.Record, bool)
}

// Config configures a Handler.
type Config struct {
	// Registry holds live sessions. Required.
	Registry *session.Registry

	// Agents installs agents. Required.
	Agents AgentManager

	Clock  clock.Clock
	Logger *slog.Logger

	// DefaultPageSize is the poll page size when the request has no
	// limit. Defaults to 100.
	DefaultPageSize int

	// MaxPageSize caps the poll limit and the batch written per stream
	// wake-up. Defaults to 1000.
	MaxPageSize int

	// KeepaliveInterval is how often an idle event stream writes a
	// comment line. Defaults to 15s.
	KeepaliveInterval time.Duration

	// Token enables bearer authentication on every route except
	// /health. Empty disables it.
	Token string
}

// Handler serves the sandbox-agent HTTP API.
type Handler struct {
	registry          *session.Registry
	agents            AgentManager
	clock             clock.Clock
	logger            *slog.Logger
	defaultPageSize   int
	maxPageSize       int
	keepaliveInterval time.Duration
	token             string

	mux *http.ServeMux
}

var _ http.Handler = (*Handler)(nil)

func NewHandler(config Config) *Handler {
	if config.Registry == nil {
		panic("server.Handler: Registry is required")
	}
	if config.Agents == nil {
		panic("server.Handler: Agents is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = 100
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = 1000
	}
	if config.DefaultPageSize > config.MaxPageSize {
		config.DefaultPageSize = config.MaxPageSize
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 15 * time.Second
	}

	handler := &Handler{
		registry:          config.Registry,
		agents:            config.Agents,
		clock:             config.Clock,
		logger:            config.Logger,
		defaultPageSize:   config.DefaultPageSize,
		maxPageSize:       config.MaxPageSize,
		keepaliveInterval: config.KeepaliveInterval,
		token:             config.Token,
		mux:               http.NewServeMux(),
	}

	handler.mux.HandleFunc("GET /health", handler.handleHealth)
	handler.mux.HandleFunc("GET /v1/agents", handler.handleListAgents)
	handler.mux.HandleFunc("POST /v1/agents/{agent}/install", handler.handleInstall)
	handler.mux.HandleFunc("GET /v1/sessions", handler.handleListSessions)
	handler.mux.HandleFunc("POST /v1/sessions/{id}", handler.handleCreateSession)
	handler.mux.HandleFunc("GET /v1/sessions/{id}", handler.handleGetSession)
	handler.mux.HandleFunc("DELETE /v1/sessions/{id}", handler.handleDeleteSession)
	handler.mux.HandleFunc("POST /v1/sessions/{id}/messages", handler.handleSendMessage)
	handler.mux.HandleFunc("GET /v1/sessions/{id}/events", handler.handlePollEvents)
	handler.mux.HandleFunc("GET /v1/sessions/{id}/events/sse", handler.handleStreamEvents)
	handler.mux.HandleFunc("GET /v1/sessions/{id}/transcript", handler.handleTranscript)

	return handler
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.URL.Path != "/health" {
		if err := service.VerifyBearer(h.token, r.Header.Get("Authorization")); err != nil {
			h.logger.Debug("rejected request", "method", r.Method, "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="sandbox-agent"`)
			h.sendError(w, http.StatusUnauthorized, KindUnauthorized, "missing or invalid bearer token")
			return
		}
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Info(),
	})
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *Handler) sendError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// sendFailure maps a registry or agent manager error onto its status
// and kind.
func (h *Handler) sendFailure(w http.ResponseWriter, r *http.Request, err error) {
	var installErr *agents.InstallError
	var adapterErr *session.AdapterError
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, err.Error())
	case errors.Is(err, session.ErrUnknownAgent), errors.Is(err, agents.ErrUnknownAgent):
		h.sendError(w, http.StatusNotFound, KindUnknownAgent, err.Error())
	case errors.Is(err, session.ErrDuplicateSession):
		h.sendError(w, http.StatusConflict, KindDuplicateSession, err.Error())
	case errors.Is(err, session.ErrUnknownSession):
		h.sendError(w, http.StatusNotFound, KindUnknownSession, err.Error())
	case errors.As(err, &installErr):
		h.logger.Error("agent install failed", "agent", installErr.Agent, "error", installErr.Err)
		h.sendError(w, http.StatusInternalServerError, KindInstallFailed, "agent installation failed")
	case errors.As(err, &adapterErr):
		h.sendError(w, http.StatusBadGateway, KindAdapterError, err.Error())
	case errors.Is(err, session.ErrRegistryClosed):
		h.sendError(w, http.StatusServiceUnavailable, KindUnavailable, err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.sendError(w, http.StatusInternalServerError, KindInternal, "internal error")
	}
}

// writeJSON encodes value with the given status. Encoding failures are
// logged; the client is usually gone by then.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.logger.Warn("writing JSON response", "error", err, "status", status)
	}
}

// decodeBody decodes a JSON request body into value. An empty body
// leaves value untouched when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, value any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := decoder.Decode(value); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding request body: %w", err)
	}
	if decoder.More() {
		return errors.New("decoding request body: trailing data after JSON value")
	}
	return nil
}
