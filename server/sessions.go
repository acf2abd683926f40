// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/session"
)

// AgentStatus is one entry of GET /v1/agents.
type AgentStatus struct {
	ID          agents.ID  `json:"id"`
	Installed   bool       `json:"installed"`
	Path        string     `json:"path,omitempty"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	statuses := make([]AgentStatus, 0, len(agents.All()))
	for _, id := range agents.All() {
		status := AgentStatus{ID: id}
		if record, ok := h.agents.Status(id); ok {
			installedAt := record.InstalledAt
			status.Installed = true
			status.Path = record.Path
			status.InstalledAt = &installedAt
		}
		statuses = append(statuses, status)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"agents": statuses})
}

func (h *Handler) handleInstall(w http.ResponseWriter, r *http.Request) {
	id, err := agents.Parse(r.PathValue("agent"))
	if err != nil {
		h.sendError(w, http.StatusNotFound, KindUnknownAgent, err.Error())
		return
	}
	// The body carries no options yet, but it must be JSON if present.
	var options struct{}
	if err := decodeBody(w, r, &options, true); err != nil {
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, err.Error())
		return
	}
	if err := h.agents.Install(r.Context(), id); err != nil {
		h.sendFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSessionRequest is the body of POST /v1/sessions/{id}.
type CreateSessionRequest struct {
	Agent          string `json:"agent"`
	PermissionMode string `json:"permissionMode,omitempty"`
}

// CreateSessionResponse is returned on successful creation.
type CreateSessionResponse struct {
	ID              string    `json:"id"`
	Agent           agents.ID `json:"agent"`
	PermissionMode  string    `json:"permissionMode"`
	NativeSessionID string    `json:"native_session_id"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var request CreateSessionRequest
	if err := decodeBody(w, r, &request, false); err != nil {
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, err.Error())
		return
	}
	if request.Agent == "" {
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, "agent is required")
		return
	}
	id, err := agents.Parse(request.Agent)
	if err != nil {
		h.sendError(w, http.StatusNotFound, KindUnknownAgent, err.Error())
		return
	}

	created, err := h.registry.Create(r.Context(), session.CreateRequest{
		ID:             r.PathValue("id"),
		Agent:          id,
		PermissionMode: request.PermissionMode,
	})
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, CreateSessionResponse{
		ID:              created.ID,
		Agent:           created.Agent,
		PermissionMode:  created.PermissionMode,
		NativeSessionID: created.NativeSessionID,
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	live := h.registry.List()
	infos := make([]session.Info, 0, len(live))
	for _, each := range live {
		infos = append(infos, each.Info())
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	found, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, found.Info())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(r.PathValue("id")); err != nil {
		h.sendFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessageRequest is the body of POST /v1/sessions/{id}/messages.
type SendMessageRequest struct {
	Message *string `json:"message"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// An unknown session is reported before a malformed body.
	if _, err := h.registry.Get(id); err != nil {
		h.sendFailure(w, r, err)
		return
	}
	var request SendMessageRequest
	if err := decodeBody(w, r, &request, false); err != nil {
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, err.Error())
		return
	}
	if request.Message == nil {
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, "message is required")
		return
	}
	if err := h.registry.SendMessage(id, *request.Message); err != nil {
		h.sendFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
