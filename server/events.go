// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/netutil"
	"github.com/computesdk/sandbox-agent/lib/sse"
)

// EventsResponse is the body of the poll endpoint.
type EventsResponse struct {
	Events []event.Event `json:"events"`
}

func (h *Handler) handlePollEvents(w http.ResponseWriter, r *http.Request) {
	found, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}

	query := r.URL.Query()
	offset, err := parseOffset(query.Get("offset"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, err.Error())
		return
	}
	limit := h.defaultPageSize
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.sendError(w, http.StatusBadRequest, KindMalformedRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		if limit == 0 {
			limit = h.defaultPageSize
		}
	}
	limit = min(limit, h.maxPageSize)

	found.Touch(h.clock.Now().UTC())
	h.writeJSON(w, http.StatusOK, EventsResponse{Events: found.Log().ReadFrom(offset, limit)})
}

// handleStreamEvents follows a session's log as server-sent events. The
// stream replays everything after the starting offset, then waits for
// new events. It ends cleanly when the session is torn down, after
// every event has been written.
func (h *Handler) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	found, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}

	raw := r.URL.Query().Get("offset")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	offset, err := parseOffset(raw)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, err.Error())
		return
	}

	subscription := found.Log().Subscribe(offset)
	defer subscription.Close()

	writer, err := sse.NewWriter(w)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, KindInternal, err.Error())
		return
	}

	logger := h.logger.With("session_id", found.ID)
	logger.Debug("event stream opened", "offset", offset)

	keepalive := h.clock.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		if err := h.flushEvents(writer, subscription.Poll); err != nil {
			if netutil.IsExpectedCloseError(err) || ctx.Err() != nil {
				logger.Debug("event stream peer gone", "error", err)
			} else {
				logger.Warn("writing event stream", "error", err)
			}
			return
		}
		found.Touch(h.clock.Now().UTC())

		select {
		case <-subscription.Wait():
		case <-subscription.Done():
			// No appends after close; one more pass drains the log.
			if err := h.flushEvents(writer, subscription.Poll); err != nil {
				logger.Debug("event stream ended while draining", "error", err)
				return
			}
			logger.Debug("event stream ended", "last_event_id", subscription.Cursor())
			return
		case <-keepalive.C:
			if err := writer.Comment("keepalive"); err != nil {
				logger.Debug("event stream peer gone", "error", err)
				return
			}
		case <-ctx.Done():
			logger.Debug("event stream closed by peer", "last_event_id", subscription.Cursor())
			return
		}
	}
}

// flushEvents writes batches from poll until it returns nothing.
func (h *Handler) flushEvents(writer *sse.Writer, poll func(int) []event.Event) error {
	for {
		batch := poll(h.maxPageSize)
		if len(batch) == 0 {
			return nil
		}
		for _, each := range batch {
			data, err := json.Marshal(each)
			if err != nil {
				return fmt.Errorf("encoding event %d: %w", each.ID, err)
			}
			if err := writer.WriteEvent(sse.Event{
				ID:   strconv.FormatUint(each.ID, 10),
				Data: string(data),
			}); err != nil {
				return err
			}
		}
	}
}

func parseOffset(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", raw)
	}
	return offset, nil
}
