// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/computesdk/sandbox-agent/lib/session"
	"github.com/computesdk/sandbox-agent/lib/transcript"
)

// HeaderTranscriptDigest carries the hex BLAKE3 digest of the
// uncompressed archive body.
const HeaderTranscriptDigest = "X-Transcript-Digest"

// TranscriptContentType is the media type of a transcript archive.
const TranscriptContentType = "application/vnd.sandbox-agent.transcript"

// TranscriptHeader describes info as the header of an archive.
func TranscriptHeader(info session.Info) transcript.Header {
	return transcript.Header{
		SessionID:       info.ID,
		Agent:           info.Agent,
		PermissionMode:  info.PermissionMode,
		NativeSessionID: info.NativeSessionID,
		CreatedAt:       info.CreatedAt,
	}
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	found, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	compression, err := transcript.ParseCompression(r.URL.Query().Get("compression"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, KindMalformedRequest, err.Error())
		return
	}

	header := TranscriptHeader(found.Info())
	header.ArchivedAt = h.clock.Now().UTC()
	snapshot, err := transcript.New(header, found.Log().ReadFrom(0, 0))
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	archive, digest, err := transcript.Encode(snapshot, compression)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}

	w.Header().Set("Content-Type", TranscriptContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", url.PathEscape(found.ID)+transcript.Extension))
	w.Header().Set(HeaderTranscriptDigest, digest.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(archive); err != nil {
		h.logger.Debug("writing transcript", "session_id", found.ID, "error", err)
	}
}

// ArchiveOnTeardown returns a teardown hook that writes each removed
// session's transcript through archiver. Failures are logged; teardown
// itself never fails.
func ArchiveOnTeardown(archiver *transcript.Archiver, logger *slog.Logger) func(*session.Session) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(torn *session.Session) {
		events := torn.Log().ReadFrom(0, 0)
		if _, err := archiver.Archive(TranscriptHeader(torn.Info()), events); err != nil {
			logger.Error("archiving transcript", "session_id", torn.ID, "error", err)
		}
	}
}
