package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
	"github.com/JonMunkholm/BridgeIntake/internal/logging"
)

// heartbeatInterval keeps idle progress streams open through proxies and
// re-checks whether the pipeline has already ended.
var heartbeatInterval = 15 * time.Second

// handleUploadChunk stores one chunk of one file. The body is the raw chunk.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		badRequest(w, "invalid file name")
		return
	}
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		badRequest(w, "invalid chunk sequence")
		return
	}

	limit := s.cfg.Upload.MaxChunkSize
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "UPL002", fmt.Sprintf("chunk exceeds %d bytes", limit))
			return
		}
		badRequest(w, "read chunk: %v", err)
		return
	}

	err = s.service.WriteChunk(r.Context(), core.Chunk{Token: token, FileName: name, Seq: seq, Data: data})
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDiscardUpload drops an unfinalized upload.
func (s *Server) handleDiscardUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardUpload(chi.URLParam(r, "token")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type finalizeRequest struct {
	Submitter     string `json:"submitter"`
	SubmitterName string `json:"submitterName"`
	Full          bool   `json:"full"`
	Comment       string `json:"comment"`
}

// handleFinalize turns an upload into a submission and starts its pipeline.
// The response is 202: processing continues in the background.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token := chi.URLParam(r, "token")
	id, err := s.service.Finalize(r.Context(), core.FinalizeRequest{
		Token:         token,
		Submitter:     req.Submitter,
		SubmitterName: req.SubmitterName,
		Full:          req.Full,
		Comment:       req.Comment,
		Actor:         actor(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/submissions/%d", id))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"submissionId": id,
		"token":        token,
		"progressUrl":  fmt.Sprintf("/api/uploads/%s/progress", url.PathEscape(token)),
	})
}

// handleUploadProgress streams pipeline progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter; the event id is
// the percent complete.
func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sub, err := s.service.SubmissionByToken(r.Context(), token)
	if err != nil {
		respondError(w, r, err)
		return
	}

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	// Subscribe before checking status so a pipeline that ends in between
	// still closes the channel.
	events, unsubscribe := s.service.SubscribeProgress(token)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Error("progress stream not supported", "error", err)
		return
	}

	complete := func() {
		status, err := s.service.PipelineStatus(sub.ID)
		if err != nil {
			// Pipeline no longer tracked; report the stored status.
			if cur, err := s.service.GetSubmission(r.Context(), sub.ID); err == nil {
				status = core.PipelineProgress{SubmissionID: cur.ID, Token: token, Phase: core.PhaseComplete, Percent: 100, Error: cur.LastError}
			}
		}
		data, _ := json.Marshal(status)
		fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
		rc.Flush()
	}

	if status, err := s.service.PipelineStatus(sub.ID); err != nil || status.Phase.Done() {
		complete()
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				complete()
				return
			}
			if ev.Percent <= lastEventID {
				continue
			}
			lastEventID = ev.Percent
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", ev.Percent, data)
			rc.Flush()

		case <-heartbeat.C:
			if status, err := s.service.PipelineStatus(sub.ID); err != nil || status.Phase.Done() {
				complete()
				return
			}
			fmt.Fprint(w, ": keep-alive\n\n")
			rc.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
