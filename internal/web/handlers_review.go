package web

import (
	"net/http"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

const defaultAuditLimit = 200

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	all := r.URL.Query().Get("all") == "true"
	comments, err := s.service.ListComments(r.Context(), id, all)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if comments == nil {
		comments = []core.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

type commentRequest struct {
	Phase string `json:"phase"`
	Text  string `json:"text"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	phase := core.PhaseReview
	if req.Phase != "" {
		p, err := core.ParseCommentPhase(req.Phase)
		if err != nil {
			respondError(w, r, err)
			return
		}
		phase = p
	}
	c, err := s.service.AddComment(r.Context(), id, phase, req.Text, actor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRemoveComment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	commentID, ok := parseIDParam(r, "commentID")
	if !ok {
		badRequest(w, "invalid comment id")
		return
	}
	if err := s.service.RemoveComment(r.Context(), id, commentID, actor(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flagRequest struct {
	Flag string `json:"flag"`
	Set  bool   `json:"set"`
}

// handleFlagViolation sets or clears reviewed, ignored or corrected.
func (s *Server) handleFlagViolation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid violation id")
		return
	}
	var req flagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	flag, err := core.ParseViolationFlag(req.Flag)
	if err != nil {
		respondError(w, r, err)
		return
	}
	v, err := s.service.FlagViolation(r.Context(), id, flag, req.Set, actor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleAuditLog lists audit entries, newest first.
// Query: submissionId, action, limit.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.AuditFilter{
		Action: core.AuditAction(q.Get("action")),
		Limit:  parseIntParam(r, "limit", defaultAuditLimit),
	}
	if q.Get("submissionId") != "" {
		f.SubmissionID = int64(parseIntParam(r, "submissionId", 0))
		if f.SubmissionID == 0 {
			badRequest(w, "invalid submissionId")
			return
		}
	}
	entries, err := s.service.AuditLog(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
