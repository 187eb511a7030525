package web

import (
	"net/http"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// Workflow transitions always answer 200 with a TransitionResult. A request
// that does not apply to the current status comes back with Applied=false
// and a message rather than an error.

// handleEvaluateSubmit shows what submitting would do.
func (s *Server) handleEvaluateSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	d, err := s.service.EvaluateSubmit(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type submitRequest struct {
	Confirm string `json:"confirm"`
}

// handleSubmit confirms the action returned by handleEvaluateSubmit.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	confirm := core.ActionRoute
	if req.Confirm != "" {
		a, err := core.ParseSubmitAction(req.Confirm)
		if err != nil {
			respondError(w, r, err)
			return
		}
		confirm = a
	}

	res, err := s.service.Submit(r.Context(), id, confirm, actor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Accept  bool   `json:"accept"`
	Comment string `json:"comment"`
}

func (s *Server) handleDivisionReview(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.service.DivisionReview(r.Context(), id, req.Approve, actor(r), req.Comment)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHQDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.service.HQDecision(r.Context(), id, req.Accept, actor(r), req.Comment)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	res, err := s.service.Cancel(r.Context(), id, actor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	res, err := s.service.Delete(r.Context(), id, actor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type mergeRequest struct {
	TargetID int64 `json:"targetId"`
}

// handleMerge merges the submission in the URL into targetId.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	var req mergeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TargetID < 1 {
		badRequest(w, "targetId is required")
		return
	}
	stats, err := s.service.MergeSubmissions(r.Context(), id, req.TargetID, actor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
