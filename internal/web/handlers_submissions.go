package web

import (
	"fmt"
	"io"
	"net/http"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
	"github.com/JonMunkholm/BridgeIntake/internal/logging"
)

const defaultListLimit = 100

// handleListSubmissions lists submissions, newest first.
// Query: submitter, status (comma-separated), limit.
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.SubmissionFilter{
		Submitter: q.Get("submitter"),
		Limit:     parseIntParam(r, "limit", defaultListLimit),
	}
	for _, name := range splitList(q.Get("status")) {
		st, err := core.ParseStatus(name)
		if err != nil {
			respondError(w, r, err)
			return
		}
		f.Statuses = append(f.Statuses, st)
	}

	subs, err := s.service.ListSubmissions(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*core.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	sub, err := s.service.GetSubmission(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submissionResponse{
		Submission:   sub,
		NextStatuses: core.NextStatuses(sub.Status),
	})
}

// submissionResponse adds the statuses a submission can move to next.
type submissionResponse struct {
	*core.Submission
	NextStatuses []core.Status `json:"nextStatuses"`
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	status, err := s.service.PipelineStatus(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	if err := s.service.CancelPipeline(id); err != nil {
		respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("pipeline cancel requested", "submission_id", id, "actor", actor(r))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	recs, err := s.service.Records(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponses(recs))
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	vs, err := s.service.Violations(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if vs == nil {
		vs = []core.Violation{}
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	rep, err := s.service.Report(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleReportDownload streams the latest report workbook.
func (s *Server) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	_, body, err := s.service.ReportArtifact(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", s.service.ReportContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="submission-%d-report.xlsx"`, id))
	if _, err := io.Copy(w, body); err != nil {
		logging.FromContext(r.Context()).Warn("report download interrupted", "submission_id", id, "error", err)
	}
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		badRequest(w, "invalid submission id")
		return
	}
	rep, err := s.service.Revalidate(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
