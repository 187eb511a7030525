package web

// Shared request parsing and response shapes for the handlers.

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// maxJSONBody bounds every JSON request body.
const maxJSONBody = 1 << 20

// parseIDParam parses a positive int64 URL parameter.
func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// splitList splits a comma-separated query value, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeJSON reads a JSON body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body: %v", err)
		return false
	}
	return true
}

// recordResponse is the wire form of a staged record.
type recordResponse struct {
	ID         int64                 `json:"id"`
	Key        core.RecordKey        `json:"key"`
	Status     core.RecordStatus     `json:"status"`
	Fields     map[string]core.Value `json:"fields"`
	Extensions core.Extensions       `json:"extensions,omitempty"`
}

func toRecordResponses(recs []*core.StagedRecord) []recordResponse {
	out := make([]recordResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordResponse{
			ID:         r.ID,
			Key:        r.Key,
			Status:     r.Status,
			Fields:     r.Fields(),
			Extensions: r.Extensions,
		})
	}
	return out
}
