package rules

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

func TestRemote_Evaluate(t *testing.T) {
	var got evaluateRequest
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evaluate", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		require.NoError(t, json.Unmarshal(body, &raw))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"violations":[{"ruleId":"SAF-900","fieldCode":"BG02","description":"too short"}]}`))
	}))
	defer srv.Close()

	g, recs := stage(t, `[{"BL01":"31","BID01":"B1","BG02":10,"elements":[{"BE01":"12","BE03":1}]}]`)
	tally := core.NewTemporaryTally(core.DefaultTemporaryPolicy())

	r := NewRemote(RemoteConfig{BaseURL: srv.URL, APIKey: "secret"})
	vs, err := r.Evaluate(context.Background(), core.EvalInput{Record: recs[0], Related: g.Related(recs[0]), Tally: tally})
	require.NoError(t, err)

	require.Len(t, vs, 1)
	assert.Equal(t, "SAF-900", vs[0].RuleID)
	assert.Equal(t, "BG02", vs[0].FieldCode)

	assert.Equal(t, core.EntityBridge, got.Record.Entity)
	assert.Equal(t, "B1", got.Record.Key.Bridge.BridgeNumber)
	require.Len(t, got.Related, 1, "related set excludes the record itself")
	assert.Equal(t, core.EntityElement, got.Related[0].Entity)
	assert.NotContains(t, raw, "temporary", "per-run tally is not sent mid-run")
}

func TestRemote_ClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unknown entity"}`))
	}))
	defer srv.Close()

	_, recs := stage(t, `[{"BL01":"31","BID01":"B1"}]`)
	r := NewRemote(RemoteConfig{BaseURL: srv.URL, RetryCount: 2})
	_, err := r.Evaluate(context.Background(), core.EvalInput{Record: recs[0], Related: recs})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity")
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are not retried")
}

func TestRemote_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"violations":[]}`))
	}))
	defer srv.Close()

	_, recs := stage(t, `[{"BL01":"31","BID01":"B1"}]`)
	r := NewRemote(RemoteConfig{BaseURL: srv.URL, RetryCount: 2})
	vs, err := r.Evaluate(context.Background(), core.EvalInput{Record: recs[0], Related: recs})

	require.NoError(t, err)
	assert.Empty(t, vs)
	assert.Equal(t, int32(2), calls.Load())
}
