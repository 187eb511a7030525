package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// RemoteConfig configures the external rule engine client.
type RemoteConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	APIKey     string
}

// Remote sends each record to an external rule engine over HTTP.
//
// POST /evaluate with the record, its related set and the temporary-value
// counts observed so far; the engine answers {"violations": [...]}.
type Remote struct {
	client *resty.Client
}

var _ core.RuleEvaluator = (*Remote)(nil)

// NewRemote creates a client for the engine at cfg.BaseURL.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})
	return &Remote{client: client}
}

type wireRecord struct {
	Entity     core.EntityType       `json:"entity"`
	Key        core.RecordKey        `json:"key"`
	Status     core.RecordStatus     `json:"status"`
	Fields     map[string]core.Value `json:"fields"`
	Extensions core.Extensions       `json:"extensions,omitempty"`
}

type evaluateRequest struct {
	Record  wireRecord   `json:"record"`
	Related []wireRecord `json:"related"`
}

type evaluateResponse struct {
	Violations []core.RuleViolation `json:"violations"`
}

type engineError struct {
	Error string `json:"error"`
}

func toWire(r *core.StagedRecord) wireRecord {
	return wireRecord{
		Entity:     r.Key.Entity,
		Key:        r.Key,
		Status:     r.Status,
		Fields:     r.Fields(),
		Extensions: r.Extensions,
	}
}

func (c *Remote) Evaluate(ctx context.Context, in core.EvalInput) ([]core.RuleViolation, error) {
	req := evaluateRequest{Record: toWire(in.Record)}
	for _, r := range in.Related {
		if r == in.Record {
			continue
		}
		req.Related = append(req.Related, toWire(r))
	}

	var result evaluateResponse
	var failure engineError
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&failure).
		Post("/evaluate")
	if err != nil {
		return nil, fmt.Errorf("rule engine: %w", err)
	}
	if resp.IsError() {
		slog.Warn("rule engine returned error",
			"status_code", resp.StatusCode(),
			"record", in.Record.Key.String(),
			"error", failure.Error,
		)
		return nil, fmt.Errorf("rule engine: status %d: %s", resp.StatusCode(), failure.Error)
	}
	return result.Violations, nil
}
