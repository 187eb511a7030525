package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/BridgeIntake/internal/config"
)

// Deps are the collaborators a Service is built from. Store and Chunks are
// required; the rest are optional.
type Deps struct {
	Store      Store
	Chunks     *ChunkAssembler
	Artifacts  ArtifactStore
	Rules      RuleEvaluator
	Classifier SeverityClassifier
	Renderer   ReportRenderer
	Progress   ProgressReporter
	Notifier   Notifier
}

// Service is the entry point for every intake operation: chunk upload,
// finalize, the asynchronous pipeline and the review workflow.
type Service struct {
	store       Store
	chunks      *ChunkAssembler
	artifacts   ArtifactStore
	renderer    ReportRenderer
	notifier    Notifier
	progress    ProgressReporter
	broadcaster *Broadcaster
	validator   *Validator
	limiter     *PipelineLimiter
	retry       RetryPolicy

	maxFileSize     int64
	pipelineTimeout time.Duration
	attachReport    bool

	mu        sync.RWMutex
	pipelines map[int64]*activePipeline

	now func() time.Time
}

// NewService wires a Service from deps and cfg. A nil cfg uses defaults.
func NewService(deps Deps, cfg *config.Config) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if deps.Chunks == nil {
		return nil, errors.New("service: chunk assembler is required")
	}
	if cfg == nil {
		cfg = config.Defaults()
	}

	policy := TemporaryPolicy{Fields: cfg.Validation.TemporaryFields, Markers: cfg.Validation.TemporaryMarkers}
	if len(policy.Fields) == 0 {
		policy = DefaultTemporaryPolicy()
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	broadcaster := NewBroadcaster()
	progress := MultiReporter{broadcaster}
	if deps.Progress != nil {
		progress = append(progress, deps.Progress)
	}

	return &Service{
		store:       deps.Store,
		chunks:      deps.Chunks,
		artifacts:   deps.Artifacts,
		renderer:    deps.Renderer,
		notifier:    notifier,
		progress:    progress,
		broadcaster: broadcaster,
		validator:   NewValidator(deps.Rules, deps.Classifier, policy, cfg.Validation.Workers),
		limiter:     NewPipelineLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		retry: RetryPolicy{
			MaxAttempts: cfg.Merge.MaxAttempts,
			BaseDelay:   cfg.Merge.BaseDelay,
			MaxDelay:    cfg.Merge.MaxDelay,
		},
		maxFileSize:     cfg.Upload.MaxFileSize,
		pipelineTimeout: cfg.Upload.Timeout,
		attachReport:    cfg.Notify.AttachReport,
		pipelines:       make(map[int64]*activePipeline),
		now:             time.Now,
	}, nil
}

// Limiter exposes the pipeline limiter for shutdown and health checks.
func (s *Service) Limiter() *PipelineLimiter {
	return s.limiter
}

// WriteChunk stores one chunk of an upload.
func (s *Service) WriteChunk(ctx context.Context, c Chunk) error {
	err := s.chunks.WriteChunk(ctx, c)
	if errors.Is(err, ErrUploadAborted) {
		slog.Warn("upload aborted", "upload_token", c.Token, "file", c.FileName, "seq", c.Seq, "error", err)
	}
	return err
}

// DiscardUpload drops an unfinalized upload.
func (s *Service) DiscardUpload(token string) error {
	return s.chunks.Discard(token)
}

// SubscribeProgress returns progress events for a correlation id (the
// upload token). The channel closes when the pipeline ends or unsubscribe
// is called.
func (s *Service) SubscribeProgress(correlationID string) (<-chan ProgressEvent, func()) {
	return s.broadcaster.Subscribe(correlationID)
}

// GetSubmission returns one submission header.
func (s *Service) GetSubmission(ctx context.Context, id int64) (*Submission, error) {
	var sub *Submission
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		sub, err = tx.GetSubmission(ctx, id)
		return err
	})
	return sub, err
}

// ListSubmissions returns submissions matching f.
func (s *Service) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]*Submission, error) {
	var out []*Submission
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListSubmissions(ctx, f)
		return err
	})
	return out, err
}

// Records returns a submission's staged records.
func (s *Service) Records(ctx context.Context, id int64) ([]*StagedRecord, error) {
	var out []*StagedRecord
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetSubmission(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.LoadRecords(ctx, id)
		return err
	})
	return out, err
}

// Violations returns the violations of the latest validation run.
func (s *Service) Violations(ctx context.Context, id int64) ([]Violation, error) {
	var out []Violation
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetSubmission(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.ListViolations(ctx, id)
		return err
	})
	return out, err
}

// Report returns the latest batch report for a submission.
func (s *Service) Report(ctx context.Context, id int64) (*BatchReport, error) {
	var out *BatchReport
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.LatestReport(ctx, id)
		return err
	})
	return out, err
}

// ReportArtifact opens the latest report workbook for a submission.
func (s *Service) ReportArtifact(ctx context.Context, id int64) (*BatchReport, io.ReadCloser, error) {
	r, err := s.Report(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.artifacts == nil || r.ArtifactKey == "" {
		return nil, nil, notFound("report artifact for submission", id)
	}
	rc, err := s.artifacts.Get(ctx, r.ArtifactKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open report artifact: %w", err)
	}
	return r, rc, nil
}

// SubmissionByToken returns the submission finalized from an upload token.
func (s *Service) SubmissionByToken(ctx context.Context, token string) (*Submission, error) {
	var sub *Submission
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		sub, err = tx.GetSubmissionByToken(ctx, token)
		return err
	})
	return sub, err
}

// ReportContentType is the media type of report artifacts.
func (s *Service) ReportContentType() string {
	if s.renderer == nil {
		return "application/octet-stream"
	}
	return s.renderer.ContentType()
}
