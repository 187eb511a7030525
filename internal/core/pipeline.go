package core

// pipeline.go runs one submission from assembled files to its first
// workflow decision.
//
// Stages run in order and the context is checked between them:
//
//	archive   copy assembled files to the artifact store
//	parse     decode and map every file into staged records
//	stage     insert records, initial-pending -> new
//	validate  run the aggregate validator, persist violations and report
//	route     auto-route to division review when no other submission conflicts
//
// A fatal precondition moves the submission to validation-failed; any other
// failure moves it to submit-failed. Cancellation stops the pipeline but
// leaves staged rows in place; Cancel purges them.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"runtime/debug"
	"time"
)

// PipelinePhase is the stage a pipeline is in.
type PipelinePhase string

const (
	PhaseStarting   PipelinePhase = "starting"
	PhaseArchiving  PipelinePhase = "archiving"
	PhaseParsing    PipelinePhase = "parsing"
	PhaseStaging    PipelinePhase = "staging"
	PhaseValidating PipelinePhase = "validating"
	PhaseRouting    PipelinePhase = "routing"
	PhaseComplete   PipelinePhase = "complete"
	PhaseFailed     PipelinePhase = "failed"
	PhaseCancelled  PipelinePhase = "cancelled"
)

// Done reports whether the pipeline has stopped.
func (p PipelinePhase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// Overall percent at the start of each phase.
var phaseStart = map[PipelinePhase]int{
	PhaseStarting:   0,
	PhaseArchiving:  2,
	PhaseParsing:    5,
	PhaseStaging:    25,
	PhaseValidating: 30,
	PhaseRouting:    95,
	PhaseComplete:   100,
}

// PipelineProgress is a snapshot of a running pipeline.
type PipelineProgress struct {
	SubmissionID int64         `json:"submissionId"`
	Token        string        `json:"token"`
	Phase        PipelinePhase `json:"phase"`
	Percent      int           `json:"percent"`
	Error        string        `json:"error,omitempty"`
}

// PipelineResult is the outcome of a finished pipeline.
type PipelineResult struct {
	SubmissionID int64           `json:"submissionId"`
	Status       Status          `json:"status"`
	Records      int             `json:"records"`
	Omitted      int             `json:"omitted"`
	Violations   int             `json:"violations"`
	Decision     *SubmitDecision `json:"decision,omitempty"`
	Error        string          `json:"error,omitempty"`
	Duration     time.Duration   `json:"duration"`
}

type activePipeline struct {
	sub    *Submission
	files  []UploadedFile
	cancel context.CancelFunc
	done   chan struct{}

	progress PipelineProgress
	result   *PipelineResult
}

// FinalizeRequest closes an upload and starts its pipeline.
type FinalizeRequest struct {
	Token         string
	Submitter     string
	SubmitterName string
	Full          bool
	Comment       string
	Actor         string
}

// Finalize creates the submission for an upload token and starts its
// pipeline in the background. Finalizing a token twice returns the
// existing submission id without starting another pipeline.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (int64, error) {
	if err := ValidateToken(req.Token); err != nil {
		return 0, err
	}
	if req.Submitter == "" {
		return 0, invalidInput("submitter is required")
	}

	if id, ok, err := s.submissionForToken(ctx, req.Token); err != nil || ok {
		return id, err
	}

	files, err := s.chunks.Files(req.Token)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if s.maxFileSize > 0 && f.Size > s.maxFileSize {
			return 0, invalidInput("file %s is %d bytes, limit is %d", f.Name, f.Size, s.maxFileSize)
		}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return 0, err
	}

	actor := actorOr(ctx, req.Actor)
	now := s.now().UTC()
	sub := &Submission{
		Submitter:     req.Submitter,
		SubmitterName: req.SubmitterName,
		Full:          req.Full,
		Status:        StatusInitialPending,
		UploadToken:   req.Token,
		UploadedBy:    actor,
		UploadedAt:    now,
		UpdatedAt:     now,
	}
	for _, f := range files {
		sub.FileNames = append(sub.FileNames, f.Name)
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateSubmission(ctx, sub); err != nil {
			return err
		}
		entry := newAuditEntry(ctx, ActionUpload, sub.ID, "", StatusInitialPending)
		entry.Actor = actor
		entry.Detail = fmt.Sprintf("%d file(s), full=%v", len(files), req.Full)
		if err := appendAudit(ctx, tx, entry); err != nil {
			return err
		}
		if req.Comment != "" {
			return tx.AddComment(ctx, &Comment{
				SubmissionID: sub.ID,
				Phase:        PhaseUpload,
				Text:         req.Comment,
				Author:       actor,
				Active:       true,
				CreatedAt:    now,
			})
		}
		return nil
	})
	if err != nil {
		s.limiter.Release()
		if errors.Is(err, ErrDuplicateToken) {
			// Lost a race with a concurrent finalize of the same token.
			if id, ok, lookupErr := s.submissionForToken(ctx, req.Token); lookupErr == nil && ok {
				return id, nil
			}
		}
		return 0, fmt.Errorf("create submission: %w", err)
	}

	pctx, cancel := context.WithTimeout(detachedContext(ctx), s.pipelineTimeout)
	p := &activePipeline{
		sub:    sub.Clone(),
		files:  files,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: PipelineProgress{
			SubmissionID: sub.ID,
			Token:        sub.UploadToken,
			Phase:        PhaseStarting,
		},
	}

	s.mu.Lock()
	s.pipelines[sub.ID] = p
	s.mu.Unlock()

	slog.Info("submission finalized",
		"submission_id", sub.ID,
		"upload_token", sub.UploadToken,
		"submitter", sub.Submitter,
		"full", sub.Full,
		"files", len(files),
	)

	go s.runPipeline(pctx, p)

	return sub.ID, nil
}

func (s *Service) submissionForToken(ctx context.Context, token string) (int64, bool, error) {
	var id int64
	err := s.store.View(ctx, func(tx Tx) error {
		sub, err := tx.GetSubmissionByToken(ctx, token)
		if err != nil {
			return err
		}
		id = sub.ID
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Service) runPipeline(ctx context.Context, p *activePipeline) {
	start := time.Now()
	log := slog.With("submission_id", p.sub.ID, "upload_token", p.sub.UploadToken)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			s.fail(ctx, p, log, start, fmt.Errorf("internal error: %v", r))
		}
		p.cancel()
		s.limiter.Release()
		s.broadcaster.Close(p.sub.UploadToken)
		close(p.done)
		s.cleanup(p.sub.ID, 10*time.Minute)
	}()

	log.Info("pipeline started")

	s.setPhase(p, PhaseArchiving, 0)
	if err := s.archiveFiles(ctx, p); err != nil {
		s.fail(ctx, p, log, start, err)
		return
	}

	if ctx.Err() != nil {
		s.finish(p, log, start, PhaseCancelled, ctx.Err())
		return
	}

	s.setPhase(p, PhaseParsing, 0)
	mapped, err := s.parseFiles(ctx, p)
	if err != nil {
		s.fail(ctx, p, log, start, err)
		return
	}

	if ctx.Err() != nil {
		s.finish(p, log, start, PhaseCancelled, ctx.Err())
		return
	}

	s.setPhase(p, PhaseStaging, 0)
	if err := s.stageRecords(ctx, p, mapped); err != nil {
		s.fail(ctx, p, log, start, err)
		return
	}
	p.result = &PipelineResult{SubmissionID: p.sub.ID, Records: len(mapped.Records), Omitted: mapped.Omitted}
	if err := s.chunks.Discard(p.sub.UploadToken); err != nil {
		log.Warn("discard assembled chunks failed", "error", err)
	}

	if ctx.Err() != nil {
		s.finish(p, log, start, PhaseCancelled, ctx.Err())
		return
	}

	s.setPhase(p, PhaseValidating, 0)
	res, err := s.validateSubmission(ctx, p.sub, p.sub.UploadToken, func(pct int) {
		s.setPhase(p, PhaseValidating, pct)
	})
	if err != nil {
		s.fail(ctx, p, log, start, err)
		return
	}
	p.result.Violations = len(res.Violations)

	if ctx.Err() != nil {
		s.finish(p, log, start, PhaseCancelled, ctx.Err())
		return
	}

	s.setPhase(p, PhaseRouting, 0)
	decision, err := s.EvaluateSubmit(ctx, p.sub.ID)
	if err != nil {
		s.fail(ctx, p, log, start, err)
		return
	}
	p.result.Decision = decision
	if decision.Action == ActionRoute {
		tr, err := s.Submit(ctx, p.sub.ID, ActionRoute, p.sub.UploadedBy)
		if err != nil {
			s.fail(ctx, p, log, start, err)
			return
		}
		if !tr.Applied {
			log.Info("auto-route not applied", "message", tr.Message)
		}
	} else {
		log.Info("submission awaiting confirmation", "action", decision.Action, "existing_id", decision.ExistingID)
	}

	s.finish(p, log, start, PhaseComplete, nil)
}

// archiveFiles copies the assembled files to the artifact store so they
// outlive the chunk directory.
func (s *Service) archiveFiles(ctx context.Context, p *activePipeline) error {
	if s.artifacts == nil {
		return nil
	}
	for _, f := range p.files {
		fh, err := os.Open(f.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = s.artifacts.Put(ctx, uploadKey(p.sub.ID, f.Name), fh, f.Size)
		fh.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", f.Name, err)
		}
	}
	return nil
}

func (s *Service) parseFiles(ctx context.Context, p *activePipeline) (*MapResult, error) {
	var total int64
	for _, f := range p.files {
		total += f.Size
	}

	out := &MapResult{}
	var done int64
	for _, f := range p.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fh, err := os.Open(f.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		r, counter := WrapForDecoding(fh, f.Size)
		entries, err := DecodeSubmission(r)
		fh.Close()
		if err != nil {
			return nil, invalidInput("%s: %v", f.Name, err)
		}

		res := MapSubmission(p.sub.ID, p.sub.Submitter, entries)
		out.Records = append(out.Records, res.Records...)
		out.Omitted += res.Omitted

		done += counter.BytesRead()
		if total > 0 {
			s.setPhase(p, PhaseParsing, int(done*100/total))
		}
	}
	return out, nil
}

func (s *Service) stageRecords(ctx context.Context, p *activePipeline, mapped *MapResult) error {
	sub := p.sub.Clone()
	err := s.retry.Do(ctx, "stage records", func() error {
		return s.store.WithTx(ctx, func(tx Tx) error {
			cur, err := tx.GetSubmission(ctx, sub.ID)
			if err != nil {
				return err
			}
			if err := tx.InsertRecords(ctx, mapped.Records); err != nil {
				return fmt.Errorf("insert records: %w", err)
			}
			cur.Omitted = mapped.Omitted
			detail := fmt.Sprintf("%d record(s) staged, %d omitted", len(mapped.Records), mapped.Omitted)
			if err := transition(ctx, tx, cur, StatusNew, cur.UploadedBy, detail, s.now().UTC()); err != nil {
				return err
			}
			sub = cur
			return nil
		})
	})
	if err != nil {
		return err
	}
	p.sub = sub
	return nil
}

// fail records a pipeline error on the submission.
func (s *Service) fail(ctx context.Context, p *activePipeline, log *slog.Logger, start time.Time, cause error) {
	if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		s.finish(p, log, start, PhaseCancelled, cause)
		return
	}

	to := StatusSubmitFailed
	if IsFatalPrecondition(cause) {
		to = StatusValidationFailed
	}

	// The pipeline context may be nearly expired; record the failure regardless.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := s.store.WithTx(wctx, func(tx Tx) error {
		cur, err := tx.GetSubmission(wctx, p.sub.ID)
		if err != nil {
			return err
		}
		cur.LastError = cause.Error()
		if !CanTransition(cur.Status, to) {
			// Failed after routing; keep the status and record the error.
			cur.UpdatedAt = s.now().UTC()
			if err := tx.UpdateSubmission(wctx, cur); err != nil {
				return err
			}
			p.sub = cur
			return nil
		}
		if err := transition(wctx, tx, cur, to, cur.UploadedBy, cause.Error(), s.now().UTC()); err != nil {
			return err
		}
		p.sub = cur
		return nil
	})
	if err != nil {
		log.Error("record pipeline failure", "status", to, "error", err)
	}
	s.finish(p, log, start, PhaseFailed, cause)
}

func (s *Service) finish(p *activePipeline, log *slog.Logger, start time.Time, phase PipelinePhase, cause error) {
	if p.result == nil {
		p.result = &PipelineResult{SubmissionID: p.sub.ID}
	}
	p.result.Duration = time.Since(start)

	if sub, err := s.GetSubmission(context.Background(), p.sub.ID); err == nil {
		p.result.Status = sub.Status
	} else {
		p.result.Status = p.sub.Status
	}

	if cause != nil {
		p.result.Error = cause.Error()
	}

	s.mu.Lock()
	p.progress.Phase = phase
	if phase == PhaseComplete {
		p.progress.Percent = 100
	}
	if cause != nil {
		p.progress.Error = cause.Error()
	}
	s.mu.Unlock()

	if phase == PhaseComplete {
		s.progress.Report(p.sub.UploadToken, 100)
	}

	log.Info("pipeline finished",
		"phase", phase,
		"status", p.result.Status,
		"records", p.result.Records,
		"violations", p.result.Violations,
		"error", p.result.Error,
		"duration_ms", p.result.Duration.Milliseconds(),
	)
}

// setPhase updates the snapshot and reports overall percent. pct is the
// progress within the phase.
func (s *Service) setPhase(p *activePipeline, phase PipelinePhase, pct int) {
	lo := phaseStart[phase]
	hi := 100
	for _, next := range []PipelinePhase{PhaseArchiving, PhaseParsing, PhaseStaging, PhaseValidating, PhaseRouting, PhaseComplete} {
		if phaseStart[next] > lo {
			hi = phaseStart[next]
			break
		}
	}
	overall := lo + (hi-lo)*pct/100

	s.mu.Lock()
	p.progress.Phase = phase
	if overall > p.progress.Percent {
		p.progress.Percent = overall
	}
	overall = p.progress.Percent
	s.mu.Unlock()

	s.progress.Report(p.sub.UploadToken, overall)
}

// cleanup removes the pipeline from tracking after a delay.
func (s *Service) cleanup(id int64, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pipelines, id)
		s.mu.Unlock()
	})
}

func (s *Service) pipeline(id int64) (*activePipeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[id]
	return p, ok
}

// PipelineStatus returns the progress of a tracked pipeline.
func (s *Service) PipelineStatus(id int64) (PipelineProgress, error) {
	p, ok := s.pipeline(id)
	if !ok {
		return PipelineProgress{}, notFound("pipeline for submission", id)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return p.progress, nil
}

// WaitPipeline blocks until the pipeline for id finishes or ctx is done.
func (s *Service) WaitPipeline(ctx context.Context, id int64) (*PipelineResult, error) {
	p, ok := s.pipeline(id)
	if !ok {
		return nil, notFound("pipeline for submission", id)
	}
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelPipeline stops a running pipeline between stages. Staged rows are
// kept; use Cancel to purge them.
func (s *Service) CancelPipeline(id int64) error {
	p, ok := s.pipeline(id)
	if !ok {
		return notFound("pipeline for submission", id)
	}
	p.cancel()
	return nil
}

func uploadKey(id int64, name string) string {
	return path.Join(uploadPrefix(id), name)
}

func uploadPrefix(id int64) string {
	return fmt.Sprintf("uploads/%d/", id)
}

func reportPrefix(id int64) string {
	return fmt.Sprintf("reports/%d/", id)
}
