package core

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"
)

// validateSubmission loads the staged set, validates it outside any
// transaction and persists the result. Used by the pipeline and Revalidate.
func (s *Service) validateSubmission(ctx context.Context, sub *Submission, correlationID string, progress func(int)) (*ValidationResult, error) {
	var recs []*StagedRecord
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		recs, err = tx.LoadRecords(ctx, sub.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	res, err := s.runValidation(ctx, sub, recs, progress)
	if err != nil {
		return nil, err
	}

	err = s.retry.Do(ctx, "persist validation", func() error {
		return s.store.WithTx(ctx, func(tx Tx) error {
			return persistValidation(ctx, tx, res)
		})
	})
	if err != nil {
		s.dropArtifact(res.Report.ArtifactKey)
		return nil, err
	}

	slog.Info("submission validated",
		"submission_id", sub.ID,
		"correlation_id", correlationID,
		"records", res.Report.TotalUploaded,
		"violations", len(res.Violations),
		"temporary_free", res.Report.TemporaryFree,
	)
	return res, nil
}

// runValidation validates recs and writes the report workbook. Nothing is
// persisted in the store.
func (s *Service) runValidation(ctx context.Context, sub *Submission, recs []*StagedRecord, progress func(int)) (*ValidationResult, error) {
	res, err := s.validator.Validate(ctx, ValidationInput{
		SubmissionID: sub.ID,
		Records:      recs,
		Omitted:      sub.Omitted,
		Progress:     progress,
	})
	if err != nil {
		return nil, err
	}
	if err := s.writeReportArtifact(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// writeReportArtifact renders the workbook under a fresh key so an earlier
// report is never overwritten by a run that later rolls back.
func (s *Service) writeReportArtifact(ctx context.Context, res *ValidationResult) error {
	if s.renderer == nil || s.artifacts == nil {
		return nil
	}
	data, err := s.renderer.Render(res.Report, res.Violations)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	key := path.Join(reportPrefix(res.Report.SubmissionID), uuid.NewString()+".xlsx")
	if err := s.artifacts.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	res.Report.ArtifactKey = key
	return nil
}

// persistValidation replaces the submission's violations, keeping audit
// flags set on the previous run, and saves the report.
func persistValidation(ctx context.Context, tx Tx, res *ValidationResult) error {
	id := res.Report.SubmissionID
	previous, err := tx.ListViolations(ctx, id)
	if err != nil {
		return fmt.Errorf("list violations: %w", err)
	}
	CarryFlags(previous, res.Violations)
	if err := tx.ReplaceViolations(ctx, id, res.Violations); err != nil {
		return fmt.Errorf("replace violations: %w", err)
	}
	if err := tx.SaveReport(ctx, res.Report); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// dropArtifact removes an artifact after a rollback. Failures only leave an
// orphan file.
func (s *Service) dropArtifact(key string) {
	if key == "" || s.artifacts == nil {
		return
	}
	if err := s.artifacts.Delete(context.Background(), key); err != nil {
		slog.Warn("orphaned artifact", "key", key, "error", err)
	}
}

// Revalidate runs validation again over a submission's staged records.
// Audit flags on matching violations are kept.
func (s *Service) Revalidate(ctx context.Context, id int64) (*BatchReport, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case StatusNew, StatusDivisionReview, StatusReturnedByDivision, StatusHQReview:
	default:
		return nil, invalidInput("submission %d in status %s has no staged records to validate", id, sub.Status)
	}
	res, err := s.validateSubmission(ctx, sub, sub.UploadToken, func(pct int) {
		s.progress.Report(sub.UploadToken, pct)
	})
	if err != nil {
		return nil, err
	}
	return res.Report, nil
}
