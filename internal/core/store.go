package core

import (
	"context"
	"io"
)

// Store is the persistence boundary. WithTx runs fn in one read-write
// transaction and commits only if fn returns nil; View runs fn read-only.
// Implementations must not call fn more than once; retries happen above the
// store, at the transaction boundary.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// SubmissionFilter narrows ListSubmissions. Zero fields match everything.
type SubmissionFilter struct {
	Submitter string
	Statuses  []Status
	Limit     int
}

// Matches reports whether s passes the filter.
func (f SubmissionFilter) Matches(s *Submission) bool {
	if f.Submitter != "" && s.Submitter != f.Submitter {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// CreateSubmission assigns s.ID. Returns ErrDuplicateToken if the
	// upload token was used before.
	CreateSubmission(ctx context.Context, s *Submission) error
	GetSubmission(ctx context.Context, id int64) (*Submission, error)
	GetSubmissionByToken(ctx context.Context, token string) (*Submission, error)
	UpdateSubmission(ctx context.Context, s *Submission) error
	// ListSubmissions returns matches ordered by id.
	ListSubmissions(ctx context.Context, f SubmissionFilter) ([]*Submission, error)

	// InsertRecords assigns record IDs.
	InsertRecords(ctx context.Context, recs []*StagedRecord) error
	// LoadRecords returns a submission's staged records in id order.
	LoadRecords(ctx context.Context, submissionID int64) ([]*StagedRecord, error)
	// UpdateRecord replaces status, data and extensions of the row with rec.ID.
	UpdateRecord(ctx context.Context, rec *StagedRecord) error
	DeleteRecords(ctx context.Context, submissionID int64) (int, error)
	// DeleteChildren removes every non-primary row under one bridge key.
	DeleteChildren(ctx context.Context, submissionID int64, bridge BridgeKey) (int, error)
	// PromoteBatch copies the submission's staged rows into the permanent
	// inventory and returns the number of rows promoted.
	PromoteBatch(ctx context.Context, submissionID int64) (int, error)

	// ReplaceViolations discards the submission's violations and stores vs,
	// assigning IDs.
	ReplaceViolations(ctx context.Context, submissionID int64, vs []Violation) error
	ListViolations(ctx context.Context, submissionID int64) ([]Violation, error)
	GetViolation(ctx context.Context, id int64) (*Violation, error)
	SetViolationFlag(ctx context.Context, id int64, flag ViolationFlag, mark *FlagMark) error
	DeleteViolations(ctx context.Context, submissionID int64) (int, error)

	SaveReport(ctx context.Context, r *BatchReport) error
	LatestReport(ctx context.Context, submissionID int64) (*BatchReport, error)
	// DeleteReports removes all reports and returns their artifact keys.
	DeleteReports(ctx context.Context, submissionID int64) ([]string, error)

	AddComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, submissionID int64, includeInactive bool) ([]Comment, error)
	DeactivateComment(ctx context.Context, submissionID, id int64) error

	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// ArtifactStore holds uploaded files and generated report workbooks.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// ReportRenderer turns a batch report and its violations into a workbook.
type ReportRenderer interface {
	Render(r *BatchReport, violations []Violation) ([]byte, error)
	ContentType() string
}
