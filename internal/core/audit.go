package core

import (
	"context"
	"log/slog"
	"time"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionUpload        AuditAction = "upload"
	ActionTransition    AuditAction = "transition"
	ActionMerge         AuditAction = "merge"
	ActionPurge         AuditAction = "purge"
	ActionPromote       AuditAction = "promote"
	ActionFlagChange    AuditAction = "flag_change"
	ActionCommentAdd    AuditAction = "comment_add"
	ActionCommentRemove AuditAction = "comment_remove"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	AuditLow      AuditSeverity = "low"
	AuditMedium   AuditSeverity = "medium"
	AuditHigh     AuditSeverity = "high"
	AuditCritical AuditSeverity = "critical"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           int64         `json:"id"`
	Action       AuditAction   `json:"action"`
	Severity     AuditSeverity `json:"severity"`
	SubmissionID int64         `json:"submissionId"`
	Actor        string        `json:"actor,omitempty"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	FromStatus   Status        `json:"fromStatus,omitempty"`
	ToStatus     Status        `json:"toStatus,omitempty"`
	RelatedID    int64         `json:"relatedId,omitempty"`
	RowsAffected int           `json:"rowsAffected,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AuditFilter narrows ListAudit. Zero fields match everything.
type AuditFilter struct {
	SubmissionID int64
	Action       AuditAction
	Limit        int
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if f.SubmissionID != 0 && e.SubmissionID != f.SubmissionID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction, to Status) AuditSeverity {
	switch action {
	case ActionPurge:
		if to == StatusDeleted {
			return AuditCritical
		}
		return AuditHigh
	case ActionMerge, ActionPromote:
		return AuditHigh
	case ActionCommentAdd, ActionCommentRemove:
		return AuditLow
	default:
		return AuditMedium
	}
}

// newAuditEntry builds an entry with actor and request metadata from ctx.
func newAuditEntry(ctx context.Context, action AuditAction, submissionID int64, from, to Status) *AuditEntry {
	return &AuditEntry{
		Action:       action,
		Severity:     determineSeverity(action, to),
		SubmissionID: submissionID,
		Actor:        GetActorFromContext(ctx),
		IPAddress:    GetIPAddressFromContext(ctx),
		UserAgent:    GetUserAgentFromContext(ctx),
		FromStatus:   from,
		ToStatus:     to,
		CreatedAt:    time.Now().UTC(),
	}
}

// appendAudit writes e inside tx. Audit failures abort the transaction so
// no state change goes unrecorded.
func appendAudit(ctx context.Context, tx Tx, e *AuditEntry) error {
	if err := tx.AppendAudit(ctx, e); err != nil {
		slog.Error("audit append failed", "action", e.Action, "submission_id", e.SubmissionID, "error", err)
		return err
	}
	return nil
}

// AuditLog returns audit entries, newest first.
func (s *Service) AuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListAudit(ctx, f)
		return err
	})
	return out, err
}
