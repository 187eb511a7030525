package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// transitions lists the legal edges. Every status may also move to
// deleted, and every non-terminal status to canceled; those are added in
// init.
var transitions = map[Status][]Status{
	StatusInitialPending: {StatusNew, StatusValidationFailed, StatusSubmitFailed, StatusDivisionReview},
	StatusNew:            {StatusDivisionReview, StatusValidationFailed, StatusSubmitFailed, StatusMerged},
	StatusDivisionReview: {StatusReturnedByDivision, StatusHQReview, StatusMerged},
	StatusHQReview:       {StatusAccepted, StatusRejected},
}

var allStatuses = []Status{
	StatusInitialPending, StatusNew, StatusSubmitFailed, StatusDivisionReview,
	StatusReturnedByDivision, StatusHQReview, StatusAccepted, StatusRejected,
	StatusCanceled, StatusValidationFailed, StatusDeleted, StatusMerged,
}

func init() {
	for _, s := range allStatuses {
		if s == StatusDeleted {
			continue
		}
		if !s.Terminal() {
			transitions[s] = append(transitions[s], StatusCanceled)
		}
		transitions[s] = append(transitions[s], StatusDeleted)
	}
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

// TransitionResult is returned by every workflow operation. An illegal move
// is a normal outcome: Applied is false, Message explains why, and nothing
// was changed.
type TransitionResult struct {
	SubmissionID int64  `json:"submissionId"`
	Applied      bool   `json:"applied"`
	From         Status `json:"from"`
	To           Status `json:"to"`
	Message      string `json:"message,omitempty"`
}

func rejected(sub *Submission, to Status, msg string) *TransitionResult {
	return &TransitionResult{SubmissionID: sub.ID, From: sub.Status, To: to, Message: msg}
}

func illegal(sub *Submission, to Status) *TransitionResult {
	return rejected(sub, to, fmt.Sprintf("submission %d cannot move from %s to %s", sub.ID, sub.Status, to))
}

// transition moves sub to `to` inside tx, stamps the actor fields the
// target status carries and writes an audit entry. Returns
// ErrIllegalTransition (with sub unchanged) if the edge does not exist.
func transition(ctx context.Context, tx Tx, sub *Submission, to Status, actor, detail string, now time.Time) error {
	from := sub.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	next := sub.Clone()
	next.Status = to
	next.UpdatedAt = now
	switch to {
	case StatusHQReview, StatusReturnedByDivision:
		next.ReviewedBy = actor
		next.ReviewedAt = &now
	case StatusAccepted, StatusRejected:
		next.DecidedBy = actor
		next.DecidedAt = &now
	}

	if err := tx.UpdateSubmission(ctx, next); err != nil {
		return fmt.Errorf("update submission %d: %w", sub.ID, err)
	}

	entry := newAuditEntry(ctx, ActionTransition, sub.ID, from, to)
	entry.Actor = actor
	entry.Detail = detail
	entry.CreatedAt = now
	if err := appendAudit(ctx, tx, entry); err != nil {
		return err
	}

	*sub = *next
	return nil
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", invalidInput("unknown status %q", s)
}
