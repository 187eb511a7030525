package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// SubmitAction is the outcome of evaluating a submit request.
type SubmitAction string

const (
	// ActionRoute sends the submission to division review.
	ActionRoute SubmitAction = "route"
	// ActionReplace cancels the submitter's open division-review submission
	// and routes this one in its place.
	ActionReplace SubmitAction = "replace"
	// ActionUpdate merges this submission into the open one.
	ActionUpdate SubmitAction = "update"
	// ActionBlocked means the submission cannot be submitted now.
	ActionBlocked SubmitAction = "blocked"
)

// ParseSubmitAction validates an action name.
func ParseSubmitAction(s string) (SubmitAction, error) {
	switch a := SubmitAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionRoute, ActionReplace, ActionUpdate:
		return a, nil
	}
	return "", invalidInput("unknown submit action %q", s)
}

// SubmitDecision is shown to the initiator before a submit is confirmed.
type SubmitDecision struct {
	SubmissionID int64        `json:"submissionId"`
	Action       SubmitAction `json:"action"`
	ExistingID   int64        `json:"existingId,omitempty"`
	Message      string       `json:"message"`
}

// EvaluateSubmit decides what submitting id would do without changing
// anything.
func (s *Service) EvaluateSubmit(ctx context.Context, id int64) (*SubmitDecision, error) {
	var d *SubmitDecision
	err := s.store.View(ctx, func(tx Tx) error {
		sub, err := tx.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		d, err = evaluateSubmit(ctx, tx, sub)
		return err
	})
	return d, err
}

func evaluateSubmit(ctx context.Context, tx Tx, sub *Submission) (*SubmitDecision, error) {
	d := &SubmitDecision{SubmissionID: sub.ID}
	if sub.Status != StatusNew {
		d.Action = ActionBlocked
		d.Message = fmt.Sprintf("submission %d is %s; only new submissions can be submitted", sub.ID, sub.Status)
		return d, nil
	}

	open, err := tx.ListSubmissions(ctx, SubmissionFilter{
		Submitter: sub.Submitter,
		Statuses:  []Status{StatusDivisionReview, StatusHQReview},
	})
	if err != nil {
		return nil, fmt.Errorf("list open submissions: %w", err)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })

	var existing *Submission
	for _, o := range open {
		if o.ID == sub.ID {
			continue
		}
		if o.Status == StatusHQReview {
			d.Action = ActionBlocked
			d.ExistingID = o.ID
			d.Message = fmt.Sprintf("submission %d from %s is in HQ review; wait for the decision before submitting again",
				o.ID, sub.DisplayName())
			return d, nil
		}
		if existing == nil {
			existing = o
		}
	}

	switch {
	case existing == nil:
		d.Action = ActionRoute
		d.Message = fmt.Sprintf("submission %d will be sent to division review", sub.ID)
	case sub.Full:
		d.Action = ActionReplace
		d.ExistingID = existing.ID
		d.Message = fmt.Sprintf("submission %d is in division review; this full submission will cancel it and replace it", existing.ID)
	default:
		d.Action = ActionUpdate
		d.ExistingID = existing.ID
		d.Message = fmt.Sprintf("submission %d is in division review; this partial submission will be merged into it", existing.ID)
	}
	return d, nil
}

// Submit applies the submit decision for id. confirm must equal the action
// EvaluateSubmit currently returns; otherwise nothing changes and the result
// carries the current decision as its message.
func (s *Service) Submit(ctx context.Context, id int64, confirm SubmitAction, actor string) (*TransitionResult, error) {
	actor = actorOr(ctx, actor)

	var (
		result   *TransitionResult
		sub      *Submission
		decision *SubmitDecision
		stats    *MergeStats
		purged   []string
	)
	err := s.retry.Do(ctx, "submit", func() error {
		if stats != nil {
			// The previous attempt rolled back after writing its report.
			s.dropArtifact(stats.reportKey)
		}
		result, stats, purged = nil, nil, nil
		return s.store.WithTx(ctx, func(tx Tx) error {
			cur, err := tx.GetSubmission(ctx, id)
			if err != nil {
				return err
			}
			d, err := evaluateSubmit(ctx, tx, cur)
			if err != nil {
				return err
			}
			decision = d

			to := StatusDivisionReview
			if d.Action == ActionUpdate {
				to = StatusMerged
			}
			if d.Action == ActionBlocked {
				result = rejected(cur, to, d.Message)
				return nil
			}
			if d.Action != confirm {
				result = rejected(cur, to, fmt.Sprintf("confirmed %s but the current decision is %s: %s", confirm, d.Action, d.Message))
				return nil
			}

			from := cur.Status
			switch d.Action {
			case ActionRoute:
				if err := transition(ctx, tx, cur, StatusDivisionReview, actor, "routed to division review", s.now().UTC()); err != nil {
					return err
				}
			case ActionReplace:
				existing, err := tx.GetSubmission(ctx, d.ExistingID)
				if err != nil {
					return err
				}
				keys, err := s.purgeInTx(ctx, tx, existing, StatusCanceled, actor,
					fmt.Sprintf("replaced by full submission %d", cur.ID))
				if err != nil {
					return err
				}
				purged = keys
				if err := transition(ctx, tx, cur, StatusDivisionReview, actor,
					fmt.Sprintf("replaces submission %d", existing.ID), s.now().UTC()); err != nil {
					return err
				}
			case ActionUpdate:
				target, err := tx.GetSubmission(ctx, d.ExistingID)
				if err != nil {
					return err
				}
				st, err := s.mergeInTx(ctx, tx, cur, target, actor)
				if err != nil {
					if st != nil {
						s.dropArtifact(st.reportKey)
					}
					return err
				}
				stats = st
			}
			sub = cur
			result = &TransitionResult{SubmissionID: cur.ID, Applied: true, From: from, To: cur.Status, Message: d.Message}
			return nil
		})
	})
	if err != nil {
		if stats != nil {
			s.dropArtifact(stats.reportKey)
		}
		return nil, err
	}
	if !result.Applied {
		return result, nil
	}

	s.removeArtifacts(ctx, purged, decision.ExistingID, decision.Action == ActionReplace)

	slog.Info("submission submitted",
		"submission_id", id,
		"action", decision.Action,
		"existing_id", decision.ExistingID,
		"status", sub.Status,
	)

	switch decision.Action {
	case ActionUpdate:
		n := newNotification(sub, NotifyMerged, decision.Message)
		n.RelatedID = stats.TargetID
		s.notify(ctx, n)
	default:
		n := newNotification(sub, NotifySubmitted, "")
		n.RelatedID = decision.ExistingID
		if s.attachReport {
			if a, ok := s.reportAttachment(ctx, sub.ID); ok {
				n.Attachments = append(n.Attachments, a)
			}
		}
		s.notify(ctx, n)
	}
	return result, nil
}

// DivisionReview records the division reviewer's decision: approve moves
// the submission to HQ review, otherwise it is returned.
func (s *Service) DivisionReview(ctx context.Context, id int64, approve bool, actor, comment string) (*TransitionResult, error) {
	to, typ := StatusReturnedByDivision, NotifyReturnedByDivision
	if approve {
		to, typ = StatusHQReview, NotifyApprovedByDivision
	}
	return s.decide(ctx, id, to, typ, PhaseReview, actor, comment, nil)
}

// HQDecision records the final decision. Accepting promotes the staged
// records into the permanent inventory in the same transaction.
func (s *Service) HQDecision(ctx context.Context, id int64, accept bool, actor, comment string) (*TransitionResult, error) {
	if !accept {
		return s.decide(ctx, id, StatusRejected, NotifyRejected, PhaseDecision, actor, comment, nil)
	}
	return s.decide(ctx, id, StatusAccepted, NotifyAccepted, PhaseDecision, actor, comment,
		func(ctx context.Context, tx Tx, sub *Submission, actor string) error {
			n, err := tx.PromoteBatch(ctx, sub.ID)
			if err != nil {
				return fmt.Errorf("promote batch: %w", err)
			}
			entry := newAuditEntry(ctx, ActionPromote, sub.ID, "", "")
			entry.Actor = actor
			entry.RowsAffected = n
			entry.Detail = fmt.Sprintf("%d row(s) promoted", n)
			return appendAudit(ctx, tx, entry)
		})
}

type decideHook func(ctx context.Context, tx Tx, sub *Submission, actor string) error

// decide runs a reviewer transition with an optional comment and hook, then
// notifies the submitter.
func (s *Service) decide(ctx context.Context, id int64, to Status, typ NotificationType, phase CommentPhase,
	actor, comment string, hook decideHook) (*TransitionResult, error) {
	actor = actorOr(ctx, actor)

	var result *TransitionResult
	var sub *Submission
	err := s.retry.Do(ctx, string(to), func() error {
		result = nil
		return s.store.WithTx(ctx, func(tx Tx) error {
			cur, err := tx.GetSubmission(ctx, id)
			if err != nil {
				return err
			}
			if !CanTransition(cur.Status, to) {
				result = illegal(cur, to)
				return nil
			}
			if to == StatusHQReview {
				// Only one submission per submitter may sit in HQ review.
				busy, err := tx.ListSubmissions(ctx, SubmissionFilter{Submitter: cur.Submitter, Statuses: []Status{StatusHQReview}})
				if err != nil {
					return err
				}
				for _, b := range busy {
					if b.ID != cur.ID {
						result = rejected(cur, to, fmt.Sprintf("submission %d from %s is already in HQ review", b.ID, cur.DisplayName()))
						return nil
					}
				}
			}

			from := cur.Status
			if err := transition(ctx, tx, cur, to, actor, comment, s.now().UTC()); err != nil {
				return err
			}
			if hook != nil {
				if err := hook(ctx, tx, cur, actor); err != nil {
					return err
				}
			}
			if comment != "" {
				if err := addComment(ctx, tx, cur.ID, phase, comment, actor, s.now().UTC()); err != nil {
					return err
				}
			}
			sub = cur
			result = &TransitionResult{SubmissionID: id, Applied: true, From: from, To: to}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Applied {
		s.notify(ctx, newNotification(sub, typ, comment))
	}
	return result, nil
}

// Cancel withdraws a non-terminal submission and purges its staged rows,
// violations, reports and files. Comments are kept. A running pipeline is
// stopped first.
func (s *Service) Cancel(ctx context.Context, id int64, actor string) (*TransitionResult, error) {
	if p, ok := s.pipeline(id); ok {
		p.cancel()
		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.purge(ctx, id, StatusCanceled, actor)
}

// Delete removes a submission administratively. Allowed from any status
// except deleted.
func (s *Service) Delete(ctx context.Context, id int64, actor string) (*TransitionResult, error) {
	if p, ok := s.pipeline(id); ok {
		p.cancel()
		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.purge(ctx, id, StatusDeleted, actor)
}

func (s *Service) purge(ctx context.Context, id int64, to Status, actor string) (*TransitionResult, error) {
	actor = actorOr(ctx, actor)

	var result *TransitionResult
	var keys []string
	err := s.retry.Do(ctx, string(to), func() error {
		result, keys = nil, nil
		return s.store.WithTx(ctx, func(tx Tx) error {
			cur, err := tx.GetSubmission(ctx, id)
			if err != nil {
				return err
			}
			if !CanTransition(cur.Status, to) {
				result = illegal(cur, to)
				return nil
			}
			from := cur.Status
			keys, err = s.purgeInTx(ctx, tx, cur, to, actor, "")
			if err != nil {
				return err
			}
			result = &TransitionResult{SubmissionID: id, Applied: true, From: from, To: to}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Applied {
		s.removeArtifacts(ctx, keys, id, true)
		if err := s.chunks.Discard(s.tokenFor(ctx, id)); err != nil && !errors.Is(err, ErrInvalidInput) {
			slog.Warn("discard chunks after purge failed", "submission_id", id, "error", err)
		}
	}
	return result, nil
}

// purgeInTx deletes staged rows, violations and reports of sub and moves it
// to `to`. Returns the artifact keys of the removed reports; files are
// deleted by the caller after commit.
func (s *Service) purgeInTx(ctx context.Context, tx Tx, sub *Submission, to Status, actor, detail string) ([]string, error) {
	rows, err := tx.DeleteRecords(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("delete records: %w", err)
	}
	vs, err := tx.DeleteViolations(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("delete violations: %w", err)
	}
	keys, err := tx.DeleteReports(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("delete reports: %w", err)
	}

	if err := transition(ctx, tx, sub, to, actor, detail, s.now().UTC()); err != nil {
		return nil, err
	}

	entry := newAuditEntry(ctx, ActionPurge, sub.ID, "", to)
	entry.Actor = actor
	entry.RowsAffected = rows + vs
	entry.Detail = fmt.Sprintf("records=%d violations=%d reports=%d", rows, vs, len(keys))
	if err := appendAudit(ctx, tx, entry); err != nil {
		return nil, err
	}
	return keys, nil
}

// removeArtifacts deletes report workbooks and, when uploads is set, the
// archived upload files of id. Failures leave orphans and are logged.
func (s *Service) removeArtifacts(ctx context.Context, keys []string, id int64, uploads bool) {
	if s.artifacts == nil {
		return
	}
	ctx = detachedContext(ctx)
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := s.artifacts.Delete(ctx, k); err != nil {
			slog.Warn("delete report artifact failed", "key", k, "error", err)
		}
	}
	if uploads && id != 0 {
		for _, prefix := range []string{uploadPrefix(id), reportPrefix(id)} {
			if err := s.artifacts.DeletePrefix(ctx, prefix); err != nil {
				slog.Warn("delete artifacts failed", "prefix", prefix, "error", err)
			}
		}
	}
}

func (s *Service) tokenFor(ctx context.Context, id int64) string {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return ""
	}
	return sub.UploadToken
}

// reportAttachment loads the latest report workbook of id.
func (s *Service) reportAttachment(ctx context.Context, id int64) (Attachment, bool) {
	if s.renderer == nil {
		return Attachment{}, false
	}
	r, rc, err := s.ReportArtifact(ctx, id)
	if err != nil {
		slog.Debug("no report to attach", "submission_id", id, "error", err)
		return Attachment{}, false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		slog.Warn("read report artifact failed", "submission_id", id, "key", r.ArtifactKey, "error", err)
		return Attachment{}, false
	}
	return Attachment{
		Name:        fmt.Sprintf("submission-%d-report.xlsx", id),
		ContentType: s.renderer.ContentType(),
		Data:        data,
	}, true
}

// FlagViolation sets or clears an audit flag on a violation. Flags survive
// re-validation of the same submission.
func (s *Service) FlagViolation(ctx context.Context, violationID int64, flag ViolationFlag, set bool, actor string) (*Violation, error) {
	actor = actorOr(ctx, actor)
	var out *Violation
	err := s.store.WithTx(ctx, func(tx Tx) error {
		v, err := tx.GetViolation(ctx, violationID)
		if err != nil {
			return err
		}
		var mark *FlagMark
		if set {
			mark = &FlagMark{By: actor, At: s.now().UTC()}
		}
		if err := tx.SetViolationFlag(ctx, violationID, flag, mark); err != nil {
			return err
		}
		v.Flags.Set(flag, mark)

		entry := newAuditEntry(ctx, ActionFlagChange, v.SubmissionID, "", "")
		entry.Actor = actor
		entry.RelatedID = violationID
		entry.Detail = fmt.Sprintf("%s=%v on %s %s", flag, set, v.RuleID, v.Key)
		if err := appendAudit(ctx, tx, entry); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// AddComment attaches a comment to a submission.
func (s *Service) AddComment(ctx context.Context, id int64, phase CommentPhase, text, actor string) (*Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidInput("comment text is required")
	}
	actor = actorOr(ctx, actor)

	var out *Comment
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetSubmission(ctx, id); err != nil {
			return err
		}
		c := &Comment{SubmissionID: id, Phase: phase, Text: text, Author: actor, Active: true, CreatedAt: s.now().UTC()}
		if err := tx.AddComment(ctx, c); err != nil {
			return err
		}
		entry := newAuditEntry(ctx, ActionCommentAdd, id, "", "")
		entry.Actor = actor
		entry.RelatedID = c.ID
		if err := appendAudit(ctx, tx, entry); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func addComment(ctx context.Context, tx Tx, id int64, phase CommentPhase, text, actor string, now time.Time) error {
	return tx.AddComment(ctx, &Comment{
		SubmissionID: id,
		Phase:        phase,
		Text:         text,
		Author:       actor,
		Active:       true,
		CreatedAt:    now,
	})
}

// ListComments returns a submission's comments. Soft-deleted comments are
// included only when includeInactive is set.
func (s *Service) ListComments(ctx context.Context, id int64, includeInactive bool) ([]Comment, error) {
	var out []Comment
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetSubmission(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.ListComments(ctx, id, includeInactive)
		return err
	})
	return out, err
}

// RemoveComment soft-deletes a comment. The comment must belong to
// submissionID.
func (s *Service) RemoveComment(ctx context.Context, submissionID, commentID int64, actor string) error {
	actor = actorOr(ctx, actor)
	return s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.DeactivateComment(ctx, submissionID, commentID); err != nil {
			return err
		}
		entry := newAuditEntry(ctx, ActionCommentRemove, submissionID, "", "")
		entry.Actor = actor
		entry.RelatedID = commentID
		return appendAudit(ctx, tx, entry)
	})
}
