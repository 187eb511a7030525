package core

import (
	"context"
	"log/slog"
)

// NotificationType tags a workflow notification.
type NotificationType string

const (
	NotifySubmitted          NotificationType = "submitted"
	NotifyMerged             NotificationType = "merged"
	NotifyApprovedByDivision NotificationType = "approved_by_division"
	NotifyReturnedByDivision NotificationType = "returned_by_division"
	NotifyAccepted           NotificationType = "accepted"
	NotifyRejected           NotificationType = "rejected"
)

// Attachment is a file sent with a notification.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// Notification describes one workflow event to deliver.
type Notification struct {
	SubmissionID  int64            `json:"submissionId"`
	Submitter     string           `json:"submitter"`
	SubmitterName string           `json:"submitterName"`
	Full          bool             `json:"full"`
	Type          NotificationType `json:"type"`
	Comment       string           `json:"comment,omitempty"`
	RelatedID     int64            `json:"relatedId,omitempty"`
	Attachments   []Attachment     `json:"attachments,omitempty"`
}

// Notifier delivers workflow notifications. A delivery failure is logged by
// the caller and never reverses the transition that triggered it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

func newNotification(s *Submission, typ NotificationType, comment string) Notification {
	return Notification{
		SubmissionID:  s.ID,
		Submitter:     s.Submitter,
		SubmitterName: s.DisplayName(),
		Full:          s.Full,
		Type:          typ,
		Comment:       comment,
	}
}

// notify sends n and logs any failure.
func (s *Service) notify(ctx context.Context, n Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Warn("notification failed",
			"submission_id", n.SubmissionID,
			"type", n.Type,
			"error", err,
		)
	}
}
