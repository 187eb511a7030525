package core

import (
	"strings"
	"time"
)

// Status is the workflow state of a submission.
type Status string

const (
	StatusInitialPending     Status = "initial_pending"
	StatusNew                Status = "new"
	StatusSubmitFailed       Status = "submit_failed"
	StatusDivisionReview     Status = "division_review"
	StatusReturnedByDivision Status = "returned_by_division"
	StatusHQReview           Status = "hq_review"
	StatusAccepted           Status = "accepted"
	StatusRejected           Status = "rejected"
	StatusCanceled           Status = "canceled"
	StatusValidationFailed   Status = "validation_failed"
	StatusDeleted            Status = "deleted"
	StatusMerged             Status = "merged"
)

// Terminal reports whether no further workflow step (other than delete) is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusCanceled, StatusDeleted, StatusMerged:
		return true
	}
	return false
}

// Submission is the header for one upload attempt by one submitter.
type Submission struct {
	ID            int64      `json:"id"`
	Submitter     string     `json:"submitter"`
	SubmitterName string     `json:"submitterName,omitempty"`
	Full          bool       `json:"full"`
	Status        Status     `json:"status"`
	UploadToken   string     `json:"uploadToken"`
	MergedInto    *int64     `json:"mergedInto,omitempty"`
	FileNames     []string   `json:"fileNames"`
	Omitted       int        `json:"omitted"`
	LastError     string     `json:"lastError,omitempty"`
	UploadedBy    string     `json:"uploadedBy"`
	UploadedAt    time.Time  `json:"uploadedAt"`
	ReviewedBy    string     `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	DecidedBy     string     `json:"decidedBy,omitempty"`
	DecidedAt     *time.Time `json:"decidedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// DisplayName returns the submitter's display name, falling back to the code.
func (s *Submission) DisplayName() string {
	if s.SubmitterName != "" {
		return s.SubmitterName
	}
	return s.Submitter
}

// Clone returns a deep copy.
func (s *Submission) Clone() *Submission {
	c := *s
	c.FileNames = append([]string(nil), s.FileNames...)
	if s.MergedInto != nil {
		v := *s.MergedInto
		c.MergedInto = &v
	}
	if s.ReviewedAt != nil {
		v := *s.ReviewedAt
		c.ReviewedAt = &v
	}
	if s.DecidedAt != nil {
		v := *s.DecidedAt
		c.DecidedAt = &v
	}
	return &c
}

// EntityType names a staged record kind.
type EntityType string

const (
	EntityBridge            EntityType = "bridge"
	EntityElement           EntityType = "element"
	EntityFeature           EntityType = "feature"
	EntityRoute             EntityType = "route"
	EntityInspection        EntityType = "inspection"
	EntityPostingEvaluation EntityType = "posting_evaluation"
	EntityPostingStatus     EntityType = "posting_status"
	EntitySpanSet           EntityType = "span_set"
	EntitySubstructureSet   EntityType = "substructure_set"
	EntityWork              EntityType = "work"
)

// BridgeKey identifies a bridge within one submitter's inventory.
type BridgeKey struct {
	StateCode    string `json:"stateCode"`    // BL01
	BridgeNumber string `json:"bridgeNumber"` // BID01
	Submitter    string `json:"submitter"`
}

func (k BridgeKey) String() string {
	return k.StateCode + "/" + k.BridgeNumber + "/" + k.Submitter
}

// Complete reports whether both identity fields were supplied.
func (k BridgeKey) Complete() bool {
	return k.StateCode != "" && k.BridgeNumber != ""
}

// RecordKey is the identity of a staged record within its submission.
// Primaries have an empty SubID; children carry their sub-key values.
type RecordKey struct {
	Entity EntityType `json:"entity"`
	Bridge BridgeKey  `json:"bridge"`
	SubID  string     `json:"subId,omitempty"`
}

func (k RecordKey) String() string {
	s := string(k.Entity) + ":" + k.Bridge.String()
	if k.SubID != "" {
		s += "#" + k.SubID
	}
	return s
}

// RecordStatus is the record-level flag carried by every staged row.
type RecordStatus string

const (
	RecordActive   RecordStatus = "active"
	RecordInactive RecordStatus = "inactive"
)

// StagedRecord is one canonicalized, not yet permanent entity occurrence.
type StagedRecord struct {
	ID           int64
	SubmissionID int64
	Key          RecordKey
	Status       RecordStatus
	Data         EntityData
	Extensions   Extensions
}

// Clone returns a deep copy.
func (r *StagedRecord) Clone() *StagedRecord {
	c := *r
	if r.Data != nil {
		c.Data = r.Data.Clone()
	}
	c.Extensions = r.Extensions.Clone()
	return &c
}

// Field returns a value by code, preferring the canonical column.
func (r *StagedRecord) Field(code string) (Value, bool) {
	code = normalizeCode(code)
	if r.Data != nil {
		if v, ok := r.Data.Get(code); ok {
			return v, true
		}
	}
	v, ok := r.Extensions[code]
	return v, ok
}

// Fields returns every canonical field with a value.
func (r *StagedRecord) Fields() map[string]Value {
	out := make(map[string]Value)
	if r.Data == nil {
		return out
	}
	for _, code := range r.Data.Codes() {
		if v, ok := r.Data.Get(code); ok {
			out[code] = v
		}
	}
	return out
}

// Severity classifies a rule violation.
type Severity string

const (
	SeveritySafety   Severity = "safety"
	SeverityCritical Severity = "critical"
	SeverityGeneral  Severity = "general"
)

// Severities lists every class in report order.
var Severities = []Severity{SeveritySafety, SeverityCritical, SeverityGeneral}

// ViolationFlag names an audit flag on a violation.
type ViolationFlag string

const (
	FlagReviewed  ViolationFlag = "reviewed"
	FlagIgnored   ViolationFlag = "ignored"
	FlagCorrected ViolationFlag = "corrected"
)

// ParseViolationFlag validates a flag name.
func ParseViolationFlag(s string) (ViolationFlag, error) {
	switch f := ViolationFlag(strings.ToLower(s)); f {
	case FlagReviewed, FlagIgnored, FlagCorrected:
		return f, nil
	}
	return "", invalidInput("unknown violation flag %q", s)
}

// FlagMark records who set a flag and when.
type FlagMark struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

// ViolationFlags are the reviewer annotations that survive re-validation.
type ViolationFlags struct {
	Reviewed  *FlagMark `json:"reviewed,omitempty"`
	Ignored   *FlagMark `json:"ignored,omitempty"`
	Corrected *FlagMark `json:"corrected,omitempty"`
}

// Set stores or clears one flag.
func (f *ViolationFlags) Set(flag ViolationFlag, mark *FlagMark) {
	switch flag {
	case FlagReviewed:
		f.Reviewed = mark
	case FlagIgnored:
		f.Ignored = mark
	case FlagCorrected:
		f.Corrected = mark
	}
}

// Empty reports whether no flag is set.
func (f ViolationFlags) Empty() bool {
	return f.Reviewed == nil && f.Ignored == nil && f.Corrected == nil
}

// Violation is one rule failure on one staged record.
type Violation struct {
	ID           int64          `json:"id"`
	SubmissionID int64          `json:"submissionId"`
	Key          RecordKey      `json:"key"`
	FieldCode    string         `json:"fieldCode"`
	RuleID       string         `json:"ruleId"`
	Severity     Severity       `json:"severity"`
	Description  string         `json:"description"`
	Flags        ViolationFlags `json:"flags"`
}

// FlagKey is the identity used to carry audit flags across validation runs.
func (v Violation) FlagKey() string {
	return v.Key.String() + "|" + v.FieldCode + "|" + v.RuleID
}

// CommentPhase tags a comment with the workflow phase it was written in.
type CommentPhase string

const (
	PhaseUpload   CommentPhase = "upload"
	PhaseReview   CommentPhase = "review"
	PhaseDecision CommentPhase = "decision"
)

// ParseCommentPhase validates a phase label.
func ParseCommentPhase(s string) (CommentPhase, error) {
	switch p := CommentPhase(strings.ToLower(s)); p {
	case PhaseUpload, PhaseReview, PhaseDecision:
		return p, nil
	}
	return "", invalidInput("unknown comment phase %q", s)
}

// Comment is a note attached to a submission. Comments are soft-deleted only.
type Comment struct {
	ID           int64        `json:"id"`
	SubmissionID int64        `json:"submissionId"`
	Phase        CommentPhase `json:"phase"`
	Text         string       `json:"text"`
	Author       string       `json:"author"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// DuplicateGroup is one identity key that occurs more than once.
type DuplicateGroup struct {
	Key   RecordKey `json:"key"`
	Count int       `json:"count"`
}

// BatchReport is the aggregate summary of one validation run.
type BatchReport struct {
	SubmissionID  int64                           `json:"submissionId"`
	Uploaded      map[EntityType]int              `json:"uploaded"`
	TotalUploaded int                             `json:"totalUploaded"`
	Omitted       int                             `json:"omitted"`
	Duplicates    map[EntityType][]DuplicateGroup `json:"duplicates"`
	ErrorCounts   map[Severity]int                `json:"errorCounts"`
	NonQualifying []BridgeKey                     `json:"nonQualifying"`
	Temporary     map[string]int64                `json:"temporary"`
	TemporaryFree bool                            `json:"temporaryFree"`
	GeneratedAt   time.Time                       `json:"generatedAt"`
	ArtifactKey   string                          `json:"artifactKey,omitempty"`
}

// DuplicateCount returns the number of duplicated keys across all entity types.
func (r *BatchReport) DuplicateCount() int {
	n := 0
	for _, groups := range r.Duplicates {
		n += len(groups)
	}
	return n
}

// ViolationCount returns the total number of violations in the run.
func (r *BatchReport) ViolationCount() int {
	n := 0
	for _, c := range r.ErrorCounts {
		n += c
	}
	return n
}
