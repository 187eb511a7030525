// Package memstore provides an in-memory transactional core.Store.
//
// Each write transaction works on a deep copy of the state and replaces the
// live state only when its function returns nil, so a failed transaction
// leaves nothing behind. Write transactions are serialized; readers see the
// last committed state. Identifiers come from store-wide counters and are
// never reused, even by rolled-back transactions.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// ErrReadOnly is returned by write methods called inside View.
var ErrReadOnly = errors.New("memstore: write in read-only transaction")

type state struct {
	submissions map[int64]*core.Submission
	tokens      map[string]int64
	records     map[int64]*core.StagedRecord
	violations  map[int64]core.Violation
	reports     map[int64][]*core.BatchReport
	comments    map[int64]core.Comment
	audit       []core.AuditEntry
	inventory   map[core.RecordKey]*core.StagedRecord
}

func newState() *state {
	return &state{
		submissions: make(map[int64]*core.Submission),
		tokens:      make(map[string]int64),
		records:     make(map[int64]*core.StagedRecord),
		violations:  make(map[int64]core.Violation),
		reports:     make(map[int64][]*core.BatchReport),
		comments:    make(map[int64]core.Comment),
		inventory:   make(map[core.RecordKey]*core.StagedRecord),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.submissions {
		c.submissions[k] = v.Clone()
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v.Clone()
	}
	for k, v := range s.violations {
		c.violations[k] = v
	}
	for k, v := range s.reports {
		c.reports[k] = append([]*core.BatchReport(nil), v...)
	}
	for k, v := range s.comments {
		c.comments[k] = v
	}
	c.audit = append([]core.AuditEntry(nil), s.audit...)
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	return c
}

// Store is an in-memory core.Store.
type Store struct {
	mu    sync.RWMutex
	state *state

	ids atomic.Int64

	faultMu   sync.Mutex
	faults    int
	faultErr  error
	commits   atomic.Int64
	rollbacks atomic.Int64
}

var _ core.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) nextID() int64 {
	return s.ids.Add(1)
}

// FailCommits makes the next n write transactions fail with err after their
// function has run. The transactions roll back.
func (s *Store) FailCommits(n int, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults, s.faultErr = n, err
}

func (s *Store) fault() error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if s.faults <= 0 {
		return nil
	}
	s.faults--
	return s.faultErr
}

// Stats returns the number of committed and rolled-back write transactions.
func (s *Store) Stats() (commits, rollbacks int64) {
	return s.commits.Load(), s.rollbacks.Load()
}

func (s *Store) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		s.rollbacks.Add(1)
		return err
	}
	if err := s.fault(); err != nil {
		s.rollbacks.Add(1)
		return err
	}
	s.state = tx.state
	s.commits.Add(1)
	return nil
}

func (s *Store) View(ctx context.Context, fn func(core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(&tx{store: s, state: snapshot, readOnly: true})
}

// Inventory returns the permanent records promoted so far, sorted by key.
func (s *Store) Inventory() []*core.StagedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.StagedRecord, 0, len(s.state.inventory))
	for _, r := range s.state.inventory {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

type tx struct {
	store    *Store
	state    *state
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, core.ErrNotFound)
}

// ---------------------------------------------------------------------------
// Submissions
// ---------------------------------------------------------------------------

func (t *tx) CreateSubmission(_ context.Context, sub *core.Submission) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, dup := t.state.tokens[sub.UploadToken]; dup {
		return fmt.Errorf("token %s: %w", sub.UploadToken, core.ErrDuplicateToken)
	}
	sub.ID = t.store.nextID()
	t.state.submissions[sub.ID] = sub.Clone()
	t.state.tokens[sub.UploadToken] = sub.ID
	return nil
}

func (t *tx) GetSubmission(_ context.Context, id int64) (*core.Submission, error) {
	sub, ok := t.state.submissions[id]
	if !ok {
		return nil, notFound("submission", id)
	}
	return sub.Clone(), nil
}

func (t *tx) GetSubmissionByToken(ctx context.Context, token string) (*core.Submission, error) {
	id, ok := t.state.tokens[token]
	if !ok {
		return nil, notFound("submission for token", token)
	}
	return t.GetSubmission(ctx, id)
}

func (t *tx) UpdateSubmission(_ context.Context, sub *core.Submission) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.submissions[sub.ID]; !ok {
		return notFound("submission", sub.ID)
	}
	t.state.submissions[sub.ID] = sub.Clone()
	return nil
}

func (t *tx) ListSubmissions(_ context.Context, f core.SubmissionFilter) ([]*core.Submission, error) {
	ids := make([]int64, 0, len(t.state.submissions))
	for id := range t.state.submissions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*core.Submission
	for _, id := range ids {
		sub := t.state.submissions[id]
		if !f.Matches(sub) {
			continue
		}
		out = append(out, sub.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Staged records
// ---------------------------------------------------------------------------

func (t *tx) InsertRecords(_ context.Context, recs []*core.StagedRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, r := range recs {
		if _, ok := t.state.submissions[r.SubmissionID]; !ok {
			return notFound("submission", r.SubmissionID)
		}
		r.ID = t.store.nextID()
		t.state.records[r.ID] = r.Clone()
	}
	return nil
}

func (t *tx) recordIDs(submissionID int64) []int64 {
	var ids []int64
	for id, r := range t.state.records {
		if r.SubmissionID == submissionID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *tx) LoadRecords(_ context.Context, submissionID int64) ([]*core.StagedRecord, error) {
	ids := t.recordIDs(submissionID)
	out := make([]*core.StagedRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.state.records[id].Clone())
	}
	return out, nil
}

func (t *tx) UpdateRecord(_ context.Context, rec *core.StagedRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.state.records[rec.ID]
	if !ok {
		return notFound("record", rec.ID)
	}
	next := cur.Clone()
	next.Status = rec.Status
	next.Data = nil
	if rec.Data != nil {
		next.Data = rec.Data.Clone()
	}
	next.Extensions = rec.Extensions.Clone()
	t.state.records[rec.ID] = next
	return nil
}

func (t *tx) DeleteRecords(_ context.Context, submissionID int64) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	ids := t.recordIDs(submissionID)
	for _, id := range ids {
		delete(t.state.records, id)
	}
	return len(ids), nil
}

func (t *tx) DeleteChildren(_ context.Context, submissionID int64, bridge core.BridgeKey) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	n := 0
	for id, r := range t.state.records {
		if r.SubmissionID == submissionID && r.Key.Bridge == bridge && r.Key.Entity != core.EntityBridge {
			delete(t.state.records, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) PromoteBatch(_ context.Context, submissionID int64) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range t.recordIDs(submissionID) {
		r := t.state.records[id]
		if r.Status != core.RecordActive {
			continue
		}
		t.state.inventory[r.Key] = r.Clone()
		n++
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Violations
// ---------------------------------------------------------------------------

func (t *tx) ReplaceViolations(ctx context.Context, submissionID int64, vs []core.Violation) error {
	if _, err := t.DeleteViolations(ctx, submissionID); err != nil {
		return err
	}
	for i := range vs {
		vs[i].ID = t.store.nextID()
		vs[i].SubmissionID = submissionID
		t.state.violations[vs[i].ID] = vs[i]
	}
	return nil
}

func (t *tx) ListViolations(_ context.Context, submissionID int64) ([]core.Violation, error) {
	var out []core.Violation
	for _, v := range t.state.violations {
		if v.SubmissionID == submissionID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) GetViolation(_ context.Context, id int64) (*core.Violation, error) {
	v, ok := t.state.violations[id]
	if !ok {
		return nil, notFound("violation", id)
	}
	return &v, nil
}

func (t *tx) SetViolationFlag(_ context.Context, id int64, flag core.ViolationFlag, mark *core.FlagMark) error {
	if err := t.writable(); err != nil {
		return err
	}
	v, ok := t.state.violations[id]
	if !ok {
		return notFound("violation", id)
	}
	v.Flags.Set(flag, mark)
	t.state.violations[id] = v
	return nil
}

func (t *tx) DeleteViolations(_ context.Context, submissionID int64) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	n := 0
	for id, v := range t.state.violations {
		if v.SubmissionID == submissionID {
			delete(t.state.violations, id)
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

func (t *tx) SaveReport(_ context.Context, r *core.BatchReport) error {
	if err := t.writable(); err != nil {
		return err
	}
	cp := *r
	t.state.reports[r.SubmissionID] = append(t.state.reports[r.SubmissionID], &cp)
	return nil
}

func (t *tx) LatestReport(_ context.Context, submissionID int64) (*core.BatchReport, error) {
	list := t.state.reports[submissionID]
	if len(list) == 0 {
		return nil, notFound("report for submission", submissionID)
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (t *tx) DeleteReports(_ context.Context, submissionID int64) ([]string, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	var keys []string
	for _, r := range t.state.reports[submissionID] {
		if r.ArtifactKey != "" {
			keys = append(keys, r.ArtifactKey)
		}
	}
	delete(t.state.reports, submissionID)
	return keys, nil
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

func (t *tx) AddComment(_ context.Context, c *core.Comment) error {
	if err := t.writable(); err != nil {
		return err
	}
	c.ID = t.store.nextID()
	t.state.comments[c.ID] = *c
	return nil
}

func (t *tx) ListComments(_ context.Context, submissionID int64, includeInactive bool) ([]core.Comment, error) {
	var out []core.Comment
	for _, c := range t.state.comments {
		if c.SubmissionID == submissionID && (c.Active || includeInactive) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeactivateComment(_ context.Context, submissionID, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	c, ok := t.state.comments[id]
	if !ok || c.SubmissionID != submissionID {
		return notFound("comment", id)
	}
	c.Active = false
	t.state.comments[id] = c
	return nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func (t *tx) AppendAudit(_ context.Context, e *core.AuditEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	e.ID = t.store.nextID()
	t.state.audit = append(t.state.audit, *e)
	return nil
}

func (t *tx) ListAudit(_ context.Context, f core.AuditFilter) ([]core.AuditEntry, error) {
	var out []core.AuditEntry
	for i := len(t.state.audit) - 1; i >= 0; i-- {
		e := t.state.audit[i]
		if !f.Matches(&e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
