package core_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/BridgeIntake/internal/artifact"
	"github.com/JonMunkholm/BridgeIntake/internal/config"
	"github.com/JonMunkholm/BridgeIntake/internal/core"
	"github.com/JonMunkholm/BridgeIntake/internal/report"
	"github.com/JonMunkholm/BridgeIntake/internal/rules"
	"github.com/JonMunkholm/BridgeIntake/internal/storage/memstore"
)

const fullInventory = `[{"BL01":"31","BID01":"B1","BG01":"Y","BG02":120,"BC01":"7","BL05":41.2,"BL06":-96.1,"BW01":1987,
	"elements":[{"BE01":"12","BE03":100,"BCS01":90,"BCS02":10}],
	"inspections":[{"BIE01":"R","BIE02":"2024-01-10","BIE03":"2024-01-12","BIE05":24}]}]`

// partialUpdate changes B1 (without children) and adds B3.
const partialUpdate = `[{"BL01":"31","BID01":"B1","BG01":"Y","BG02":200,"BC01":"7","BL05":41.2,"BL06":-96.1,"BW01":1987},
	{"BL01":"31","BID01":"B3","BG01":"Y","BG02":50,"BC01":"8","BL05":41.3,"BL06":-96.2,"BW01":2001}]`

// noQualifying has no bridge on the NBIS length.
const noQualifying = `[{"BL01":"31","BID01":"B9","BG01":"N","BG02":5}]`

const badRating = `[{"BL01":"31","BID01":"B2","BG01":"Y","BG02":80,"BC01":"X","BC02":"7","BL05":41.2,"BL06":-96.1,"BW01":1990}]`

type recordingNotifier struct {
	mu   sync.Mutex
	sent []core.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n core.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) types(id int64) []core.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.NotificationType
	for _, n := range r.sent {
		if n.SubmissionID == id {
			out = append(out, n.Type)
		}
	}
	return out
}

type harness struct {
	svc         *core.Service
	store       *memstore.Store
	notifier    *recordingNotifier
	artifactDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Upload.ChunkDir = t.TempDir()
	cfg.Merge.BaseDelay = time.Millisecond
	cfg.Merge.MaxDelay = 5 * time.Millisecond

	chunks, err := core.NewChunkAssembler(cfg.Upload.ChunkDir, cfg.Upload.MaxChunkSize)
	require.NoError(t, err)
	artifactDir := t.TempDir()
	files, err := artifact.NewFileStore(artifactDir)
	require.NoError(t, err)

	h := &harness{store: memstore.New(), notifier: &recordingNotifier{}, artifactDir: artifactDir}
	h.svc, err = core.NewService(core.Deps{
		Store:     h.store,
		Chunks:    chunks,
		Artifacts: files,
		Rules:     rules.NewBuiltin(),
		Renderer:  report.Workbook{},
		Notifier:  h.notifier,
	}, cfg)
	require.NoError(t, err)
	return h
}

// finalize uploads doc in two chunks and finalizes it without waiting.
func (h *harness) finalize(t *testing.T, submitter, doc string, full bool) (string, int64) {
	t.Helper()
	ctx := context.Background()
	token := uuid.NewString()

	half := len(doc) / 2
	for seq, part := range []string{doc[:half], doc[half:]} {
		require.NoError(t, h.svc.WriteChunk(ctx, core.Chunk{Token: token, FileName: "inventory.json", Seq: seq, Data: []byte(part)}))
	}
	id, err := h.svc.Finalize(ctx, core.FinalizeRequest{
		Token:     token,
		Submitter: submitter,
		Full:      full,
		Comment:   "uploaded by " + submitter,
		Actor:     "uploader",
	})
	require.NoError(t, err)
	return token, id
}

func (h *harness) upload(t *testing.T, submitter, doc string, full bool) int64 {
	t.Helper()
	_, id := h.finalize(t, submitter, doc, full)
	h.wait(t, id)
	return id
}

func (h *harness) wait(t *testing.T, id int64) *core.PipelineResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := h.svc.WaitPipeline(ctx, id)
	require.NoError(t, err)
	return res
}

func (h *harness) status(t *testing.T, id int64) core.Status {
	t.Helper()
	sub, err := h.svc.GetSubmission(context.Background(), id)
	require.NoError(t, err)
	return sub.Status
}

// reports counts the report workbooks stored for a submission.
func (h *harness) reports(t *testing.T, id int64) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.artifactDir, "reports", strconv.FormatInt(id, 10)))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".xlsx") {
			n++
		}
	}
	return n
}

func fieldNum(t *testing.T, recs []*core.StagedRecord, bridge, code string) float64 {
	t.Helper()
	for _, r := range recs {
		if r.Key.Entity == core.EntityBridge && r.Key.Bridge.BridgeNumber == bridge {
			v, ok := r.Field(code)
			require.True(t, ok, "%s missing on %s", code, bridge)
			return v.Num
		}
	}
	t.Fatalf("bridge %s not found", bridge)
	return 0
}

func TestService_CleanFullSubmissionRoutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.upload(t, "NE", fullInventory, true)

	assert.Equal(t, core.StatusDivisionReview, h.status(t, id))

	rep, err := h.svc.Report(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.TotalUploaded)
	assert.NotEmpty(t, rep.ArtifactKey)

	vs, err := h.svc.Violations(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, vs)

	assert.Equal(t, []core.NotificationType{core.NotifySubmitted}, h.notifier.types(id))

	entries, err := h.svc.AuditLog(ctx, core.AuditFilter{SubmissionID: id, Action: core.ActionTransition})
	require.NoError(t, err)
	var path []string
	for _, e := range entries {
		path = append(path, string(e.FromStatus)+">"+string(e.ToStatus))
	}
	assert.ElementsMatch(t, []string{"initial_pending>new", "new>division_review"}, path)
}

func TestService_FatalPreconditionFailsValidation(t *testing.T) {
	h := newHarness(t)
	_, id := h.finalize(t, "NE", noQualifying, true)
	res := h.wait(t, id)

	assert.NotEmpty(t, res.Error)
	sub, err := h.svc.GetSubmission(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusValidationFailed, sub.Status)
	assert.NotEmpty(t, sub.LastError)
}

func TestService_IdempotentFinalize(t *testing.T) {
	h := newHarness(t)
	token, id := h.finalize(t, "NE", fullInventory, true)
	h.wait(t, id)

	again, err := h.svc.Finalize(context.Background(), core.FinalizeRequest{Token: token, Submitter: "NE", Full: true})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	subs, err := h.svc.ListSubmissions(context.Background(), core.SubmissionFilter{Submitter: "NE"})
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestService_PartialUpdateMerges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	target := h.upload(t, "NE", fullInventory, true)
	source := h.upload(t, "NE", partialUpdate, false)

	require.Equal(t, core.StatusNew, h.status(t, source), "partial waits for confirmation")
	d, err := h.svc.EvaluateSubmit(ctx, source)
	require.NoError(t, err)
	require.Equal(t, core.ActionUpdate, d.Action)
	assert.Equal(t, target, d.ExistingID)

	// Confirming a different action changes nothing.
	res, err := h.svc.Submit(ctx, source, core.ActionRoute, "division")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Contains(t, res.Message, "update")
	assert.Equal(t, core.StatusNew, h.status(t, source))

	res, err = h.svc.Submit(ctx, source, core.ActionUpdate, "division")
	require.NoError(t, err)
	require.True(t, res.Applied, res.Message)

	sub, err := h.svc.GetSubmission(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, core.StatusMerged, sub.Status)
	require.NotNil(t, sub.MergedInto)
	assert.Equal(t, target, *sub.MergedInto)

	recs, err := h.svc.Records(ctx, target)
	require.NoError(t, err)
	assert.Len(t, recs, 2, "B1 children replaced by the source's (none), B3 added")
	assert.Equal(t, 200.0, fieldNum(t, recs, "B1", "BG02"))
	assert.Equal(t, 50.0, fieldNum(t, recs, "B3", "BG02"))

	srcRecs, err := h.svc.Records(ctx, source)
	require.NoError(t, err)
	assert.Empty(t, srcRecs)

	rep, err := h.svc.Report(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.TotalUploaded)

	assert.Contains(t, h.notifier.types(source), core.NotifyMerged)
}

func TestService_MergeSubmissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	target := h.upload(t, "NE", fullInventory, true)
	source := h.upload(t, "NE", partialUpdate, false)

	stats, err := h.svc.MergeSubmissions(ctx, source, target, "hq")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 2, stats.ChildrenReplaced)
	assert.Equal(t, 2, stats.SourceRows)
	require.NotNil(t, stats.Report)

	entries, err := h.svc.AuditLog(ctx, core.AuditFilter{SubmissionID: source, Action: core.ActionMerge})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, target, entries[0].RelatedID)
	assert.Equal(t, 2, entries[0].RowsAffected)

	_, err = h.svc.MergeSubmissions(ctx, target, target, "hq")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestService_MergeRetriesTransientFault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	target := h.upload(t, "NE", fullInventory, true)
	source := h.upload(t, "NE", partialUpdate, false)

	_, rollbacksBefore := h.store.Stats()
	h.store.FailCommits(1, core.ErrTransient)

	_, err := h.svc.MergeSubmissions(ctx, source, target, "hq")
	require.NoError(t, err)
	_, rollbacks := h.store.Stats()
	assert.Equal(t, rollbacksBefore+1, rollbacks)
	assert.Equal(t, core.StatusMerged, h.status(t, source))
}

func TestService_MergeFailureLeavesBothUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	target := h.upload(t, "NE", fullInventory, true)
	source := h.upload(t, "NE", partialUpdate, false)

	h.store.FailCommits(100, core.ErrTransient)
	_, err := h.svc.MergeSubmissions(ctx, source, target, "hq")
	h.store.FailCommits(0, nil)
	require.Error(t, err)

	assert.Equal(t, core.StatusNew, h.status(t, source))
	srcRecs, err := h.svc.Records(ctx, source)
	require.NoError(t, err)
	assert.Len(t, srcRecs, 2)
	dstRecs, err := h.svc.Records(ctx, target)
	require.NoError(t, err)
	assert.Len(t, dstRecs, 3)
	assert.Equal(t, 120.0, fieldNum(t, dstRecs, "B1", "BG02"))
}

func TestService_FullSubmissionReplaces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.upload(t, "NE", fullInventory, true)
	replacement := h.upload(t, "NE", partialUpdate, true)

	d, err := h.svc.EvaluateSubmit(ctx, replacement)
	require.NoError(t, err)
	require.Equal(t, core.ActionReplace, d.Action)

	res, err := h.svc.Submit(ctx, replacement, core.ActionReplace, "division")
	require.NoError(t, err)
	require.True(t, res.Applied, res.Message)

	assert.Equal(t, core.StatusDivisionReview, h.status(t, replacement))
	assert.Equal(t, core.StatusCanceled, h.status(t, old))

	recs, err := h.svc.Records(ctx, old)
	require.NoError(t, err)
	assert.Empty(t, recs)
	comments, err := h.svc.ListComments(ctx, old, false)
	require.NoError(t, err)
	assert.Len(t, comments, 1, "comments survive the purge")
}

func TestService_CancelPurgesButKeepsComments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.upload(t, "NE", badRating, true)

	_, err := h.svc.AddComment(ctx, id, core.PhaseReview, "please fix BC01", "division")
	require.NoError(t, err)

	res, err := h.svc.Cancel(ctx, id, "uploader")
	require.NoError(t, err)
	require.True(t, res.Applied)

	recs, err := h.svc.Records(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, recs)
	vs, err := h.svc.Violations(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, vs)
	comments, err := h.svc.ListComments(ctx, id, false)
	require.NoError(t, err)
	assert.Len(t, comments, 2)

	// Canceled is terminal; a second cancel is advisory.
	res, err = h.svc.Cancel(ctx, id, "uploader")
	require.NoError(t, err)
	assert.False(t, res.Applied)
}

func TestService_IllegalTransitionIsAdvisory(t *testing.T) {
	h := newHarness(t)
	id := h.upload(t, "NE", fullInventory, true)

	res, err := h.svc.HQDecision(context.Background(), id, true, "hq", "")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, core.StatusDivisionReview, res.From)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, core.StatusDivisionReview, h.status(t, id))
}

func TestService_HQAcceptPromotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.upload(t, "NE", fullInventory, true)

	res, err := h.svc.DivisionReview(ctx, id, true, "division", "ok")
	require.NoError(t, err)
	require.True(t, res.Applied)

	res, err = h.svc.HQDecision(ctx, id, true, "hq", "accepted")
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, core.StatusAccepted, h.status(t, id))

	assert.Len(t, h.store.Inventory(), 3)

	entries, err := h.svc.AuditLog(ctx, core.AuditFilter{SubmissionID: id, Action: core.ActionPromote})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].RowsAffected)

	assert.Equal(t, []core.NotificationType{core.NotifySubmitted, core.NotifyApprovedByDivision, core.NotifyAccepted}, h.notifier.types(id))
}

func TestService_OneHQReviewPerSubmitter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.upload(t, "NE", fullInventory, true)
	_, err := h.svc.DivisionReview(ctx, first, true, "division", "")
	require.NoError(t, err)
	require.Equal(t, core.StatusHQReview, h.status(t, first))

	second := h.upload(t, "NE", fullInventory, true)
	d, err := h.svc.EvaluateSubmit(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, core.ActionBlocked, d.Action)
	assert.Equal(t, first, d.ExistingID)
	assert.Equal(t, core.StatusNew, h.status(t, second))
}

func TestService_RevalidateCarriesFlags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.upload(t, "NE", badRating, true)

	vs, err := h.svc.Violations(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, vs)
	target := vs[0]

	_, err = h.svc.FlagViolation(ctx, target.ID, core.FlagReviewed, true, "hq")
	require.NoError(t, err)

	_, err = h.svc.Revalidate(ctx, id)
	require.NoError(t, err)

	after, err := h.svc.Violations(ctx, id)
	require.NoError(t, err)
	require.Len(t, after, len(vs))
	var found bool
	for _, v := range after {
		if v.RuleID == target.RuleID && v.FieldCode == target.FieldCode && v.Key == target.Key {
			found = true
			require.NotNil(t, v.Flags.Reviewed)
			assert.Equal(t, "hq", v.Flags.Reviewed.By)
		}
	}
	assert.True(t, found, "violation %s not reproduced", target.RuleID)
}

func TestService_ConcurrentSubmitters(t *testing.T) {
	h := newHarness(t)
	submitters := []string{"NE", "IA", "KS", "MO"}

	ids := make([]int64, len(submitters))
	var g errgroup.Group
	for i, sub := range submitters {
		g.Go(func() error {
			doc := strings.ReplaceAll(fullInventory, `"B1"`, fmt.Sprintf(`"%s-1"`, sub))
			ids[i] = h.upload(t, sub, doc, true)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i, id := range ids {
		assert.Equal(t, core.StatusDivisionReview, h.status(t, id), "submitter %s", submitters[i])
	}
	assert.Equal(t, 0, h.svc.Limiter().Status().Active)
}

func TestService_CancelPipelineUnknown(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.svc.CancelPipeline(404), core.ErrNotFound)
	_, err := h.svc.PipelineStatus(404)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_RemoveCommentChecksOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.upload(t, "NE", fullInventory, true)
	other := h.upload(t, "IA", strings.ReplaceAll(fullInventory, `"B1"`, `"IA-1"`), true)

	c, err := h.svc.AddComment(ctx, owner, core.PhaseReview, "check BG02", "division")
	require.NoError(t, err)

	err = h.svc.RemoveComment(ctx, other, c.ID, "division")
	assert.ErrorIs(t, err, core.ErrNotFound)

	comments, err := h.svc.ListComments(ctx, owner, false)
	require.NoError(t, err)
	assert.Len(t, comments, 2, "comment stays active")

	entries, err := h.svc.AuditLog(ctx, core.AuditFilter{SubmissionID: other, Action: core.ActionCommentRemove})
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, h.svc.RemoveComment(ctx, owner, c.ID, "division"))
	comments, err = h.svc.ListComments(ctx, owner, false)
	require.NoError(t, err)
	assert.Len(t, comments, 1)
}

func TestService_RetriedMergeKeepsOneReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	target := h.upload(t, "NE", fullInventory, true)
	source := h.upload(t, "NE", partialUpdate, false)
	before := h.reports(t, target)

	h.store.FailCommits(1, core.ErrTransient)
	_, err := h.svc.MergeSubmissions(ctx, source, target, "hq")
	require.NoError(t, err)
	assert.Equal(t, before+1, h.reports(t, target))
}

func TestService_RetriedSubmitUpdateKeepsOneReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	target := h.upload(t, "NE", fullInventory, true)
	source := h.upload(t, "NE", partialUpdate, false)
	before := h.reports(t, target)

	h.store.FailCommits(1, core.ErrTransient)
	res, err := h.svc.Submit(ctx, source, core.ActionUpdate, "division")
	require.NoError(t, err)
	require.True(t, res.Applied, res.Message)
	assert.Equal(t, before+1, h.reports(t, target))
}

func TestService_FailedMergeLeavesNoReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	target := h.upload(t, "NE", fullInventory, true)
	source := h.upload(t, "NE", partialUpdate, false)
	before := h.reports(t, target)

	h.store.FailCommits(100, core.ErrTransient)
	_, err := h.svc.MergeSubmissions(ctx, source, target, "hq")
	h.store.FailCommits(0, nil)
	require.Error(t, err)
	assert.Equal(t, before, h.reports(t, target))
}
