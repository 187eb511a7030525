package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

func stagedFrom(t *testing.T, submissionID int64, doc string) []*core.StagedRecord {
	t.Helper()
	entries, err := core.DecodeSubmission(strings.NewReader(doc))
	require.NoError(t, err)
	return core.MapSubmission(submissionID, "NE", entries).Records
}

func TestRecordEncoding(t *testing.T) {
	recs := stagedFrom(t, 1, `[{"BL01":"31","BID01":"B1","BG02":120.5,"X99":"future",
		"inspections":[{"BIE01":"R","BIE02":"2024-01-10"}]}]`)
	require.Len(t, recs, 2)

	for _, r := range recs {
		data, ext, err := encodeRecord(r)
		require.NoError(t, err)

		got := &core.StagedRecord{ID: r.ID, Key: r.Key}
		require.NoError(t, decodeRecord(got, data, ext))
		for code, v := range r.Fields() {
			gv, ok := got.Field(code)
			require.True(t, ok, "field %s lost", code)
			assert.True(t, v.Equal(gv), "field %s = %v, want %v", code, gv, v)
		}
		assert.Equal(t, len(r.Extensions), len(got.Extensions))
	}
}

// openTestStore connects to INTAKE_TEST_DATABASE_URL and applies the schema.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("INTAKE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("INTAKE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, PoolConfig{URL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func newSubmission() *core.Submission {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &core.Submission{
		Submitter:   "NE",
		Full:        true,
		Status:      core.StatusInitialPending,
		UploadToken: uuid.NewString(),
		UploadedAt:  now,
		UpdatedAt:   now,
	}
}

func TestStore_Integration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub := newSubmission()
	require.NoError(t, s.WithTx(ctx, func(tx core.Tx) error {
		return tx.CreateSubmission(ctx, sub)
	}))
	require.NotZero(t, sub.ID)

	err := s.WithTx(ctx, func(tx core.Tx) error {
		dup := newSubmission()
		dup.UploadToken = sub.UploadToken
		return tx.CreateSubmission(ctx, dup)
	})
	assert.True(t, errors.Is(err, core.ErrDuplicateToken), "duplicate token error = %v", err)

	recs := stagedFrom(t, sub.ID, `[{"BL01":"31","BID01":"B1","BG01":"Y","BG02":100,
		"elements":[{"BE01":"12","BE03":5}]}]`)
	require.NoError(t, s.WithTx(ctx, func(tx core.Tx) error {
		return tx.InsertRecords(ctx, recs)
	}))

	var loaded []*core.StagedRecord
	require.NoError(t, s.View(ctx, func(tx core.Tx) error {
		var err error
		loaded, err = tx.LoadRecords(ctx, sub.ID)
		return err
	}))
	require.Len(t, loaded, 2)
	assert.Equal(t, recs[0].Key, loaded[0].Key)

	require.NoError(t, s.WithTx(ctx, func(tx core.Tx) error {
		vs := []core.Violation{{Key: recs[0].Key, FieldCode: "BG02", RuleID: "SAF-1", Severity: core.SeveritySafety}}
		if err := tx.ReplaceViolations(ctx, sub.ID, vs); err != nil {
			return err
		}
		return tx.SetViolationFlag(ctx, vs[0].ID, core.FlagReviewed, &core.FlagMark{By: "hq", At: time.Now()})
	}))

	var vs []core.Violation
	require.NoError(t, s.View(ctx, func(tx core.Tx) error {
		var err error
		vs, err = tx.ListViolations(ctx, sub.ID)
		return err
	}))
	require.Len(t, vs, 1)
	require.NotNil(t, vs[0].Flags.Reviewed)
	assert.Equal(t, "hq", vs[0].Flags.Reviewed.By)

	var promoted int
	require.NoError(t, s.WithTx(ctx, func(tx core.Tx) error {
		var err error
		promoted, err = tx.PromoteBatch(ctx, sub.ID)
		return err
	}))
	assert.Equal(t, 2, promoted)

	// A failing function rolls back everything it wrote.
	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx core.Tx) error {
		if _, err := tx.DeleteRecords(ctx, sub.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, s.View(ctx, func(tx core.Tx) error {
		recs, err := tx.LoadRecords(ctx, sub.ID)
		assert.Len(t, recs, 2)
		return err
	}))
}
