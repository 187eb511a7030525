package core

// merge.go folds one submission's staged rows into another's.
//
// Everything runs in one store transaction:
//
//	reconcile primaries  overwrite by identity key, else insert a clone
//	replace children     all target children under a reconciled bridge key
//	                     are replaced by the source's children
//	orphan children      children whose bridge has no source primary are
//	                     reconciled one by one by full key
//	delete source rows
//	re-validate target   new violations, report and workbook
//	source -> merged     with MergedInto set
//
// Any failure rolls the whole transaction back, so the source is left in
// its previous status and the call can be retried.

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MergeStats summarizes one merge.
type MergeStats struct {
	SourceID         int64        `json:"sourceId"`
	TargetID         int64        `json:"targetId"`
	Updated          int          `json:"updated"`
	Inserted         int          `json:"inserted"`
	ChildrenReplaced int          `json:"childrenReplaced"`
	SourceRows       int          `json:"sourceRows"`
	Report           *BatchReport `json:"report"`

	reportKey string
}

// MergeSubmissions merges source into target. Both must belong to the same
// submitter and neither may be terminal. The transaction is retried on
// transient storage faults.
func (s *Service) MergeSubmissions(ctx context.Context, sourceID, targetID int64, actor string) (*MergeStats, error) {
	if sourceID == targetID {
		return nil, invalidInput("cannot merge submission %d into itself", sourceID)
	}
	actor = actorOr(ctx, actor)

	var stats *MergeStats
	var source *Submission
	err := s.retry.Do(ctx, "merge", func() error {
		if stats != nil {
			// The previous attempt rolled back after writing its report.
			s.dropArtifact(stats.reportKey)
			stats = nil
		}
		return s.store.WithTx(ctx, func(tx Tx) error {
			src, err := tx.GetSubmission(ctx, sourceID)
			if err != nil {
				return err
			}
			dst, err := tx.GetSubmission(ctx, targetID)
			if err != nil {
				return err
			}
			st, err := s.mergeInTx(ctx, tx, src, dst, actor)
			if err != nil {
				if st != nil {
					s.dropArtifact(st.reportKey)
				}
				return err
			}
			stats, source = st, src
			return nil
		})
	})
	if err != nil {
		if stats != nil {
			s.dropArtifact(stats.reportKey)
		}
		return nil, err
	}

	n := newNotification(source, NotifyMerged, "")
	n.RelatedID = targetID
	s.notify(ctx, n)
	return stats, nil
}

// mergeInTx reconciles source into target inside tx and moves source to
// merged. On error the returned stats, if any, carry the key of a report
// workbook already written; the caller removes it once the transaction has
// rolled back.
func (s *Service) mergeInTx(ctx context.Context, tx Tx, source, target *Submission, actor string) (*MergeStats, error) {
	start := time.Now()
	log := slog.With("source_id", source.ID, "target_id", target.ID)

	switch {
	case source.ID == target.ID:
		return nil, invalidInput("cannot merge submission %d into itself", source.ID)
	case source.Submitter != target.Submitter:
		return nil, invalidInput("submissions %d and %d belong to different submitters", source.ID, target.ID)
	case target.Status.Terminal():
		return nil, invalidInput("merge target %d is %s", target.ID, target.Status)
	case !CanTransition(source.Status, StatusMerged):
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, source.Status, StatusMerged)
	}

	srcRecs, err := tx.LoadRecords(ctx, source.ID)
	if err != nil {
		return nil, fmt.Errorf("load source records: %w", err)
	}
	dstRecs, err := tx.LoadRecords(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("load target records: %w", err)
	}

	stats := &MergeStats{SourceID: source.ID, TargetID: target.ID}
	index := make(map[RecordKey]*StagedRecord, len(dstRecs))
	for _, r := range dstRecs {
		if _, dup := index[r.Key]; !dup {
			index[r.Key] = r
		}
	}

	for _, node := range BuildGraph(source.ID, srcRecs).Nodes() {
		var primaries, children []*StagedRecord
		if node.Primary != nil {
			primaries = append(primaries, node.Primary)
		}
		for _, r := range node.Related() {
			switch {
			case r == node.Primary:
			case r.Key.Entity == EntityBridge:
				primaries = append(primaries, r)
			default:
				children = append(children, r)
			}
		}

		if len(primaries) == 0 {
			// No source primary: keep target children, reconcile by full key.
			if err := reconcile(ctx, tx, target.ID, children, index, stats); err != nil {
				return stats, err
			}
			continue
		}

		if err := reconcile(ctx, tx, target.ID, primaries, index, stats); err != nil {
			return stats, err
		}
		removed, err := tx.DeleteChildren(ctx, target.ID, node.Key)
		if err != nil {
			return stats, fmt.Errorf("delete children of %s: %w", node.Key, err)
		}
		stats.ChildrenReplaced += removed
		for k := range index {
			if k.Bridge == node.Key && k.Entity != EntityBridge {
				delete(index, k)
			}
		}
		clones := make([]*StagedRecord, 0, len(children))
		for _, c := range children {
			clones = append(clones, cloneInto(c, target.ID))
		}
		if len(clones) > 0 {
			if err := tx.InsertRecords(ctx, clones); err != nil {
				return stats, fmt.Errorf("insert children of %s: %w", node.Key, err)
			}
			stats.Inserted += len(clones)
		}
	}

	if stats.SourceRows, err = tx.DeleteRecords(ctx, source.ID); err != nil {
		return stats, fmt.Errorf("delete source records: %w", err)
	}

	merged, err := tx.LoadRecords(ctx, target.ID)
	if err != nil {
		return stats, fmt.Errorf("reload target records: %w", err)
	}
	res, err := s.runValidation(ctx, target, merged, nil)
	if err != nil {
		return stats, fmt.Errorf("validate merged target: %w", err)
	}
	stats.reportKey = res.Report.ArtifactKey
	if err := persistValidation(ctx, tx, res); err != nil {
		return stats, err
	}
	stats.Report = res.Report

	src := source.Clone()
	src.MergedInto = &target.ID
	detail := fmt.Sprintf("merged into %d", target.ID)
	if err := transition(ctx, tx, src, StatusMerged, actor, detail, s.now().UTC()); err != nil {
		return stats, err
	}

	entry := newAuditEntry(ctx, ActionMerge, source.ID, "", "")
	entry.Actor = actor
	entry.RelatedID = target.ID
	entry.RowsAffected = stats.Updated + stats.Inserted
	entry.Detail = fmt.Sprintf("updated=%d inserted=%d children_replaced=%d source_rows=%d",
		stats.Updated, stats.Inserted, stats.ChildrenReplaced, stats.SourceRows)
	if err := appendAudit(ctx, tx, entry); err != nil {
		return stats, err
	}

	*source = *src
	log.Info("submissions merged",
		"updated", stats.Updated,
		"inserted", stats.Inserted,
		"children_replaced", stats.ChildrenReplaced,
		"source_rows", stats.SourceRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

// reconcile overwrites the target row sharing each record's key, or inserts
// a clone under the target submission. Records are applied in order, so a
// later duplicate overwrites an earlier one.
func reconcile(ctx context.Context, tx Tx, targetID int64, recs []*StagedRecord, index map[RecordKey]*StagedRecord, stats *MergeStats) error {
	for _, r := range recs {
		if existing, ok := index[r.Key]; ok {
			existing.Status = r.Status
			existing.Data = nil
			if r.Data != nil {
				existing.Data = r.Data.Clone()
			}
			existing.Extensions = r.Extensions.Clone()
			if err := tx.UpdateRecord(ctx, existing); err != nil {
				return fmt.Errorf("update %s: %w", r.Key, err)
			}
			stats.Updated++
			continue
		}
		c := cloneInto(r, targetID)
		if err := tx.InsertRecords(ctx, []*StagedRecord{c}); err != nil {
			return fmt.Errorf("insert %s: %w", r.Key, err)
		}
		index[c.Key] = c
		stats.Inserted++
	}
	return nil
}

func cloneInto(r *StagedRecord, submissionID int64) *StagedRecord {
	c := r.Clone()
	c.ID = 0
	c.SubmissionID = submissionID
	return c
}
