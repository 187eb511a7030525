package core

// validator.go drives the rule collaborator over a submission's staged set.
//
// One run:
//  1. Check the batch precondition (at least one NBIS-length bridge).
//  2. Emit format violations the mapper deferred (missing identity fields,
//     canonical codes whose value did not convert).
//  3. Evaluate every record with bounded parallelism. Results are collected
//     by record index so the output does not depend on scheduling.
//  4. Assemble the BatchReport.
//
// Nothing is persisted here.

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Built-in format rule identifiers.
const (
	RuleMissingIdentity = "FMT-001"
	RuleMissingSubKey   = "FMT-002"
	RuleInvalidValue    = "FMT-003"
)

// RuleViolation is one failure reported by the rule collaborator.
type RuleViolation struct {
	RuleID      string `json:"ruleId"`
	FieldCode   string `json:"fieldCode"`
	Description string `json:"description"`
}

// EvalInput is what the rule collaborator sees for one record.
type EvalInput struct {
	Record *StagedRecord
	// Related holds every record under the same bridge key, primary first.
	Related []*StagedRecord
	// Tally is the run's temporary-value tally. Read-only for rules.
	Tally *TemporaryTally
}

// RuleEvaluator is the external rule-evaluation collaborator.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, in EvalInput) ([]RuleViolation, error)
}

// ValidationInput is one validation request.
type ValidationInput struct {
	SubmissionID int64
	Records      []*StagedRecord
	Omitted      int
	// Progress, if set, receives percent-complete values. Calls may arrive
	// from several goroutines.
	Progress func(percent int)
}

// ValidationResult is the outcome of a successful run.
type ValidationResult struct {
	Report     *BatchReport
	Violations []Violation
}

// Validator is safe for concurrent use; all per-run state lives in the call.
type Validator struct {
	rules      RuleEvaluator
	classifier SeverityClassifier
	policy     TemporaryPolicy
	workers    int
	now        func() time.Time
}

// NewValidator creates a validator. workers <= 0 evaluates sequentially.
func NewValidator(rules RuleEvaluator, classifier SeverityClassifier, policy TemporaryPolicy, workers int) *Validator {
	if classifier == nil {
		classifier = NewPrefixClassifier(DefaultSeverityPrefixes, SeverityGeneral)
	}
	if workers <= 0 {
		workers = 1
	}
	return &Validator{
		rules:      rules,
		classifier: classifier,
		policy:     policy,
		workers:    workers,
		now:        time.Now,
	}
}

// Validate runs every rule over in.Records. A batch without a qualifying
// bridge fails with *FatalPreconditionError before any rule runs.
func (v *Validator) Validate(ctx context.Context, in ValidationInput) (*ValidationResult, error) {
	records := sortRecords(in.Records)

	nonQualifying, err := checkPrecondition(records)
	if err != nil {
		return nil, err
	}

	graph := BuildGraph(in.SubmissionID, records)
	tally := NewTemporaryTally(v.policy)

	results := make([][]Violation, len(records))
	var done atomic.Int64
	var lastPct atomic.Int64
	lastPct.Store(-1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tally.Observe(rec)

			found := formatViolations(rec)
			if v.rules != nil {
				rv, err := v.rules.Evaluate(gctx, EvalInput{Record: rec, Related: graph.Related(rec), Tally: tally})
				if err != nil {
					return fmt.Errorf("evaluate %s: %w", rec.Key, err)
				}
				found = append(found, rv...)
			}

			out := make([]Violation, 0, len(found))
			for _, f := range found {
				out = append(out, Violation{
					SubmissionID: in.SubmissionID,
					Key:          rec.Key,
					FieldCode:    normalizeCode(f.FieldCode),
					RuleID:       f.RuleID,
					Severity:     v.classifier.Classify(f.RuleID),
					Description:  f.Description,
				})
			}
			results[i] = out

			if in.Progress != nil {
				pct := done.Add(1) * 100 / int64(len(records))
				if prev := lastPct.Load(); pct > prev && lastPct.CompareAndSwap(prev, pct) {
					in.Progress(int(pct))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var violations []Violation
	for _, r := range results {
		violations = append(violations, r...)
	}
	SortViolations(violations)

	report := &BatchReport{
		SubmissionID:  in.SubmissionID,
		Uploaded:      make(map[EntityType]int),
		TotalUploaded: len(records),
		Omitted:       in.Omitted,
		Duplicates:    DetectDuplicates(records),
		ErrorCounts:   make(map[Severity]int, len(Severities)),
		NonQualifying: nonQualifying,
		Temporary:     tally.Counts(),
		TemporaryFree: tally.Free(),
		GeneratedAt:   v.now().UTC(),
	}
	for _, rec := range records {
		report.Uploaded[rec.Key.Entity]++
	}
	for _, s := range Severities {
		report.ErrorCounts[s] = 0
	}
	for _, vio := range violations {
		report.ErrorCounts[vio.Severity]++
	}

	return &ValidationResult{Report: report, Violations: violations}, nil
}

// checkPrecondition returns the non-qualifying bridges, or a fatal error if
// no bridge qualifies.
func checkPrecondition(records []*StagedRecord) ([]BridgeKey, error) {
	primaries := 0
	qualifying := 0
	var nonQualifying []BridgeKey
	for _, rec := range records {
		if rec.Key.Entity != EntityBridge {
			continue
		}
		primaries++
		if b, ok := rec.Data.(*Bridge); ok && b.QualifiesNBIS() {
			qualifying++
			continue
		}
		nonQualifying = append(nonQualifying, rec.Key.Bridge)
	}
	if qualifying == 0 {
		return nil, &FatalPreconditionError{Primaries: primaries, NonQualifying: nonQualifying}
	}
	return nonQualifying, nil
}

// formatViolations reports what the mapper let through.
func formatViolations(rec *StagedRecord) []RuleViolation {
	var out []RuleViolation

	if rec.Key.Entity == EntityBridge {
		if rec.Key.Bridge.StateCode == "" {
			out = append(out, RuleViolation{RuleID: RuleMissingIdentity, FieldCode: CodeStateCode, Description: "state code is required"})
		}
		if rec.Key.Bridge.BridgeNumber == "" {
			out = append(out, RuleViolation{RuleID: RuleMissingIdentity, FieldCode: CodeBridgeNumber, Description: "bridge number is required"})
		}
	} else if rec.Key.SubID == "" {
		if def, ok := Lookup(rec.Key.Entity); ok && len(def.SubKey) > 0 {
			out = append(out, RuleViolation{
				RuleID:      RuleMissingSubKey,
				FieldCode:   def.SubKey[0],
				Description: fmt.Sprintf("%s identifier is required", def.Label),
			})
		}
	}

	if len(rec.Extensions) > 0 && rec.Data != nil {
		canonical := make(map[string]struct{}, len(rec.Data.Codes()))
		for _, c := range rec.Data.Codes() {
			canonical[c] = struct{}{}
		}
		codes := make([]string, 0, len(rec.Extensions))
		for code := range rec.Extensions {
			if _, ok := canonical[code]; ok {
				codes = append(codes, code)
			}
		}
		sort.Strings(codes)
		for _, code := range codes {
			out = append(out, RuleViolation{
				RuleID:      RuleInvalidValue,
				FieldCode:   code,
				Description: fmt.Sprintf("value %q has the wrong format", rec.Extensions[code].String()),
			})
		}
	}
	return out
}

// sortRecords returns a copy ordered by entity then key. Duplicates keep
// their submitted order.
func sortRecords(in []*StagedRecord) []*StagedRecord {
	out := append([]*StagedRecord(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := entityOrder(out[i].Key.Entity), entityOrder(out[j].Key.Entity)
		if oi != oj {
			return oi < oj
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// SortViolations orders violations by record key, field, rule and description.
func SortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if ka, kb := a.Key.String(), b.Key.String(); ka != kb {
			return ka < kb
		}
		if a.FieldCode != b.FieldCode {
			return a.FieldCode < b.FieldCode
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Description < b.Description
	})
}

// CarryFlags copies audit flags from a previous run onto matching violations.
func CarryFlags(previous, current []Violation) {
	flags := make(map[string]ViolationFlags, len(previous))
	for _, p := range previous {
		if !p.Flags.Empty() {
			flags[p.FlagKey()] = p.Flags
		}
	}
	for i := range current {
		if f, ok := flags[current[i].FlagKey()]; ok {
			current[i].Flags = f
		}
	}
}
