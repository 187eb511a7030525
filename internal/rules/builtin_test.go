package rules

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

func stage(t *testing.T, doc string) (*core.Graph, []*core.StagedRecord) {
	t.Helper()
	entries, err := core.DecodeSubmission(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeSubmission() error = %v", err)
	}
	recs := core.MapSubmission(1, "NE", entries).Records
	return core.BuildGraph(1, recs), recs
}

func ruleIDs(vs []core.RuleViolation) []string {
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.RuleID+"@"+v.FieldCode)
	}
	sort.Strings(ids)
	return ids
}

func evaluateAll(t *testing.T, e core.RuleEvaluator, doc string, tally *core.TemporaryTally) map[core.EntityType][]string {
	t.Helper()
	g, recs := stage(t, doc)
	out := make(map[core.EntityType][]string)
	for _, r := range recs {
		if tally != nil {
			tally.Observe(r)
		}
		vs, err := e.Evaluate(context.Background(), core.EvalInput{Record: r, Related: g.Related(r), Tally: tally})
		if err != nil {
			t.Fatalf("Evaluate(%s) error = %v", r.Key, err)
		}
		out[r.Key.Entity] = append(out[r.Key.Entity], ruleIDs(vs)...)
	}
	return out
}

func TestBuiltin_CleanBridge(t *testing.T) {
	doc := `[{"BL01":"31","BID01":"B1","BG01":"Y","BG02":120,"BC01":"7","BL05":41.2,"BL06":-96.1,"BW01":1987,
		"elements":[{"BE01":"12","BE03":100,"BCS01":90,"BCS02":10}],
		"inspections":[{"BIE01":"R","BIE02":"2024-01-10","BIE03":"2024-01-12","BIE05":24}]}]`

	got := evaluateAll(t, NewBuiltin(), doc, core.NewTemporaryTally(core.DefaultTemporaryPolicy()))
	for entity, ids := range got {
		if len(ids) != 0 {
			t.Errorf("%s violations = %v, want none", entity, ids)
		}
	}
}

func TestBuiltin_Rules(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		entity core.EntityType
		want   []string
	}{
		{
			name:   "bad condition rating",
			doc:    `[{"BL01":"31","BID01":"B1","BC01":"X","BC02":"N"}]`,
			entity: core.EntityBridge,
			want:   []string{RuleConditionRating + "@BC01"},
		},
		{
			name:   "poor bridge without posting status",
			doc:    `[{"BL01":"31","BID01":"B1","BC03":"3"}]`,
			entity: core.EntityBridge,
			want:   []string{RulePoorNoPosting + "@BPS01"},
		},
		{
			name:   "poor bridge with posting status",
			doc:    `[{"BL01":"31","BID01":"B1","BC03":"3","posting_statuses":[{"BPS01":"P","BPS02":"2024-02-01"}]}]`,
			entity: core.EntityBridge,
			want:   nil,
		},
		{
			name:   "coordinates out of range",
			doc:    `[{"BL01":"31","BID01":"B1","BL05":95,"BL06":-200}]`,
			entity: core.EntityBridge,
			want:   []string{RuleCoordinates + "@BL05", RuleCoordinates + "@BL06"},
		},
		{
			name:   "year built in the future",
			doc:    `[{"BL01":"31","BID01":"B1","BW01":3020}]`,
			entity: core.EntityBridge,
			want:   []string{RuleYearBuilt + "@BW01"},
		},
		{
			name:   "element quantity missing",
			doc:    `[{"BL01":"31","BID01":"B1","elements":[{"BE01":"12"}]}]`,
			entity: core.EntityElement,
			want:   []string{RuleElementQuantity + "@BE03"},
		},
		{
			name:   "condition states do not sum",
			doc:    `[{"BL01":"31","BID01":"B1","elements":[{"BE01":"12","BE03":100,"BCS01":50,"BCS02":10}]}]`,
			entity: core.EntityElement,
			want:   []string{RuleConditionStates + "@BCS01"},
		},
		{
			name:   "unknown parent element",
			doc:    `[{"BL01":"31","BID01":"B1","elements":[{"BE01":"300","BE02":"12","BE03":5}]}]`,
			entity: core.EntityElement,
			want:   []string{RuleElementParent + "@BE02"},
		},
		{
			name:   "known parent element",
			doc:    `[{"BL01":"31","BID01":"B1","elements":[{"BE01":"12","BE03":5},{"BE01":"300","BE02":"12","BE03":5}]}]`,
			entity: core.EntityElement,
			want:   nil,
		},
		{
			name:   "inspection dates reversed and long interval",
			doc:    `[{"BL01":"31","BID01":"B1","inspections":[{"BIE01":"R","BIE02":"2024-03-01","BIE03":"2024-02-01","BIE05":72}]}]`,
			entity: core.EntityInspection,
			want:   []string{RuleInspectionPeriod + "@BIE05", RuleInspectionDates + "@BIE03"},
		},
		{
			name:   "temporary bridge number",
			doc:    `[{"BL01":"31","BID01":"B1-TEMP"}]`,
			entity: core.EntityBridge,
			want:   []string{RuleTemporaryValue + "@BID01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateAll(t, NewBuiltin(), tt.doc, core.NewTemporaryTally(core.DefaultTemporaryPolicy()))[tt.entity]
			want := append([]string(nil), tt.want...)
			sort.Strings(want)
			if strings.Join(got, ",") != strings.Join(want, ",") {
				t.Errorf("violations = %v, want %v", got, want)
			}
		})
	}
}

func TestBuiltin_ChildWithoutPrimary(t *testing.T) {
	_, recs := stage(t, `[{"BL01":"31","BID01":"B1","elements":[{"BE01":"12","BE03":1}]}]`)
	var child *core.StagedRecord
	for _, r := range recs {
		if r.Key.Entity == core.EntityElement {
			child = r
		}
	}

	vs, err := NewBuiltin().Evaluate(context.Background(), core.EvalInput{Record: child, Related: []*core.StagedRecord{child}})
	if err != nil {
		t.Fatal(err)
	}
	if ids := ruleIDs(vs); len(ids) != 1 || ids[0] != RuleNoPrimary+"@BID01" {
		t.Errorf("violations = %v, want %s", ids, RuleNoPrimary)
	}
}

func TestChain(t *testing.T) {
	_, recs := stage(t, `[{"BL01":"31","BID01":"B1","BC01":"X"}]`)
	in := core.EvalInput{Record: recs[0], Related: recs}

	chain := Chain{NewBuiltin(), nil, NewBuiltin()}
	vs, err := chain.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 {
		t.Errorf("Chain.Evaluate() = %d violations, want 2", len(vs))
	}
}

func TestParseSeverityFile(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		rule    string
		want    core.Severity
		wantErr bool
	}{
		{name: "custom prefix", yaml: "prefixes:\n  GEN-T: critical\n  SAF-: safety\n", rule: "GEN-T001", want: core.SeverityCritical},
		{name: "fallback", yaml: "fallback: critical\nprefixes:\n  SAF-: safety\n", rule: "XYZ-1", want: core.SeverityCritical},
		{name: "empty file uses defaults", yaml: "", rule: "SAF-9", want: core.SeveritySafety},
		{name: "unknown severity", yaml: "prefixes:\n  SAF-: urgent\n", wantErr: true},
		{name: "unknown key", yaml: "levels: {}\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseSeverityFile(strings.NewReader(tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseSeverityFile() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSeverityFile() error = %v", err)
			}
			if got := c.Classify(tt.rule); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.rule, got, tt.want)
			}
		})
	}
}

func TestLoadSeverityFile_EmptyPath(t *testing.T) {
	c, err := LoadSeverityFile("")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Classify("CRI-1"); got != core.SeverityCritical {
		t.Errorf("Classify(CRI-1) = %s, want critical", got)
	}
}
