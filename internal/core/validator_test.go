package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
)

type ruleFunc func(context.Context, EvalInput) ([]RuleViolation, error)

func (f ruleFunc) Evaluate(ctx context.Context, in EvalInput) ([]RuleViolation, error) {
	return f(ctx, in)
}

// lengthRules flags short bridges and element rows with no quantity.
var lengthRules = ruleFunc(func(_ context.Context, in EvalInput) ([]RuleViolation, error) {
	var out []RuleViolation
	switch in.Record.Key.Entity {
	case EntityBridge:
		if v, ok := in.Record.Field(CodeTotalLength); ok && v.Num < 20 {
			out = append(out, RuleViolation{RuleID: "SAF-100", FieldCode: CodeTotalLength, Description: "length below 20 ft"})
		}
	case EntityElement:
		if _, ok := in.Record.Field("BE03"); !ok {
			out = append(out, RuleViolation{RuleID: "CRI-200", FieldCode: "BE03", Description: "quantity missing"})
		}
	}
	return out, nil
})

func stage(t *testing.T, doc string) []*StagedRecord {
	t.Helper()
	return MapSubmission(1, "12", decodeSample(t, doc)).Records
}

func TestValidator_FatalPrecondition(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want int
	}{
		{name: "no NBIS designation", doc: `[{"BL01":"31","BID01":"1","BG01":"N","BG02":100},{"BL01":"31","BID01":"2"}]`, want: 2},
		{name: "designated but zero length", doc: `[{"BL01":"31","BID01":"1","BG01":"Y","BG02":0}]`, want: 1},
		{name: "no primaries", doc: `[]`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(lengthRules, nil, DefaultTemporaryPolicy(), 2)
			_, err := v.Validate(context.Background(), ValidationInput{SubmissionID: 1, Records: stage(t, tt.doc)})

			var fe *FatalPreconditionError
			if !errors.As(err, &fe) {
				t.Fatalf("Validate() error = %v, want *FatalPreconditionError", err)
			}
			if len(fe.NonQualifying) != tt.want {
				t.Errorf("len(NonQualifying) = %d, want %d", len(fe.NonQualifying), tt.want)
			}
		})
	}
}

func TestValidator_NoRulesRunOnFatalPrecondition(t *testing.T) {
	called := false
	rules := ruleFunc(func(context.Context, EvalInput) ([]RuleViolation, error) {
		called = true
		return nil, nil
	})
	v := NewValidator(rules, nil, DefaultTemporaryPolicy(), 1)
	_, err := v.Validate(context.Background(), ValidationInput{Records: stage(t, `[{"BL01":"31","BID01":"1"}]`)})
	if !IsFatalPrecondition(err) {
		t.Fatalf("error = %v, want fatal precondition", err)
	}
	if called {
		t.Error("rules evaluated despite failed precondition")
	}
}

func TestValidator_Report(t *testing.T) {
	doc := `[
	  {"BL01":"31","BID01":"1","BG01":"Y","BG02":10,
	   "elements":[{"BE01":"12"},{"BE01":"13","BE03":5}]},
	  {"BL01":"31","BID01":"2","BG01":"N","BW01":"old"},
	  {"BL01":"31","BID01":"2","BG01":"N"},
	  {"BID01":"3TEMP","BG01":"Y","BG02":300},
	  7
	]`
	res := MapSubmission(9, "12", decodeSample(t, doc))

	v := NewValidator(lengthRules, nil, DefaultTemporaryPolicy(), 4)
	out, err := v.Validate(context.Background(), ValidationInput{SubmissionID: 9, Records: res.Records, Omitted: res.Omitted})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	r := out.Report

	if r.TotalUploaded != 6 || r.Uploaded[EntityBridge] != 4 || r.Uploaded[EntityElement] != 2 {
		t.Errorf("Uploaded = %v total %d", r.Uploaded, r.TotalUploaded)
	}
	if r.Omitted != 1 {
		t.Errorf("Omitted = %d, want 1", r.Omitted)
	}
	if got := r.ErrorCounts[SeveritySafety]; got != 1 {
		t.Errorf("safety count = %d, want 1", got)
	}
	if got := r.ErrorCounts[SeverityCritical]; got != 1 {
		t.Errorf("critical count = %d, want 1", got)
	}
	// FMT-003 on BW01 and FMT-001 on the missing BL01.
	if got := r.ErrorCounts[SeverityGeneral]; got != 2 {
		t.Errorf("general count = %d, want 2", got)
	}
	if r.ViolationCount() != len(out.Violations) {
		t.Errorf("ViolationCount() = %d, len(Violations) = %d", r.ViolationCount(), len(out.Violations))
	}

	if groups := r.Duplicates[EntityBridge]; len(groups) != 1 || groups[0].Count != 2 || groups[0].Key.Bridge.BridgeNumber != "2" {
		t.Errorf("Duplicates = %+v", r.Duplicates)
	}
	if len(r.NonQualifying) != 2 {
		t.Errorf("NonQualifying = %v, want both copies of bridge 2", r.NonQualifying)
	}
	if r.Temporary[CodeBridgeNumber] != 1 || r.TemporaryFree {
		t.Errorf("Temporary = %v free=%v, want BID01=1 and not free", r.Temporary, r.TemporaryFree)
	}

	var rules []string
	for _, vio := range out.Violations {
		if vio.SubmissionID != 9 {
			t.Errorf("violation submission = %d, want 9", vio.SubmissionID)
		}
		rules = append(rules, vio.RuleID+"/"+vio.FieldCode)
	}
	for _, want := range []string{"SAF-100/BG02", "CRI-200/BE03", "FMT-003/BW01", "FMT-001/BL01"} {
		if !strings.Contains(strings.Join(rules, " "), want) {
			t.Errorf("violations %v missing %s", rules, want)
		}
	}
}

func TestValidator_Deterministic(t *testing.T) {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < 60; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"BL01":"31","BID01":"%03d","BG01":"Y","BG02":%d,"elements":[{"BE01":"%d"}]}`, i, i, i)
	}
	b.WriteString("]")
	records := stage(t, b.String())

	v := NewValidator(lengthRules, nil, DefaultTemporaryPolicy(), 8)
	first, err := v.Validate(context.Background(), ValidationInput{SubmissionID: 1, Records: records})
	if err != nil {
		t.Fatal(err)
	}

	// Reverse the input; output must not depend on order or scheduling.
	reversed := make([]*StagedRecord, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	second, err := v.Validate(context.Background(), ValidationInput{SubmissionID: 1, Records: reversed})
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first.Violations, second.Violations) {
		t.Error("violations differ between identical runs")
	}
	if !reflect.DeepEqual(first.Report.ErrorCounts, second.Report.ErrorCounts) {
		t.Errorf("ErrorCounts %v != %v", first.Report.ErrorCounts, second.Report.ErrorCounts)
	}
}

func TestValidator_TallyIsPerRun(t *testing.T) {
	v := NewValidator(nil, nil, DefaultTemporaryPolicy(), 4)
	temp := stage(t, `[{"BL01":"31","BID01":"9-T","BG01":"Y","BG02":50}]`)
	clean := stage(t, `[{"BL01":"31","BID01":"9","BG01":"Y","BG02":50}]`)

	var wg sync.WaitGroup
	reports := make([]*BatchReport, 20)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs := clean
			if i%2 == 0 {
				recs = temp
			}
			out, err := v.Validate(context.Background(), ValidationInput{Records: recs})
			if err != nil {
				t.Error(err)
				return
			}
			reports[i] = out.Report
		}(i)
	}
	wg.Wait()

	for i, r := range reports {
		if r == nil {
			continue
		}
		wantFree := i%2 != 0
		if r.TemporaryFree != wantFree {
			t.Errorf("run %d TemporaryFree = %v, want %v (counts %v)", i, r.TemporaryFree, wantFree, r.Temporary)
		}
	}
}

func TestValidator_RuleErrorAborts(t *testing.T) {
	boom := errors.New("engine unavailable")
	rules := ruleFunc(func(context.Context, EvalInput) ([]RuleViolation, error) { return nil, boom })
	v := NewValidator(rules, nil, DefaultTemporaryPolicy(), 2)

	_, err := v.Validate(context.Background(), ValidationInput{Records: stage(t, `[{"BL01":"31","BID01":"1","BG01":"Y","BG02":50}]`)})
	if !errors.Is(err, boom) {
		t.Errorf("Validate() error = %v, want %v", err, boom)
	}
}

func TestValidator_RelatedSet(t *testing.T) {
	var mu sync.Mutex
	seen := map[EntityType]int{}
	rules := ruleFunc(func(_ context.Context, in EvalInput) ([]RuleViolation, error) {
		mu.Lock()
		defer mu.Unlock()
		seen[in.Record.Key.Entity] = len(in.Related)
		if in.Tally == nil {
			return nil, errors.New("no tally")
		}
		return nil, nil
	})
	v := NewValidator(rules, nil, DefaultTemporaryPolicy(), 1)
	_, err := v.Validate(context.Background(), ValidationInput{Records: stage(t, sampleSubmission)})
	if err != nil {
		t.Fatal(err)
	}
	if seen[EntityElement] != 4 || seen[EntityRoute] != 4 {
		t.Errorf("related sizes = %v, want 4 for children of 000123", seen)
	}
}

func TestValidator_Progress(t *testing.T) {
	var mu sync.Mutex
	var got []int
	v := NewValidator(nil, nil, DefaultTemporaryPolicy(), 1)
	_, err := v.Validate(context.Background(), ValidationInput{
		Records: stage(t, sampleSubmission),
		Progress: func(p int) {
			mu.Lock()
			got = append(got, p)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[len(got)-1] != 100 {
		t.Errorf("progress = %v, want to end at 100", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("progress not increasing: %v", got)
		}
	}
}

// ----------------------------------------------------------------------------
// Severity, tally and duplicates
// ----------------------------------------------------------------------------

func TestPrefixClassifier(t *testing.T) {
	c := NewPrefixClassifier(map[string]Severity{
		"SAF-":    SeveritySafety,
		"CRI-":    SeverityCritical,
		"SAF-LOW": SeverityGeneral,
	}, "")

	tests := []struct {
		rule string
		want Severity
	}{
		{"SAF-001", SeveritySafety},
		{"saf-002", SeveritySafety},
		{"SAF-LOW-1", SeverityGeneral},
		{"CRI-9", SeverityCritical},
		{"GEN-1", SeverityGeneral},
		{"", SeverityGeneral},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.rule); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.rule, got, tt.want)
		}
	}
}

func TestTemporaryTally(t *testing.T) {
	tally := NewTemporaryTally(DefaultTemporaryPolicy())

	tests := []struct {
		code  string
		value Value
		want  bool
	}{
		{CodeBridgeNumber, StringValue("123TEMP"), true},
		{CodeBridgeNumber, StringValue("123tmp"), true},
		{CodeBridgeNumber, StringValue("123-t"), true},
		{CodeBridgeNumber, StringValue("TEMP123"), false},
		{"BRT02", StringValue("I-80 TMP"), true},
		{"BF03", StringValue("TEMP"), false},
		{CodeBridgeNumber, NullValue(), false},
	}
	for _, tt := range tests {
		if got := tally.IsTemporary(tt.code, tt.value); got != tt.want {
			t.Errorf("IsTemporary(%s, %q) = %v, want %v", tt.code, tt.value.String(), got, tt.want)
		}
	}

	if !tally.Free() {
		t.Error("new tally not free")
	}
	for _, rec := range stage(t, `[{"BL01":"31","BID01":"1TMP","routes":[{"BRT01":"1","BRT02":"5-T"}]}]`) {
		tally.Observe(rec)
	}
	counts := tally.Counts()
	if counts[CodeBridgeNumber] != 1 || counts["BRT02"] != 1 {
		t.Errorf("Counts() = %v, want BID01=1 BRT02=1", counts)
	}
	if tally.Free() {
		t.Error("Free() = true after temporary values were observed")
	}
}

func TestDetectDuplicates(t *testing.T) {
	recs := stage(t, `[
	  {"BL01":"31","BID01":"1","elements":[{"BE01":"1"},{"BE01":"1"},{"BE01":"2"}]},
	  {"BL01":"31","BID01":"1"},
	  {"BL01":"31","BID01":"2"}
	]`)
	d := DetectDuplicates(recs)

	if len(d[EntityBridge]) != 1 || d[EntityBridge][0].Count != 2 {
		t.Errorf("bridge duplicates = %+v", d[EntityBridge])
	}
	if len(d[EntityElement]) != 1 || d[EntityElement][0].Key.SubID != "1|" {
		t.Errorf("element duplicates = %+v", d[EntityElement])
	}
	if _, ok := d[EntityRoute]; ok {
		t.Error("unexpected route entry")
	}
}

func TestCarryFlags(t *testing.T) {
	key := RecordKey{Entity: EntityBridge, Bridge: BridgeKey{StateCode: "31", BridgeNumber: "1", Submitter: "12"}}
	mark := &FlagMark{By: "alice"}
	prev := []Violation{{Key: key, FieldCode: "BG02", RuleID: "SAF-1", Flags: ViolationFlags{Reviewed: mark}}}
	cur := []Violation{
		{Key: key, FieldCode: "BG02", RuleID: "SAF-1"},
		{Key: key, FieldCode: "BG03", RuleID: "SAF-1"},
	}
	CarryFlags(prev, cur)

	if cur[0].Flags.Reviewed != mark {
		t.Error("flag not carried to matching violation")
	}
	if !cur[1].Flags.Empty() {
		t.Error("flag carried to different field")
	}
}
