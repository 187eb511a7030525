// Package rules provides core.RuleEvaluator implementations: a set of
// built-in structural rules, a client for an external rule engine, and a
// chain that combines them.
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// Built-in rule identifiers. The prefix selects the severity class.
const (
	RuleConditionRating   = "CRI-B010"
	RuleCoordinates       = "CRI-B011"
	RulePoorNoPosting     = "SAF-B020"
	RuleYearBuilt         = "GEN-B030"
	RuleNoPrimary         = "CRI-R001"
	RuleElementQuantity   = "CRI-E001"
	RuleConditionStates   = "CRI-E002"
	RuleElementParent     = "GEN-E003"
	RuleInspectionDates   = "GEN-I001"
	RuleInspectionPeriod  = "CRI-I002"
	RuleTemporaryValue    = "GEN-T001"
	maxInspectionInterval = 48
)

var conditionCodes = []string{"BC01", "BC02", "BC03", "BC04"}

// Builtin evaluates the structural rules that need no external engine.
type Builtin struct {
	now func() time.Time
}

// NewBuiltin returns the built-in rule set.
func NewBuiltin() *Builtin {
	return &Builtin{now: time.Now}
}

var _ core.RuleEvaluator = (*Builtin)(nil)

func (b *Builtin) Evaluate(_ context.Context, in core.EvalInput) ([]core.RuleViolation, error) {
	rec := in.Record
	var out []core.RuleViolation

	if rec.Key.Entity != core.EntityBridge && !hasPrimary(in.Related) {
		out = append(out, core.RuleViolation{
			RuleID:      RuleNoPrimary,
			FieldCode:   core.CodeBridgeNumber,
			Description: fmt.Sprintf("%s record has no bridge record for %s", rec.Key.Entity, rec.Key.Bridge),
		})
	}

	switch rec.Key.Entity {
	case core.EntityBridge:
		out = append(out, b.bridge(rec, in.Related)...)
	case core.EntityElement:
		out = append(out, element(rec, in.Related)...)
	case core.EntityInspection:
		out = append(out, inspection(rec)...)
	}

	if in.Tally != nil {
		for code, v := range rec.Fields() {
			if in.Tally.IsTemporary(code, v) {
				out = append(out, core.RuleViolation{
					RuleID:      RuleTemporaryValue,
					FieldCode:   code,
					Description: fmt.Sprintf("%s holds temporary value %q", code, v.String()),
				})
			}
		}
	}
	return out, nil
}

func (b *Builtin) bridge(rec *core.StagedRecord, related []*core.StagedRecord) []core.RuleViolation {
	var out []core.RuleViolation

	poor := false
	for _, code := range conditionCodes {
		v, ok := rec.Field(code)
		if !ok || v.IsNull() {
			continue
		}
		rating := strings.ToUpper(strings.TrimSpace(v.String()))
		if rating == "N" {
			continue
		}
		if len(rating) != 1 || rating[0] < '0' || rating[0] > '9' {
			out = append(out, core.RuleViolation{
				RuleID:      RuleConditionRating,
				FieldCode:   code,
				Description: fmt.Sprintf("condition rating %q must be 0-9 or N", rating),
			})
			continue
		}
		if rating[0] <= '4' {
			poor = true
		}
	}
	if poor && !hasEntity(related, core.EntityPostingStatus) {
		out = append(out, core.RuleViolation{
			RuleID:      RulePoorNoPosting,
			FieldCode:   "BPS01",
			Description: "bridge in poor condition has no posting status",
		})
	}

	if v, ok := number(rec, "BL05"); ok && (v < -90 || v > 90) {
		out = append(out, core.RuleViolation{RuleID: RuleCoordinates, FieldCode: "BL05",
			Description: fmt.Sprintf("latitude %g out of range", v)})
	}
	if v, ok := number(rec, "BL06"); ok && (v < -180 || v > 180) {
		out = append(out, core.RuleViolation{RuleID: RuleCoordinates, FieldCode: "BL06",
			Description: fmt.Sprintf("longitude %g out of range", v)})
	}

	if y, ok := number(rec, "BW01"); ok && (y < 1700 || int(y) > b.now().Year()) {
		out = append(out, core.RuleViolation{RuleID: RuleYearBuilt, FieldCode: "BW01",
			Description: fmt.Sprintf("year built %g is not plausible", y)})
	}
	return out
}

func element(rec *core.StagedRecord, related []*core.StagedRecord) []core.RuleViolation {
	var out []core.RuleViolation

	total, ok := number(rec, "BE03")
	if !ok || total <= 0 {
		out = append(out, core.RuleViolation{RuleID: RuleElementQuantity, FieldCode: "BE03",
			Description: "element total quantity is missing or not positive"})
	} else {
		sum, seen := 0.0, false
		for _, code := range []string{"BCS01", "BCS02", "BCS03", "BCS04"} {
			if v, ok := number(rec, code); ok {
				sum += v
				seen = true
			}
		}
		if seen && sum != total {
			out = append(out, core.RuleViolation{RuleID: RuleConditionStates, FieldCode: "BCS01",
				Description: fmt.Sprintf("condition state quantities sum to %g, total quantity is %g", sum, total)})
		}
	}

	if parent := text(rec, "BE02"); parent != "" {
		found := false
		for _, r := range related {
			if r.Key.Entity == core.EntityElement && text(r, "BE01") == parent {
				found = true
				break
			}
		}
		if !found {
			out = append(out, core.RuleViolation{RuleID: RuleElementParent, FieldCode: "BE02",
				Description: fmt.Sprintf("parent element %s is not reported for this bridge", parent)})
		}
	}
	return out
}

func inspection(rec *core.StagedRecord) []core.RuleViolation {
	var out []core.RuleViolation

	begin, okBegin := rec.Field("BIE02")
	end, okEnd := rec.Field("BIE03")
	if okBegin && okEnd && begin.Kind == core.KindDate && end.Kind == core.KindDate && end.Date.Before(begin.Date) {
		out = append(out, core.RuleViolation{RuleID: RuleInspectionDates, FieldCode: "BIE03",
			Description: "inspection completion date is before its begin date"})
	}
	if months, ok := number(rec, "BIE05"); ok && months > maxInspectionInterval {
		out = append(out, core.RuleViolation{RuleID: RuleInspectionPeriod, FieldCode: "BIE05",
			Description: fmt.Sprintf("inspection interval of %g months exceeds %d", months, maxInspectionInterval)})
	}
	return out
}

func hasPrimary(related []*core.StagedRecord) bool {
	return hasEntity(related, core.EntityBridge)
}

func hasEntity(related []*core.StagedRecord, t core.EntityType) bool {
	for _, r := range related {
		if r.Key.Entity == t {
			return true
		}
	}
	return false
}

func number(rec *core.StagedRecord, code string) (float64, bool) {
	v, ok := rec.Field(code)
	if !ok {
		return 0, false
	}
	return v.Float()
}

func text(rec *core.StagedRecord, code string) string {
	v, ok := rec.Field(code)
	if !ok || v.IsNull() {
		return ""
	}
	return strings.TrimSpace(v.String())
}
