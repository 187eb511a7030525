package core

import (
	"strings"
	"sync/atomic"
)

// TemporaryPolicy names the field codes watched for temporary values and the
// suffix markers that identify one.
type TemporaryPolicy struct {
	Fields  []string
	Markers []string
}

// DefaultTemporaryPolicy watches bridge and route numbers.
func DefaultTemporaryPolicy() TemporaryPolicy {
	return TemporaryPolicy{
		Fields:  []string{CodeBridgeNumber, "BRT02"},
		Markers: []string{"TEMP", "TMP", "-T"},
	}
}

// TemporaryTally counts temporary values per field code for one validation
// run. A tally is created per run and passed to every rule evaluation; it is
// never shared between runs. Counters are atomic so workers may observe
// records in parallel.
type TemporaryTally struct {
	markers  []string
	counters map[string]*atomic.Int64
	codes    []string
}

// NewTemporaryTally creates zeroed counters for every policy field.
func NewTemporaryTally(p TemporaryPolicy) *TemporaryTally {
	t := &TemporaryTally{counters: make(map[string]*atomic.Int64, len(p.Fields))}
	for _, m := range p.Markers {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			t.markers = append(t.markers, m)
		}
	}
	for _, f := range p.Fields {
		code := normalizeCode(f)
		if code == "" {
			continue
		}
		if _, dup := t.counters[code]; dup {
			continue
		}
		t.counters[code] = new(atomic.Int64)
		t.codes = append(t.codes, code)
	}
	return t
}

// IsTemporary reports whether v, submitted under code, carries a temporary marker.
func (t *TemporaryTally) IsTemporary(code string, v Value) bool {
	if _, watched := t.counters[normalizeCode(code)]; !watched {
		return false
	}
	s := strings.ToUpper(strings.TrimSpace(v.String()))
	if s == "" {
		return false
	}
	for _, m := range t.markers {
		if strings.HasSuffix(s, m) {
			return true
		}
	}
	return false
}

// Observe counts every watched field on rec that holds a temporary value.
func (t *TemporaryTally) Observe(rec *StagedRecord) {
	for _, code := range t.codes {
		if v, ok := rec.Field(code); ok && t.IsTemporary(code, v) {
			t.counters[code].Add(1)
		}
	}
}

// Counts returns a snapshot of every counter.
func (t *TemporaryTally) Counts() map[string]int64 {
	out := make(map[string]int64, len(t.codes))
	for _, code := range t.codes {
		out[code] = t.counters[code].Load()
	}
	return out
}

// Free reports whether no temporary value was seen.
func (t *TemporaryTally) Free() bool {
	for _, c := range t.counters {
		if c.Load() != 0 {
			return false
		}
	}
	return true
}
