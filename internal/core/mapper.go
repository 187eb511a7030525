package core

// mapper.go converts decoded submission documents into staged records.
//
// A submission file is a JSON array of bridge objects, or an object with a
// "bridges" array. Each bridge object holds field-code/value pairs plus
// child collections ("elements", "routes", ...) of the same shape.
//
// Mapping is total: unknown codes go to Extensions, canonical codes whose
// value does not convert also go to Extensions (the validator flags them),
// and missing identity fields stay empty.

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// DecodeSubmission reads the top-level bridge list from a submission file.
func DecodeSubmission(r io.Reader) ([]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("decode submission: empty file")
		}
		return nil, fmt.Errorf("decode submission: %w", err)
	}

	switch t := doc.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if list, ok := t["bridges"].([]any); ok {
			return list, nil
		}
	}
	return nil, fmt.Errorf("decode submission: expected an array of bridges or an object with a \"bridges\" array")
}

// MapResult is the output of one mapping pass.
type MapResult struct {
	Records []*StagedRecord
	Omitted int
}

// MapSubmission maps every bridge entry and its children. Entries that are
// not JSON objects are counted as omitted.
func MapSubmission(submissionID int64, submitter string, entries []any) *MapResult {
	res := &MapResult{}
	children := childDefinitions()

	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			res.Omitted++
			continue
		}

		fields := make(map[string]any, len(obj))
		collections := make(map[EntityType][]any)
		for k, v := range obj {
			if list, isList := v.([]any); isList {
				if def, ok := ByCollection(strings.ToLower(strings.TrimSpace(k))); ok {
					collections[def.Type] = list
					continue
				}
			}
			fields[k] = v
		}

		data, ext := mapFields(EntityBridge, fields)
		primary := &StagedRecord{
			SubmissionID: submissionID,
			Status:       RecordActive,
			Data:         data,
			Extensions:   ext,
		}
		bridge := BridgeKey{
			StateCode:    identityText(primary, CodeStateCode),
			BridgeNumber: identityText(primary, CodeBridgeNumber),
			Submitter:    submitter,
		}
		primary.Key = RecordKey{Entity: EntityBridge, Bridge: bridge}
		res.Records = append(res.Records, primary)

		for _, def := range children {
			for _, item := range collections[def.Type] {
				childObj, ok := item.(map[string]any)
				if !ok {
					res.Omitted++
					continue
				}
				data, ext := mapFields(def.Type, childObj)
				rec := &StagedRecord{
					SubmissionID: submissionID,
					Status:       RecordActive,
					Data:         data,
					Extensions:   ext,
				}
				rec.Key = RecordKey{Entity: def.Type, Bridge: bridge, SubID: subID(rec, def.SubKey)}
				res.Records = append(res.Records, rec)
			}
		}
	}
	return res
}

// MapRecord maps one raw record onto the canonical shape for its entity.
func MapRecord(entity EntityType, raw map[string]any) (EntityData, Extensions, error) {
	if _, ok := Lookup(entity); !ok {
		return nil, nil, fmt.Errorf("unknown entity: %s", entity)
	}
	data, ext := mapFields(entity, raw)
	return data, ext, nil
}

func mapFields(entity EntityType, raw map[string]any) (EntityData, Extensions) {
	def, _ := Lookup(entity)
	data := def.New()
	var ext Extensions

	// Sorted so that codes differing only in case resolve the same way every run.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		code := normalizeCode(k)
		if code == "" {
			continue
		}
		v := ValueOf(raw[k])
		known, err := data.Set(code, v)
		if known && err == nil {
			continue
		}
		if ext == nil {
			ext = make(Extensions)
		}
		ext[code] = v
	}
	return data, ext
}

// identityText reads an identity field as submitted, canonical or not.
func identityText(rec *StagedRecord, code string) string {
	v, ok := rec.Field(code)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func subID(rec *StagedRecord, codes []string) string {
	parts := make([]string, len(codes))
	empty := true
	for i, code := range codes {
		parts[i] = identityText(rec, code)
		if parts[i] != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.Join(parts, "|")
}

func childDefinitions() []EntityDefinition {
	var out []EntityDefinition
	for _, def := range Entities() {
		if !def.Primary() {
			out = append(out, def)
		}
	}
	return out
}
