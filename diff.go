package specforge

import (
	"encoding/json"
	"reflect"
)

// DocumentDiff is a structural diff of two JSON documents. Added and Removed
// hold whole subtrees keyed by field name; Updated holds leaf replacements;
// Changed recurses into objects present on both sides. Arrays are compared
// as leaves: any element difference reports the whole array as updated.
type DocumentDiff struct {
	Added   map[string]any           `json:"added,omitempty"`
	Removed map[string]any           `json:"removed,omitempty"`
	Updated map[string]ValueChange   `json:"updated,omitempty"`
	Changed map[string]*DocumentDiff `json:"changed,omitempty"`
}

// ValueChange records a leaf-level replacement.
type ValueChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Empty reports whether the diff carries no difference at all.
func (d *DocumentDiff) Empty() bool {
	if d == nil {
		return true
	}
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0 && len(d.Changed) == 0
}

// DiffDocuments computes the structural diff between two decoded JSON
// objects. Both sides must already be plain `map[string]any` trees, as
// produced by encoding/json.
func DiffDocuments(before, after map[string]any) *DocumentDiff {
	diff := &DocumentDiff{}
	for key, b := range before {
		a, present := after[key]
		if !present {
			if diff.Removed == nil {
				diff.Removed = map[string]any{}
			}
			diff.Removed[key] = b
			continue
		}
		bObj, bIsObj := b.(map[string]any)
		aObj, aIsObj := a.(map[string]any)
		if bIsObj && aIsObj {
			child := DiffDocuments(bObj, aObj)
			if !child.Empty() {
				if diff.Changed == nil {
					diff.Changed = map[string]*DocumentDiff{}
				}
				diff.Changed[key] = child
			}
			continue
		}
		if !reflect.DeepEqual(b, a) {
			if diff.Updated == nil {
				diff.Updated = map[string]ValueChange{}
			}
			diff.Updated[key] = ValueChange{From: b, To: a}
		}
	}
	for key, a := range after {
		if _, present := before[key]; !present {
			if diff.Added == nil {
				diff.Added = map[string]any{}
			}
			diff.Added[key] = a
		}
	}
	return diff
}

// ComputePreview applies the change request and pairs the result with a
// structural diff of current versus proposed. Preview calls take no lock and
// may run with unlimited concurrency.
func ComputePreview(current *Spec, req *ChangeRequest) *ChangePreview {
	result := Apply(current, req)
	preview := &ChangePreview{
		CurrentSpec:  current,
		ProposedSpec: result.Spec,
		Conflicts:    result.Conflicts,
		Impacts:      result.Impacts,
	}
	before, okBefore := specDocument(current)
	after, okAfter := specDocument(result.Spec)
	if okBefore && okAfter {
		preview.Diff = DiffDocuments(before, after)
	}
	return preview
}

// specDocument renders a spec as a plain JSON object tree. A nil spec maps
// to an empty document so diffs against missing specs stay well-defined.
func specDocument(spec *Spec) (map[string]any, bool) {
	if spec == nil {
		return map[string]any{}, true
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return doc, true
}
