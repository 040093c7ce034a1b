package specforge

import (
	"fmt"
)

// Validate checks the structural invariants of a spec and returns every
// violation found. It is pure: the spec is never mutated and repeated calls
// yield the same conflict set. Empty or missing entity and endpoint lists
// are fine.
func Validate(spec *Spec) []ChangeConflict {
	conflicts := []ChangeConflict{}
	if spec == nil {
		return conflicts
	}

	// Duplicate entity names: the first occurrence is not flagged, every
	// later one is.
	seenNames := make(map[string]bool, len(spec.Entities))
	for _, e := range spec.Entities {
		if seenNames[e.Name] {
			conflicts = append(conflicts, ChangeConflict{
				Type:    ConflictNaming,
				Message: fmt.Sprintf("duplicate entity name %q", e.Name),
				Details: map[string]any{"name": e.Name},
			})
			continue
		}
		seenNames[e.Name] = true
	}

	for _, e := range spec.Entities {
		for _, f := range e.Fields {
			if f.Name == "" || f.Type == "" {
				conflicts = append(conflicts, ChangeConflict{
					Type:    ConflictMissingField,
					Message: fmt.Sprintf("entity %q has a field with a blank name or type", e.Name),
					Details: map[string]any{"entity": e.Name, "field": f.Name, "field_type": f.Type},
				})
			}
		}
	}

	seenEndpoints := make(map[string]bool, len(spec.Endpoints))
	for _, e := range spec.Endpoints {
		key := e.Key()
		if seenEndpoints[key] {
			conflicts = append(conflicts, ChangeConflict{
				Type:    ConflictNaming,
				Message: fmt.Sprintf("duplicate endpoint %s %s", e.Method, e.Path),
				Details: map[string]any{"method": e.Method, "path": e.Path},
			})
			continue
		}
		seenEndpoints[key] = true
	}

	conflicts = append(conflicts, detectRelationCycles(spec.Entities)...)
	return conflicts
}

type dfsColor uint8

const (
	colorWhite dfsColor = iota
	colorGray
	colorBlack
)

// detectRelationCycles walks the directed graph where entity A points at
// entity B for every relation whose target equals B's id or B's name.
// Targets are resolved through indexes built once per run, keeping the walk
// linear in entities plus relations. Revisiting a node on the recursion
// stack reports one circular-relation conflict naming the re-entered entity,
// then that branch is abandoned; fully explored nodes are never re-entered.
func detectRelationCycles(entities []Entity) []ChangeConflict {
	conflicts := []ChangeConflict{}
	if len(entities) == 0 {
		return conflicts
	}

	byID := make(map[string]int, len(entities))
	byName := make(map[string]int, len(entities))
	for i, e := range entities {
		if e.ID != "" {
			byID[e.ID] = i
		}
		if _, taken := byName[e.Name]; !taken {
			byName[e.Name] = i
		}
	}

	resolve := func(target string) (int, bool) {
		if i, ok := byID[target]; ok {
			return i, true
		}
		i, ok := byName[target]
		return i, ok
	}

	colors := make([]dfsColor, len(entities))
	reported := make(map[int]bool)

	var visit func(i int)
	visit = func(i int) {
		colors[i] = colorGray
		for _, rel := range entities[i].Relations {
			j, ok := resolve(rel.Target)
			if !ok {
				// Dangling targets are not a cycle concern.
				continue
			}
			switch colors[j] {
			case colorGray:
				if !reported[j] {
					reported[j] = true
					conflicts = append(conflicts, ChangeConflict{
						Type:    ConflictCircularRelation,
						Message: fmt.Sprintf("circular relation re-enters entity %q", entities[j].Name),
						Details: map[string]any{"entity": entities[j].Name},
					})
				}
			case colorWhite:
				visit(j)
			}
		}
		colors[i] = colorBlack
	}

	for i := range entities {
		if colors[i] == colorWhite {
			visit(i)
		}
	}
	return conflicts
}
