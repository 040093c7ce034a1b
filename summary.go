package specforge

import (
	"strings"
)

// Summarize derives the aggregated impact summary of one preview. Counts are
// the sizes of the deduplicated name unions, not the raw impact count.
//
// Classification is a substring match on the impact description: an impact
// counts as an addition when its description contains "added" and as a
// removal when it contains "removed". Downstream UI relies on exactly this
// rule, so it stays brittle on purpose.
func Summarize(preview *ChangePreview) ImpactSummary {
	summary := ImpactSummary{
		NewEntities:      []string{},
		NewEndpoints:     []string{},
		RemovedEntities:  []string{},
		RemovedEndpoints: []string{},
	}
	if preview == nil {
		return summary
	}

	entities := newStringSet()
	endpoints := newStringSet()
	files := newStringSet()
	newEntities := newStringSet()
	newEndpoints := newStringSet()
	removedEntities := newStringSet()
	removedEndpoints := newStringSet()

	for _, impact := range preview.Impacts {
		entities.addAll(impact.AffectedEntities)
		endpoints.addAll(impact.AffectedEndpoints)
		files.addAll(impact.AffectedFiles)

		if strings.Contains(impact.Description, "added") {
			newEntities.addAll(impact.AffectedEntities)
			newEndpoints.addAll(impact.AffectedEndpoints)
		}
		if strings.Contains(impact.Description, "removed") {
			removedEntities.addAll(impact.AffectedEntities)
			removedEndpoints.addAll(impact.AffectedEndpoints)
		}
	}

	summary.ModifiedEntities = entities.len()
	summary.ModifiedEndpoints = endpoints.len()
	summary.ImpactedFiles = files.len()
	summary.NewEntities = newEntities.values()
	summary.NewEndpoints = newEndpoints.values()
	summary.RemovedEntities = removedEntities.values()
	summary.RemovedEndpoints = removedEndpoints.values()
	summary.HasConflicts = len(preview.Conflicts) > 0
	summary.ConflictCount = len(preview.Conflicts)
	return summary
}

// CollectImpactedFiles returns the deduplicated union of every impact's
// affected files, in order of first appearance.
func CollectImpactedFiles(preview *ChangePreview) []string {
	files := newStringSet()
	if preview == nil {
		return files.values()
	}
	for _, impact := range preview.Impacts {
		files.addAll(impact.AffectedFiles)
	}
	return files.values()
}

// stringSet is an insertion-ordered set of strings.
type stringSet struct {
	seen  map[string]bool
	order []string
}

func newStringSet() *stringSet {
	return &stringSet{seen: map[string]bool{}, order: []string{}}
}

func (s *stringSet) addAll(values []string) {
	for _, v := range values {
		if s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.order = append(s.order, v)
	}
}

func (s *stringSet) len() int { return len(s.order) }

func (s *stringSet) values() []string { return s.order }
