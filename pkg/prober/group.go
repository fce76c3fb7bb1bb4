package prober

import (
	"sort"

	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

// GroupByPatient buckets studies by patient ID. Each patient's studies
// are ordered most recent first; ties on StudyDate fall back to the
// study UID so the order is stable across runs.
func GroupByPatient(studies []tcia.Study) map[string][]tcia.Study {
	groups := make(map[string][]tcia.Study)
	for _, s := range studies {
		groups[s.PatientID] = append(groups[s.PatientID], s)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			if g[i].StudyDate != g[j].StudyDate {
				return g[i].StudyDate > g[j].StudyDate
			}
			return g[i].StudyInstanceUID < g[j].StudyInstanceUID
		})
	}
	return groups
}

// sortedPatientIDs returns the group keys in lexical order so that
// batching is deterministic.
func sortedPatientIDs(groups map[string][]tcia.Study) []string {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
