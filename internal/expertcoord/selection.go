package expertcoord

import "sort"

// Select chooses up to n experts whose capabilities intersect required,
// excluding quarantined experts and preferring idle ones over busy ones
// (§4.5). Ties within the same status are broken by most-recently-active
// last, so the expert that has been idle the longest is tried first and a
// just-used one last — spreading load rather than hammering one expert.
func Select(pool []Expert, required []Capability, n int) []string {
	candidates := make([]Expert, 0, len(pool))
	for _, e := range pool {
		if e.Status == ExpertQuarantined {
			continue
		}
		if !e.HasCapability(required) {
			continue
		}
		candidates = append(candidates, e)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Status != candidates[j].Status {
			return candidates[i].Status == ExpertIdle
		}
		return candidates[i].LastActiveAt.Before(candidates[j].LastActiveAt)
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}

	ids := make([]string, len(candidates))
	for i, e := range candidates {
		ids[i] = e.ExpertID
	}
	return ids
}
