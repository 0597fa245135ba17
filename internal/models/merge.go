package models

// Merge functions replace the declarative state reducers of the original
// agent framework with named, unit-testable pure functions: facts merge
// last-write-wins, booleans OR (monotonic), string sets union.

// MergeFacts applies a partial extraction delta onto current facts.
// Each non-empty delta field overwrites the current value, so a customer
// can correct a previously stated fact (e.g. a new budget figure) in a
// later turn. Empty delta fields never clear anything.
func MergeFacts(current, delta Facts) Facts {
	merged := current
	if delta.Name != "" {
		merged.Name = delta.Name
	}
	if delta.BusinessType != "" {
		merged.BusinessType = delta.BusinessType
	}
	if delta.Problem != "" {
		merged.Problem = delta.Problem
	}
	if delta.Goal != "" {
		merged.Goal = delta.Goal
	}
	if delta.Budget != 0 {
		merged.Budget = delta.Budget
	}
	if delta.Email != "" {
		merged.Email = delta.Email
	}
	return merged
}

// OrBool merges boolean flags monotonically: once set, never unset.
func OrBool(current, update bool) bool {
	return current || update
}

// UnionStrings merges two string sets, preserving first-seen order and
// dropping duplicates.
func UnionStrings(current, update []string) []string {
	seen := make(map[string]struct{}, len(current)+len(update))
	merged := make([]string, 0, len(current)+len(update))
	for _, s := range current {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	for _, s := range update {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	return merged
}
