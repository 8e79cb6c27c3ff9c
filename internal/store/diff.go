package store

// ChangedKeys returns every flag key whose compiled definition differs
// between two generations, including keys added in next or removed from
// prev. BuildStore already computes this inline while it has both
// generations in hand; this is exposed separately for callers (tests,
// diagnostics) that already hold two Store values.
func ChangedKeys(prev, next *Store) []string {
	changed := make([]string, 0)
	if next != nil {
		for key, entry := range next.Flags {
			if changedSince(prev, key, entry.definitionJSON) {
				changed = append(changed, key)
			}
		}
	}
	if prev != nil {
		for key := range prev.Flags {
			if next == nil {
				changed = append(changed, key)
				continue
			}
			if _, ok := next.Flags[key]; !ok {
				changed = append(changed, key)
			}
		}
	}
	return changed
}
