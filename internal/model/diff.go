package model

// DiffMembership compares the current members of a list with the desired
// members and returns exactly the keys to add (desired minus current, in
// desired order) and to remove (current minus desired, in current order).
// Duplicate keys are collapsed.
func DiffMembership(current, desired []string) (add, remove []string) {
	have := make(map[string]struct{}, len(current))
	for _, k := range current {
		have[k] = struct{}{}
	}
	want := make(map[string]struct{}, len(desired))
	for _, k := range desired {
		if _, dup := want[k]; dup {
			continue
		}
		want[k] = struct{}{}
		if _, ok := have[k]; !ok {
			add = append(add, k)
		}
	}

	removed := make(map[string]struct{})
	for _, k := range current {
		if _, ok := want[k]; ok {
			continue
		}
		if _, dup := removed[k]; dup {
			continue
		}
		removed[k] = struct{}{}
		remove = append(remove, k)
	}
	return add, remove
}
