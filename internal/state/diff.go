package state

// Change names one element whose eid survived between snapshots while some
// of its observable state did not.
type Change struct {
	EID    string   `json:"eid"`
	Fields []string `json:"fields"`
}

// Diff is the incremental comparison of two same-document snapshots:
// identifiers and counts, never rendered text.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []Change `json:"changed"`

	AddedCount   int `json:"added_count"`
	RemovedCount int `json:"removed_count"`
	ChangedCount int `json:"changed_count"`
}

// Empty reports whether nothing was added, removed, or changed.
func (d *Diff) Empty() bool {
	return d.AddedCount == 0 && d.RemovedCount == 0 && d.ChangedCount == 0
}

// ComputeDiff compares two snapshots of the same document identity. Eids
// are assigned to both node lists independently, so the result does not
// depend on registry state. Either side may be empty; the caller owns the
// baseline-vs-diff policy and only invokes this when a diff is wanted.
//
// A changed entry means the eid is present on both sides with a differing
// visible/enabled/checked/selected/expanded flag, value, or raw label.
// (A raw label can change while the eid holds: identity uses the
// normalized, length-capped form.)
func ComputeDiff(prev, curr *Snapshot) *Diff {
	d := &Diff{Added: []string{}, Removed: []string{}, Changed: []Change{}}

	prevNodes := map[string]ReadableNode{}
	var prevOrder []string
	if prev != nil {
		eids := AssignEids(prev.Nodes)
		for i, n := range prev.Nodes {
			prevNodes[eids[i]] = n
			prevOrder = append(prevOrder, eids[i])
		}
	}

	currSeen := map[string]bool{}
	if curr != nil {
		eids := AssignEids(curr.Nodes)
		for i, n := range curr.Nodes {
			eid := eids[i]
			currSeen[eid] = true
			old, existed := prevNodes[eid]
			if !existed {
				d.Added = append(d.Added, eid)
				continue
			}
			if fields := changedFields(old, n); len(fields) > 0 {
				d.Changed = append(d.Changed, Change{EID: eid, Fields: fields})
			}
		}
	}

	for _, eid := range prevOrder {
		if !currSeen[eid] {
			d.Removed = append(d.Removed, eid)
		}
	}

	d.AddedCount = len(d.Added)
	d.RemovedCount = len(d.Removed)
	d.ChangedCount = len(d.Changed)
	return d
}

func changedFields(before, after ReadableNode) []string {
	var fields []string
	if before.Visible != after.Visible {
		fields = append(fields, "visible")
	}
	if before.Enabled != after.Enabled {
		fields = append(fields, "enabled")
	}
	if before.Checked != after.Checked {
		fields = append(fields, "checked")
	}
	if before.Selected != after.Selected {
		fields = append(fields, "selected")
	}
	if before.Expanded != after.Expanded {
		fields = append(fields, "expanded")
	}
	if before.Value() != after.Value() {
		fields = append(fields, "value")
	}
	if before.Label != after.Label {
		fields = append(fields, "label")
	}
	return fields
}
