package state

// diffMerge returns the part of update that would change prev when merged:
// keys absent from prev ("added") plus keys whose value differs ("updated"),
// deep-merged into one tree. prev is never modified.
func diffMerge(prev, update Map) Map {
	diff := Map{}
	for key, uv := range update {
		pv, present := prev[key]

		switch u := uv.(type) {
		case Map:
			if pm, ok := pv.(Map); ok {
				if sub := diffMerge(pm, u); len(sub) > 0 {
					diff[key] = sub
				}
				continue
			}
			// Missing parent or a leaf becoming a parent: the whole subtree is new
			diff[key] = stripAbsent(u)
		case absent:
			if present {
				diff[key] = Absent
			}
		default:
			if !present || !Equal(pv, uv) {
				diff[key] = uv
			}
		}
	}
	return diff
}

// applyMerge writes diff into dst. A mapping in diff descends into dst,
// replacing any non-mapping value found there with an empty mapping first.
// Values are copied, so dst never aliases diff.
func applyMerge(dst, diff Map) {
	for key, dv := range diff {
		switch d := dv.(type) {
		case Map:
			child, ok := dst[key].(Map)
			if !ok {
				child = Map{}
				dst[key] = child
			}
			applyMerge(child, d)
		case absent:
			delete(dst, key)
		default:
			dst[key] = d
		}
	}
}
