package event

// Merge combines existing and incoming evidence under one of two modes.
//
// Strict (cross-source) mode unions both sides keyed by dedup key and keeps
// the first occurrence. Single-source mode retains only existing items from
// currentSource and appends new items of that same source; other sources'
// items are dropped from the working set.
func Merge(existing, incoming []EvidenceItem, strict bool, currentSource string) []EvidenceItem {
	if strict {
		combined := make([]EvidenceItem, 0, len(existing)+len(incoming))
		combined = append(combined, existing...)
		combined = append(combined, incoming...)
		return Dedupe(combined)
	}

	kept := make([]EvidenceItem, 0, len(existing)+len(incoming))
	for _, item := range existing {
		if item.Source == currentSource {
			kept = append(kept, item)
		}
	}
	for _, item := range incoming {
		if item.Source == currentSource {
			kept = append(kept, item)
		}
	}
	return Dedupe(kept)
}
