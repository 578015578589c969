package domain

import "slices"

// Reconcile computes the bucket set that results from hovering the active
// item over target, which is either a bucket id or another item's id.
//
// The result is s itself whenever nothing changes: an unknown active item,
// an unknown target, or a hover over the item's own position. Callers may
// compare pointers to detect a no-op.
func Reconcile(s *BucketSet, activeID, targetID string) *BucketSet {
	if s == nil || activeID == "" || targetID == "" {
		return s
	}
	src, oldIndex := s.locate(activeID)
	if src < 0 {
		return s
	}

	// Hovering the empty area of a bucket appends to it, including the bucket
	// the item is already in.
	if dst, ok := s.index[targetID]; ok {
		if dst == src {
			items := moveItem(s.buckets[src].Items, oldIndex, len(s.buckets[src].Items)-1)
			if items == nil {
				return s
			}
			return s.with(map[int][]string{src: items})
		}
		return s.with(map[int][]string{
			src: removeAt(s.buckets[src].Items, oldIndex),
			dst: append(slices.Clone(s.buckets[dst].Items), activeID),
		})
	}

	if newIndex := slices.Index(s.buckets[src].Items, targetID); newIndex >= 0 {
		items := moveItem(s.buckets[src].Items, oldIndex, newIndex)
		if items == nil {
			return s
		}
		return s.with(map[int][]string{src: items})
	}

	dst, overIndex := s.locate(targetID)
	if dst < 0 {
		return s
	}
	return s.with(map[int][]string{
		src: removeAt(s.buckets[src].Items, oldIndex),
		dst: slices.Insert(slices.Clone(s.buckets[dst].Items), overIndex, activeID),
	})
}

// moveItem returns a new sequence with the element at from moved to to,
// shifting the elements in between by one. It returns nil when from == to.
func moveItem(items []string, from, to int) []string {
	if from == to {
		return nil
	}
	out := removeAt(items, from)
	return slices.Insert(out, to, items[from])
}

func removeAt(items []string, i int) []string {
	out := make([]string, 0, len(items))
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}
