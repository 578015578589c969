package domain

// Snapshot is the outbound view of a board that renderers consume.
type Snapshot struct {
	Version uint64           `json:"version"`
	Buckets []BucketSnapshot `json:"buckets"`
	Active  *Item            `json:"active,omitempty"`
}

// BucketSnapshot lists the items of one bucket in order, with payloads
// resolved from the registry.
type BucketSnapshot struct {
	ID      string `json:"id"`
	Label   string `json:"label,omitempty"`
	Color   string `json:"color"`
	Default bool   `json:"default,omitempty"`
	Items   []Item `json:"items"`
}

// NewSnapshot renders st. Item ids missing from reg are skipped.
func NewSnapshot(reg *Registry, st State) Snapshot {
	snap := Snapshot{Version: st.Version, Active: st.Active}
	if st.Buckets == nil {
		return snap
	}
	def := st.Buckets.Default()
	snap.Buckets = make([]BucketSnapshot, 0, len(st.Buckets.buckets))
	for _, b := range st.Buckets.buckets {
		bs := BucketSnapshot{
			ID:      b.ID,
			Label:   b.Label,
			Color:   b.Color,
			Default: b.ID == def,
			Items:   make([]Item, 0, len(b.Items)),
		}
		for _, id := range b.Items {
			if it, ok := reg.Lookup(id); ok {
				bs.Items = append(bs.Items, it)
			}
		}
		snap.Buckets = append(snap.Buckets, bs)
	}
	return snap
}

// Snapshot renders the latest committed state of the board.
func (b *Board) Snapshot() Snapshot {
	return NewSnapshot(b.reg, b.State())
}
