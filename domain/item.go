package domain

import "fmt"

// Payload carries the display data of an item. It is never inspected by the
// reconciliation logic.
type Payload struct {
	Image string `json:"src"`
	Label string `json:"label,omitempty"`
}

// Item is a single draggable entry of the catalog.
type Item struct {
	ID      string  `json:"id"`
	Payload Payload `json:"payload"`
}

// Registry is the immutable catalog of all items known to a board.
type Registry struct {
	items []Item
	index map[string]int
}

// NewRegistry builds a registry from items, keeping catalog order.
func NewRegistry(items []Item) (*Registry, error) {
	r := &Registry{
		items: make([]Item, 0, len(items)),
		index: make(map[string]int, len(items)),
	}
	for _, it := range items {
		if it.ID == "" {
			return nil, ErrEmptyID
		}
		if _, dup := r.index[it.ID]; dup {
			return nil, fmt.Errorf("item %s: %w", it.ID, ErrDuplicateID)
		}
		r.index[it.ID] = len(r.items)
		r.items = append(r.items, it)
	}
	return r, nil
}

func (r *Registry) Lookup(id string) (Item, bool) {
	i, ok := r.index[id]
	if !ok {
		return Item{}, false
	}
	return r.items[i], true
}

// Items returns a copy of all items in catalog order.
func (r *Registry) Items() []Item {
	return append([]Item(nil), r.items...)
}

func (r *Registry) Len() int { return len(r.items) }
