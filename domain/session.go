package domain

// DragSession tracks the single item being dragged, if any.
type DragSession struct {
	reg    *Registry
	active *Item
}

func NewDragSession(reg *Registry) *DragSession {
	return &DragSession{reg: reg}
}

// Begin records itemID as the active item. Unknown ids are ignored and
// leave the session as it was. It reports whether the item was recorded.
func (d *DragSession) Begin(itemID string) bool {
	it, ok := d.reg.Lookup(itemID)
	if !ok {
		return false
	}
	d.active = &it
	return true
}

// End clears the active item whether or not the gesture had a valid drop.
func (d *DragSession) End() {
	d.active = nil
}

// Current returns the active item, or false when no drag is in progress.
func (d *DragSession) Current() (Item, bool) {
	if d.active == nil {
		return Item{}, false
	}
	return *d.active, true
}
