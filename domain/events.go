package domain

const (
	DragStarted  = "drag-start"
	DragOver     = "drag-over"
	DragEnded    = "drag-end"
	DragCanceled = "drag-cancel"
)

// Event is a single input from the presentation layer.
type Event struct {
	// IdempotencyKey lets clients retry a batch without applying it twice.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Type           string `json:"type"`
	ItemID         string `json:"itemId,omitempty"`
	TargetID       string `json:"targetId,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// KnownEventType reports whether t is one of the drag event types.
func KnownEventType(t string) bool {
	switch t {
	case DragStarted, DragOver, DragEnded, DragCanceled:
		return true
	}
	return false
}
