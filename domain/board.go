package domain

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// State is a committed version of a board.
type State struct {
	Version uint64
	Buckets *BucketSet
	Active  *Item
}

// Board owns the item registry, the committed bucket set and the drag
// session of one user. Apply must be called from a single goroutine at a
// time; State may be read from anywhere.
type Board struct {
	reg     *Registry
	session *DragSession
	state   atomic.Pointer[State]
	log     *log.Logger
}

// BoardOption configures a Board.
type BoardOption func(*Board)

// WithLogger makes the board report ignored events to logger instead of the
// standard logrus logger.
func WithLogger(logger *log.Logger) BoardOption {
	return func(b *Board) {
		if logger != nil {
			b.log = logger
		}
	}
}

// NewBoard creates a board from a validated catalog.
func NewBoard(c Catalog, opts ...BoardOption) (*Board, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	reg, err := NewRegistry(c.Items)
	if err != nil {
		return nil, err
	}
	set, err := NewBucketSet(c.Buckets, c.DefaultBucket, reg)
	if err != nil {
		return nil, err
	}
	b := &Board{reg: reg, session: NewDragSession(reg), log: log.StandardLogger()}
	for _, opt := range opts {
		opt(b)
	}
	b.state.Store(&State{Version: 1, Buckets: set})
	return b, nil
}

func (b *Board) Registry() *Registry { return b.reg }

// State returns the latest committed state.
func (b *Board) State() State {
	return *b.state.Load()
}

// Apply processes ev against the latest committed state and reports whether
// a new version was committed. Unknown references are ignored.
func (b *Board) Apply(ev Event) (State, bool) {
	cur := b.state.Load()
	switch ev.Type {
	case DragStarted:
		if active, ok := b.session.Current(); ok && active.ID == ev.ItemID {
			return *cur, false
		}
		if !b.session.Begin(ev.ItemID) {
			b.log.WithFields(log.Fields{"item": ev.ItemID}).Debug("drag-start for unknown item ignored")
			return *cur, false
		}
		return b.commit(cur, cur.Buckets), true
	case DragOver:
		active, ok := b.session.Current()
		if !ok {
			return *cur, false
		}
		if ev.ItemID != "" && ev.ItemID != active.ID {
			b.log.WithFields(log.Fields{"item": ev.ItemID, "active": active.ID}).Debug("stale drag-over ignored")
			return *cur, false
		}
		next := Reconcile(cur.Buckets, active.ID, ev.TargetID)
		if next == cur.Buckets {
			return *cur, false
		}
		return b.commit(cur, next), true
	case DragEnded, DragCanceled:
		_, wasActive := b.session.Current()
		b.session.End()
		if !wasActive {
			return *cur, false
		}
		return b.commit(cur, cur.Buckets), true
	default:
		b.log.WithField("type", ev.Type).Warn("unknown board event ignored")
		return *cur, false
	}
}

func (b *Board) commit(cur *State, set *BucketSet) State {
	next := &State{Version: cur.Version + 1, Buckets: set}
	if it, ok := b.session.Current(); ok {
		next.Active = &it
	}
	b.state.Store(next)
	return *next
}
