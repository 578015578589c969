package storage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/idejanristic/tierListMaker/domain"
)

type boardEntry struct {
	board    *domain.Board
	lastUsed time.Time
}

// Boards keeps one in-memory board per user, created from the catalog on
// first use and dropped after idleTTL without activity.
type Boards struct {
	catalog domain.Catalog
	idleTTL time.Duration
	now     func() time.Time
	log     *log.Logger

	// OnEvict, when set, is called for every user whose board was evicted.
	OnEvict func(userID string)

	mu     sync.Mutex
	boards map[string]*boardEntry
}

// NewBoards validates the catalog once so later board creation cannot fail
// on bad input. Boards created by Get log to logger.
func NewBoards(catalog domain.Catalog, idleTTL time.Duration, logger *log.Logger) (*Boards, error) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	if idleTTL < 0 {
		idleTTL = 0
	}
	return &Boards{
		catalog: catalog,
		idleTTL: idleTTL,
		now:     time.Now,
		log:     logger,
		boards:  make(map[string]*boardEntry),
	}, nil
}

// Get returns the board of userID, creating it if needed.
func (b *Boards) Get(userID string) (*domain.Board, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.boards[userID]; ok {
		e.lastUsed = b.now()
		return e.board, nil
	}
	board, err := domain.NewBoard(b.catalog, domain.WithLogger(b.log))
	if err != nil {
		return nil, err
	}
	b.boards[userID] = &boardEntry{board: board, lastUsed: b.now()}
	b.log.WithField("user", userID).Debug("board created")
	return board, nil
}

// Len returns the number of live boards.
func (b *Boards) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.boards)
}

// Evict drops boards idle for longer than the idle TTL and returns how many
// were removed. A zero TTL keeps boards forever.
func (b *Boards) Evict() int {
	if b.idleTTL == 0 {
		return 0
	}
	cutoff := b.now().Add(-b.idleTTL)
	b.mu.Lock()
	var evicted []string
	for user, e := range b.boards {
		if e.lastUsed.Before(cutoff) {
			delete(b.boards, user)
			evicted = append(evicted, user)
		}
	}
	b.mu.Unlock()
	if b.OnEvict != nil {
		for _, user := range evicted {
			b.OnEvict(user)
		}
	}
	return len(evicted)
}

// RunEviction calls Evict every interval until ctx is done.
func (b *Boards) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 || b.idleTTL == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Evict(); n > 0 {
				b.log.WithField("evicted", n).Info("idle boards evicted")
			}
		}
	}
}
