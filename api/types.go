package api

import (
	"context"

	"github.com/idejanristic/tierListMaker/domain"
)

// BoardStore hands out the board of a user.
type BoardStore interface {
	Get(userID string) (*domain.Board, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents applying a retried event twice.
type Deduper interface {
	// AddMany records the keys and reports, per key, whether it was newly added.
	AddMany(ctx context.Context, userID string, keys []string) ([]bool, error)
	// Remove deletes a previously added key, used when the batch was not applied.
	Remove(ctx context.Context, userID, key string) error
}

// SnapshotStore receives every committed snapshot.
type SnapshotStore interface {
	Store(ctx context.Context, userID string, snap domain.Snapshot) error
}
