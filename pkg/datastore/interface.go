package datastore

import (
	"context"
	"time"

	"github.com/NicolasHaas/relaychat/pkg/model"
)

// PresenceStore records when display names were admitted and when they left.
// Implementations include the SQLite store; the server treats a nil store as
// "audit log disabled".
type PresenceStore interface {
	PresenceReadProvider
	PresenceWriteProvider
	Close() error
}

// Compile-time check: *SQLStore implements PresenceStore.
var _ PresenceStore = (*SQLStore)(nil)

type PresenceReadProvider interface {
	ListPresence(ctx context.Context, filters model.PresenceFilters) ([]model.Presence, error)
}

type PresenceWriteProvider interface {
	RecordJoin(ctx context.Context, p *model.Presence) error
	RecordLeave(ctx context.Context, sessionID string, at time.Time) error
	CloseDangling(ctx context.Context, at time.Time) (int64, error)
}
