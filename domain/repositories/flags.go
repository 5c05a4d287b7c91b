package repositories

import (
	"context"
	"time"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// ClientFlagRepository holds durable per-client state that outlives any
// single session: the policy-violation ban and the active order snapshot
// used for restart recovery.
type ClientFlagRepository interface {
	// BannedUntil returns the client's ban expiry. The zero time means the
	// client has never been banned.
	BannedUntil(ctx context.Context, clientID string) (time.Time, error)

	// SetBannedUntil records a ban expiry for the client.
	SetBannedUntil(ctx context.Context, clientID string, until time.Time) error

	// CurrentOrder returns the client's saved active order snapshot, or nil
	// when none is stored.
	CurrentOrder(ctx context.Context, clientID string) (*entities.Order, error)

	// SetCurrentOrder stores the client's active order snapshot.
	SetCurrentOrder(ctx context.Context, clientID string, order *entities.Order) error

	// ClearCurrentOrder removes the snapshot once the order is terminal.
	ClearCurrentOrder(ctx context.Context, clientID string) error
}
