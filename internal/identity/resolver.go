package identity

import (
	"context"
	"errors"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// Resolver looks up the account owning a channel address, consulting the
// snapshot cache first and falling back to Postgres.
type Resolver struct {
	store  *Store
	cache  *SnapshotCache
	logger *logging.Logger
}

// NewResolver builds a resolver. The cache is optional; when nil every
// resolution reads through to the store.
func NewResolver(store *Store, cache *SnapshotCache, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("identity: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{store: store, cache: cache, logger: logger}
}

// ResolveChannel returns the account snapshot for a provisioned channel
// address. A missing account returns ErrAccountNotFound; cache failures are
// logged and treated as misses.
func (r *Resolver) ResolveChannel(ctx context.Context, channelAddress string) (*UserContext, error) {
	if r.cache != nil {
		snapshot, err := r.cache.Get(ctx, channelAddress)
		if err != nil {
			r.logger.Warn("account cache read failed", "channel_address", channelAddress, "error", err)
		} else if snapshot != nil {
			return snapshot, nil
		}
	}

	account, err := r.store.FindByChannelAddress(ctx, channelAddress)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	snapshot := account.Snapshot()
	if r.cache != nil {
		if err := r.cache.Set(ctx, channelAddress, snapshot); err != nil {
			r.logger.Warn("account cache write failed", "channel_address", channelAddress, "error", err)
		}
	}
	return snapshot, nil
}
