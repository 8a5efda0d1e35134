package projectaggregate

import (
	"context"

	"go.uber.org/zap"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

// Subscriber is the narrow view of eventstore.Store the aggregate needs
// to stay live: query for the initial rebuild and subscribe for
// ongoing updates.
type Subscriber interface {
	Reader
	Subscribe(ctx context.Context, filter eventstore.QueryFilter, caller identity.Identity) (*eventstore.Subscription, error)
}

// Follow rebuilds the aggregate from the log and then folds every
// subsequent event as it is appended, until ctx is cancelled or the
// subscription is dropped. Because Fold is idempotent per sequence, a
// subscriber reconnect (and its backlog replay) is safe to run twice.
func Follow(ctx context.Context, store Subscriber, caller identity.Identity, logger *zap.Logger) (*Aggregate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	agg, err := Rebuild(ctx, store, 0, caller)
	if err != nil {
		return nil, err
	}

	sub, err := store.Subscribe(ctx, eventstore.QueryFilter{
		EventTypes: []eventstore.EventType{
			eventstore.EventFileWritten,
			eventstore.EventShadowAnnotated,
			eventstore.EventSnapshotCreated,
			eventstore.EventPairSuggested,
		},
		SequenceFrom: agg.Head() + 1,
	}, caller)
	if err != nil {
		return nil, err
	}

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					if err := sub.Err(); err != nil {
						logger.Warn("project aggregate subscription dropped", zap.Error(err))
					}
					return
				}
				if err := agg.Fold(ev); err != nil {
					logger.Warn("project aggregate failed to fold event", zap.Uint64("sequence", uint64(ev.Sequence)), zap.Error(err))
				}
			}
		}
	}()

	return agg, nil
}
