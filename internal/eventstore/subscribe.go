package eventstore

import (
	"context"

	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

// Subscription is a restartable, lazy sequence of events (§4.1). A slow
// subscriber whose pending queue exceeds the store's configured bound is
// dropped: its Events channel is closed and Err returns ErrLagging.
type Subscription struct {
	events chan Event
	filter QueryFilter
	err    error
	store  *Store
}

// Events returns the channel of matching events. The channel is closed
// when the subscription is dropped (lagging) or the store is closed.
func (sub *Subscription) Events() <-chan Event {
	return sub.events
}

// Err returns the reason the subscription's channel was closed, or nil
// if it was closed because the store itself closed.
func (sub *Subscription) Err() error {
	return sub.err
}

// Close unregisters the subscription.
func (sub *Subscription) Close() {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	if _, ok := sub.store.subscribers[sub]; ok {
		delete(sub.store.subscribers, sub)
		close(sub.events)
	}
}

// Subscribe registers a live feed of events matching filter, replaying
// from filter.SequenceFrom first if set, then switching to live
// delivery. Restartable from any sequence number.
func (s *Store) Subscribe(ctx context.Context, filter QueryFilter, caller identity.Identity) (*Subscription, error) {
	if caller.AgentID == "" {
		return nil, ErrUnauthenticated
	}
	if !caller.Has(identity.PermEventQuery) {
		return nil, ErrPermissionDenied
	}

	sub := &Subscription{
		events: make(chan Event, s.subscriberQueueBound),
		filter: filter,
		store:  s,
	}

	if filter.SequenceFrom > 0 {
		backlog, err := s.Query(ctx, QueryFilter{
			AggregateID:  filter.AggregateID,
			EventTypes:   filter.EventTypes,
			SequenceFrom: filter.SequenceFrom,
		}, caller)
		if err != nil {
			return nil, err
		}
		for _, ev := range backlog.Events {
			select {
			case sub.events <- ev:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	return sub, nil
}

// publishLocked fans ev out to every subscriber whose filter matches.
// Must be called with s.mu held for write. A subscriber whose queue is
// full is dropped per the backpressure invariant rather than blocking
// the writer.
func (s *Store) publishLocked(ev Event) {
	for sub := range s.subscribers {
		if !matchesFilter(sub.filter, ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			sub.err = ErrLagging
			delete(s.subscribers, sub)
			close(sub.events)
		}
	}
}

func matchesFilter(f QueryFilter, ev Event) bool {
	if f.AggregateID != "" && f.AggregateID != ev.AggregateID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == ev.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
