// Package eventstore is the append-only, authenticated, hash-chained
// event log that is the sole owner of persisted state (§3: "the Event
// Store owns persistence of all records; every other component derives
// state from the log; none holds authoritative state").
//
// Schema (BoltDB bucket layout):
//
//	/events              key: big-endian uint64 sequence   value: encode(Event)
//	/index/aggregate     key: aggregate_id + 0x00 + sequence value: sequence (8 bytes BE)
//	/index/type          key: event_type + 0x00 + sequence   value: sequence (8 bytes BE)
//	/checkpoints         key: big-endian uint64 sequence     value: opaque snapshot bytes
//	/meta                key: "schema_version","head_tag"    value: ...
//
// Consistency model:
//   - Single-process, single-writer (bbolt does not support concurrent
//     writers; appends are additionally serialized by appendMu so the
//     sequence-assignment + tag-computation + write is one atomic unit,
//     matching §4.1's "one atomic unit" requirement even though bbolt's
//     own transaction lock would serialize writes anyway).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//
// Failure modes:
//   - Chain corruption detected at Open: the full log is replayed from
//     sequence 1 and verified; on tag mismatch the log is
//     truncated to the last verified sequence and a log.truncated
//     recovery event is appended (§4.1 Failure semantics).
//   - Disk full / I/O error: Append returns a wrapped ErrIOError and the
//     store's halted flag is NOT set (only integrity violations halt the
//     store); callers may retry on a fresh health check.
package eventstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketEvents          = "events"
	bucketIndexAggregate  = "index/aggregate"
	bucketIndexType       = "index/type"
	bucketCheckpoints     = "checkpoints"
	bucketMeta            = "meta"

	metaKeySchemaVersion = "schema_version"
	metaKeyHeadTag       = "head_tag"
	metaKeyHeadSeq       = "head_seq"

	// defaultSubscriberQueueBound is the default backpressure bound for
	// Subscribe (§4.1: "the subscriber's pending queue exceeds a
	// configured bound").
	defaultSubscriberQueueBound = 256
)

// Store is the BoltDB-backed, HMAC-chained event log.
type Store struct {
	db     *bolt.DB
	secret []byte
	logger *zap.Logger

	appendMu sync.Mutex // serializes append: seq assign + tag compute + write

	mu      sync.RWMutex // guards headSeq, headTag, halted, subscribers
	headSeq Sequence
	headTag IntegrityTag
	halted  bool

	subscriberQueueBound int
	subscribers          map[*Subscription]struct{}
}

// Options configures Open.
type Options struct {
	// Secret is the HMAC chain key. Must be non-empty.
	Secret []byte

	// SubscriberQueueBound overrides defaultSubscriberQueueBound.
	SubscriberQueueBound int

	Logger *zap.Logger
}

// Open opens (or creates) the event store at path, replays and verifies
// the chain, and truncates on corruption per §4.1's recovery algorithm.
func Open(path string, opts Options) (*Store, error) {
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("eventstore.Open: secret must not be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bound := opts.SubscriberQueueBound
	if bound <= 0 {
		bound = defaultSubscriberQueueBound
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("eventstore.Open: bolt.Open(%q): %w", path, err)
	}

	s := &Store{
		db:                   bdb,
		secret:               append([]byte(nil), opts.Secret...),
		logger:               logger,
		subscriberQueueBound: bound,
		subscribers:          make(map[*Subscription]struct{}),
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketEvents, bucketIndexAggregate, bucketIndexType, bucketCheckpoints, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte(metaKeySchemaVersion)) == nil {
			if err := meta.Put([]byte(metaKeySchemaVersion), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("eventstore.Open: initialisation failed: %w", err)
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	if err := s.recover(); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("eventstore.Open: recovery failed: %w", err)
	}

	return s, nil
}

func (s *Store) checkSchemaVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte(metaKeySchemaVersion))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"eventstore: schema version mismatch: database has %q, core requires %q",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// recover replays the full primary log, verifying the HMAC chain.
// On the first tag mismatch it truncates the log to the last verified
// sequence and appends a log.truncated recovery event recording the cut.
func (s *Store) recover() error {
	var (
		prevTag   IntegrityTag
		lastGood  Sequence
		corrupted bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			ev, err := decode(v)
			if err != nil {
				corrupted = true
				return nil
			}
			expected := computeTag(s.secret, prevTag, ev)
			if expected != ev.IntegrityTag {
				corrupted = true
				return nil
			}
			prevTag = ev.IntegrityTag
			lastGood = ev.Sequence
			_ = k
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.headSeq = lastGood
	s.headTag = prevTag
	s.mu.Unlock()

	if corrupted {
		s.logger.Error("eventstore: chain corruption detected at recovery, truncating",
			zap.Uint64("last_verified_sequence", uint64(lastGood)))
		if err := s.truncateAfter(lastGood); err != nil {
			return fmt.Errorf("truncate after corruption: %w", err)
		}
		if _, _, err := s.appendUnchecked(EventDraft{
			EventType:   EventLogTruncated,
			AggregateID: "system:recovery",
			AgentID:     "system",
			Payload:     []byte(fmt.Sprintf(`{"truncated_after_sequence":%d}`, lastGood)),
		}); err != nil {
			return fmt.Errorf("append log.truncated: %w", err)
		}
	}

	return nil
}

// truncateAfter deletes every event, and its index entries, with
// sequence > keep.
func (s *Store) truncateAfter(keep Sequence) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket([]byte(bucketEvents))
		aggIdx := tx.Bucket([]byte(bucketIndexAggregate))
		typeIdx := tx.Bucket([]byte(bucketIndexType))

		c := events.Cursor()
		var toDelete []Event
		for k, v := c.Seek(seqKey(keep + 1)); k != nil; k, v = c.Next() {
			ev, err := decode(v)
			if err != nil {
				// Already-corrupt trailing bytes; still remove the raw key.
				if delErr := events.Delete(k); delErr != nil {
					return delErr
				}
				continue
			}
			toDelete = append(toDelete, ev)
		}
		for _, ev := range toDelete {
			if err := events.Delete(seqKey(ev.Sequence)); err != nil {
				return err
			}
			if err := aggIdx.Delete(indexKey(ev.AggregateID, ev.Sequence)); err != nil {
				return err
			}
			if err := typeIdx.Delete(indexKey(string(ev.EventType), ev.Sequence)); err != nil {
				return err
			}
		}
		return nil
	})
}

// computeTag computes tag_i = HMAC(secret, tag_{i-1} || encodeUnsigned(event_i)).
func computeTag(secret []byte, prev IntegrityTag, e Event) IntegrityTag {
	mac := hmac.New(sha256.New, secret)
	mac.Write(prev[:])
	mac.Write(encodeUnsigned(e))
	var out IntegrityTag
	copy(out[:], mac.Sum(nil))
	return out
}

// Close closes the underlying database and all subscriber channels.
func (s *Store) Close() error {
	s.mu.Lock()
	for sub := range s.subscribers {
		close(sub.events)
	}
	s.subscribers = nil
	s.mu.Unlock()
	return s.db.Close()
}

// Append validates, sequences, chains, and durably writes a new event.
// It fails with ErrUnauthenticated, ErrPermissionDenied, ErrSchemaInvalid,
// ErrStoreHalted or a wrapped ErrIOError. EventDraft carries no prior
// integrity tag, so a caller cannot pin the head it expects and Append
// never returns ErrIntegrityViolation.
func (s *Store) Append(ctx context.Context, draft EventDraft, caller identity.Identity) (Sequence, IntegrityTag, error) {
	if caller.AgentID == "" {
		return 0, IntegrityTag{}, ErrUnauthenticated
	}
	if !caller.Has(identity.PermEventAppend) {
		return 0, IntegrityTag{}, ErrPermissionDenied
	}
	if err := validateDraft(draft); err != nil {
		return 0, IntegrityTag{}, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}

	s.mu.RLock()
	halted := s.halted
	s.mu.RUnlock()
	if halted {
		return 0, IntegrityTag{}, ErrStoreHalted
	}

	return s.appendUnchecked(draft)
}

// appendUnchecked performs the append without authorization or schema
// checks; used for caller-authenticated drafts and internally-generated
// recovery events (log.truncated) that have no external caller.
func (s *Store) appendUnchecked(draft EventDraft) (Sequence, IntegrityTag, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	s.mu.RLock()
	prevSeq := s.headSeq
	prevTag := s.headTag
	s.mu.RUnlock()

	canonicalPayload, err := canonicalizeJSON(draft.Payload)
	if err != nil {
		return 0, IntegrityTag{}, fmt.Errorf("%w: payload: %v", ErrSchemaInvalid, err)
	}

	ev := Event{
		Sequence:    prevSeq + 1,
		EventID:     uuid.NewString(),
		EventType:   draft.EventType,
		AggregateID: draft.AggregateID,
		AgentID:     draft.AgentID,
		Timestamp:   time.Now().UTC(),
		CausationID: draft.CausationID,
		Payload:     canonicalPayload,
	}
	ev.IntegrityTag = computeTag(s.secret, prevTag, ev)

	err = s.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket([]byte(bucketEvents))
		aggIdx := tx.Bucket([]byte(bucketIndexAggregate))
		typeIdx := tx.Bucket([]byte(bucketIndexType))
		meta := tx.Bucket([]byte(bucketMeta))

		if err := events.Put(seqKey(ev.Sequence), encode(ev)); err != nil {
			return err
		}
		if err := aggIdx.Put(indexKey(ev.AggregateID, ev.Sequence), seqKey(ev.Sequence)); err != nil {
			return err
		}
		if err := typeIdx.Put(indexKey(string(ev.EventType), ev.Sequence), seqKey(ev.Sequence)); err != nil {
			return err
		}
		if err := meta.Put([]byte(metaKeyHeadTag), ev.IntegrityTag[:]); err != nil {
			return err
		}
		var seqBuf [8]byte
		binary.BigEndian.PutUint64(seqBuf[:], uint64(ev.Sequence))
		return meta.Put([]byte(metaKeyHeadSeq), seqBuf[:])
	})
	if err != nil {
		return 0, IntegrityTag{}, fmt.Errorf("%w: %v", ErrIOError, err)
	}

	s.mu.Lock()
	s.headSeq = ev.Sequence
	s.headTag = ev.IntegrityTag
	s.publishLocked(ev)
	s.mu.Unlock()

	return ev.Sequence, ev.IntegrityTag, nil
}

func validateDraft(d EventDraft) error {
	if !knownEventTypes[d.EventType] {
		return fmt.Errorf("unrecognized event_type %q", d.EventType)
	}
	if d.AggregateID == "" {
		return fmt.Errorf("aggregate_id must not be empty")
	}
	if d.AgentID == "" {
		return fmt.Errorf("agent_id must not be empty")
	}
	if err := validatePayloadSchema(d.EventType, d.Payload); err != nil {
		return fmt.Errorf("%s payload: %w", d.EventType, err)
	}
	return nil
}

// Query returns events matching filter in sequence order (§4.1).
func (s *Store) Query(ctx context.Context, filter QueryFilter, caller identity.Identity) (Page, error) {
	if caller.AgentID == "" {
		return Page{}, ErrUnauthenticated
	}
	if !caller.Has(identity.PermEventQuery) {
		return Page{}, ErrPermissionDenied
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	allowedTypes := make(map[EventType]bool, len(filter.EventTypes))
	for _, t := range filter.EventTypes {
		allowedTypes[t] = true
	}

	var page Page
	err := s.db.View(func(tx *bolt.Tx) error {
		events := tx.Bucket([]byte(bucketEvents))
		var cursor *bolt.Cursor

		from := filter.SequenceFrom
		if filter.Cursor != "" {
			parsed, perr := parseCursor(filter.Cursor)
			if perr != nil {
				return fmt.Errorf("invalid cursor: %w", perr)
			}
			from = parsed + 1
		}
		if from < 1 {
			from = 1
		}

		if filter.AggregateID != "" {
			idx := tx.Bucket([]byte(bucketIndexAggregate))
			cursor = idx.Cursor()
			for k, v := cursor.Seek(indexKey(filter.AggregateID, from)); k != nil; k, v = cursor.Next() {
				seq, ok := seqFromIndexKey(k, filter.AggregateID)
				if !ok {
					break
				}
				if filter.SequenceTo != 0 && seq > filter.SequenceTo {
					break
				}
				ev, err := s.loadEvent(events, seqFromIndexValue(v))
				if err != nil {
					return err
				}
				if len(allowedTypes) > 0 && !allowedTypes[ev.EventType] {
					continue
				}
				if len(page.Events) >= limit {
					page.HasMore = true
					break
				}
				page.Events = append(page.Events, ev)
			}
			return nil
		}

		c := events.Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			ev, err := decode(v)
			if err != nil {
				return fmt.Errorf("%w: decode event at key: %v", ErrIOError, err)
			}
			if filter.SequenceTo != 0 && ev.Sequence > filter.SequenceTo {
				break
			}
			if len(allowedTypes) > 0 && !allowedTypes[ev.EventType] {
				continue
			}
			if len(page.Events) >= limit {
				page.HasMore = true
				break
			}
			page.Events = append(page.Events, ev)
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}

	if len(page.Events) > 0 {
		page.NextCursor = formatCursor(page.Events[len(page.Events)-1].Sequence)
	}
	return page, nil
}

func (s *Store) loadEvent(events *bolt.Bucket, seq Sequence) (Event, error) {
	v := events.Get(seqKey(seq))
	if v == nil {
		return Event{}, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	return decode(v)
}

func seqFromIndexValue(v []byte) Sequence {
	return Sequence(binary.BigEndian.Uint64(v))
}

// seqFromIndexKey extracts the trailing sequence from a composite index
// key, verifying it still belongs to partition.
func seqFromIndexKey(k []byte, partition string) (Sequence, bool) {
	prefix := []byte(partition)
	if len(k) != len(prefix)+1+8 {
		return 0, false
	}
	for i, b := range prefix {
		if k[i] != b {
			return 0, false
		}
	}
	if k[len(prefix)] != 0x00 {
		return 0, false
	}
	return Sequence(binary.BigEndian.Uint64(k[len(prefix)+1:])), true
}

func formatCursor(seq Sequence) string {
	return fmt.Sprintf("%020d", uint64(seq))
}

func parseCursor(c string) (Sequence, error) {
	var v uint64
	if _, err := fmt.Sscanf(c, "%020d", &v); err != nil {
		return 0, err
	}
	return Sequence(v), nil
}

// IntegrityCheck verifies the chained tag across rng.
func (s *Store) IntegrityCheck(ctx context.Context, rng Range) (bool, error) {
	from := rng.From
	if from < 1 {
		from = 1
	}

	var prevTag IntegrityTag
	if from > 1 {
		var err error
		prevTag, err = s.tagAt(from - 1)
		if err != nil {
			return false, err
		}
	}

	ok := true
	err := s.db.View(func(tx *bolt.Tx) error {
		events := tx.Bucket([]byte(bucketEvents))
		c := events.Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			ev, derr := decode(v)
			if derr != nil {
				ok = false
				return nil
			}
			if rng.To != 0 && ev.Sequence > rng.To {
				break
			}
			expected := computeTag(s.secret, prevTag, ev)
			if expected != ev.IntegrityTag {
				ok = false
				return nil
			}
			prevTag = ev.IntegrityTag
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if !ok {
		s.mu.Lock()
		s.halted = true
		s.mu.Unlock()
		return false, ErrIntegrityViolation
	}
	return true, nil
}

func (s *Store) tagAt(seq Sequence) (IntegrityTag, error) {
	var tag IntegrityTag
	err := s.db.View(func(tx *bolt.Tx) error {
		events := tx.Bucket([]byte(bucketEvents))
		v := events.Get(seqKey(seq))
		if v == nil {
			return fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
		}
		ev, err := decode(v)
		if err != nil {
			return err
		}
		tag = ev.IntegrityTag
		return nil
	})
	return tag, err
}

// Head returns the current log head sequence and tag.
func (s *Store) Head() (Sequence, IntegrityTag) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headSeq, s.headTag
}
