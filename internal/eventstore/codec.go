package eventstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// codecVersion is bumped whenever the encoding below changes shape. Per
// §6, any encoder change is a log-format version bump requiring a
// migration event; it is not meant to be changed casually.
const codecVersion uint8 = 1

// encodeUnsigned writes the canonical, deterministic encoding of every
// field except IntegrityTag. This is the byte string the chain tag is
// computed over: tag_i = HMAC(secret, tag_{i-1} || encodeUnsigned(event_i)).
//
// Fixed field order, length-prefixed strings, fixed-width numerics — a
// stable binary encoding per §6, not JSON (JSON key order is deterministic
// for our payload maps too, but the outer envelope is binary so the tag
// computation never depends on a JSON library's formatting choices).
func encodeUnsigned(e Event) []byte {
	var buf bytes.Buffer
	buf.WriteByte(codecVersion)
	writeUint64(&buf, uint64(e.Sequence))
	writeString(&buf, e.EventID)
	writeString(&buf, string(e.EventType))
	writeString(&buf, e.AggregateID)
	writeString(&buf, e.AgentID)
	writeInt64(&buf, e.Timestamp.UTC().UnixNano())
	writeString(&buf, e.CausationID)
	writeBytes(&buf, e.Payload)
	return buf.Bytes()
}

// encode writes the full canonical event, including the integrity tag,
// for persistence. decode(encode(e)) == e for every event (Testable
// Property 4).
func encode(e Event) []byte {
	var buf bytes.Buffer
	buf.Write(encodeUnsigned(e))
	buf.Write(e.IntegrityTag[:])
	return buf.Bytes()
}

// decode parses the bytes produced by encode back into an Event.
func decode(b []byte) (Event, error) {
	r := bytes.NewReader(b)

	version, err := r.ReadByte()
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: read version: %w", err)
	}
	if version != codecVersion {
		return Event{}, fmt.Errorf("eventstore: decode: unsupported codec version %d", version)
	}

	var e Event

	seq, err := readUint64(r)
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: sequence: %w", err)
	}
	e.Sequence = Sequence(seq)

	if e.EventID, err = readString(r); err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: event_id: %w", err)
	}
	var eventType string
	if eventType, err = readString(r); err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: event_type: %w", err)
	}
	e.EventType = EventType(eventType)
	if e.AggregateID, err = readString(r); err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: aggregate_id: %w", err)
	}
	if e.AgentID, err = readString(r); err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: agent_id: %w", err)
	}

	ts, err := readInt64(r)
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: timestamp: %w", err)
	}
	e.Timestamp = time.Unix(0, ts).UTC()

	if e.CausationID, err = readString(r); err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: causation_id: %w", err)
	}

	payload, err := readBytes(r)
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: decode: payload: %w", err)
	}
	e.Payload = payload

	var tag [32]byte
	n, err := r.Read(tag[:])
	if err != nil || n != 32 {
		return Event{}, fmt.Errorf("eventstore: decode: integrity_tag: short read (%d bytes, err=%v)", n, err)
	}
	e.IntegrityTag = IntegrityTag(tag)

	return e, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := r.Read(l[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(l[:])
	if n == 0 {
		return []byte{}, nil
	}
	b := make([]byte, n)
	read, err := r.Read(b)
	if err != nil {
		return nil, err
	}
	if uint32(read) != n {
		return nil, fmt.Errorf("short read: wanted %d bytes, got %d", n, read)
	}
	return b, nil
}

// seqKey encodes a Sequence as a big-endian 8-byte BoltDB key so
// lexicographic byte order matches numeric order.
func seqKey(seq Sequence) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seq))
	return b[:]
}

// indexKey builds a composite secondary-index key: the partition string
// (aggregate_id or event_type), a NUL separator (invalid in either
// partition value), and the big-endian sequence.
func indexKey(partition string, seq Sequence) []byte {
	key := make([]byte, 0, len(partition)+1+8)
	key = append(key, []byte(partition)...)
	key = append(key, 0x00)
	key = append(key, seqKey(seq)...)
	return key
}
