// Package outbox is a pebble-backed at-least-once delivery queue for
// events that must reach the host chain's settlement layer even across
// a process restart: fills against a Global maker and completed
// withdrawals, each recorded here with PutNew before anything tries to
// broadcast it (internal/broadcast drains this queue). The matching and
// withdrawal code under pkg/ does not call PutNew itself.
//
// Adapted from the exit WAL: same NEW -> SENT -> ACKED state machine
// and pebble key-value layout, generalized from "exit record" to a
// tagged event kind so both fill and withdrawal events share one queue.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Kind distinguishes the two event families the engine must hand off
// to the host: a Global maker fill (the host owes the pool its share)
// and a completed withdrawal (the host owes the trader atoms back).
type Kind uint8

const (
	KindGlobalFill Kind = iota
	KindWithdrawal
)

// Record is one outbox entry: a durable copy of the event payload plus
// its delivery state.
type Record struct {
	Seq         uint64
	Kind        Kind
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

func encodeRecord(r Record) []byte {
	buf := make([]byte, 1+1+4+8+len(r.Payload))
	buf[0] = byte(r.Kind)
	buf[1] = byte(r.State)
	binary.BigEndian.PutUint32(buf[2:6], r.Retries)
	binary.BigEndian.PutUint64(buf[6:14], uint64(r.LastAttempt))
	copy(buf[14:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < 14 {
		return Record{}, errors.New("outbox: record shorter than its fixed header")
	}
	payload := make([]byte, len(b)-14)
	copy(payload, b[14:])
	return Record{
		Seq:         seq,
		Kind:        Kind(b[0]),
		State:       State(b[1]),
		Retries:     binary.BigEndian.Uint32(b[2:6]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[6:14])),
		Payload:     payload,
	}, nil
}

// Outbox is the durable queue itself.
type Outbox struct {
	db *pebble.DB
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{DisableWAL: false})
	if err != nil {
		return nil, err
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error { return o.db.Close() }

// PutNew enqueues a new event, durably, before the caller acknowledges
// whatever triggered it (a fill, a withdrawal) back to its own caller.
func (o *Outbox) PutNew(seq uint64, kind Kind, payload []byte) error {
	rec := Record{Seq: seq, Kind: kind, State: StateNew, Payload: payload}
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// MarkSent records that a broadcast attempt was made, without yet
// knowing whether it was acked by the downstream broker.
func (o *Outbox) MarkSent(seq uint64, retries uint32, now int64) error {
	return o.updateState(seq, StateSent, retries, now)
}

// MarkAcked records successful delivery; Sweep can later reclaim it.
func (o *Outbox) MarkAcked(seq uint64, now int64) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	return o.updateState(seq, StateAcked, rec.Retries, now)
}

func (o *Outbox) updateState(seq uint64, state State, retries uint32, now int64) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = now
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// Sweep deletes the record for seq, reclaiming its space. It does not
// check the record's state; callers use it on ACKED records.
func (o *Outbox) Sweep(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// ScanPending visits every record not yet ACKED, in key (Seq) order —
// the order internal/broadcast relies on for replay-in-sequence.
func (o *Outbox) ScanPending(fn func(rec Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("evt/"),
		UpperBound: []byte("evt/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("evt/%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(b[len("evt/"):]), "%020d", &seq)
	return seq, err
}

// Now is the outbox's only escape hatch to wall-clock time, kept to a
// single call site so callers (and tests) can stub it if needed.
func Now() int64 { return time.Now().UnixNano() }
