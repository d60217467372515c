// Package journal is the append-only audit trail of administrative
// actions: stock lifecycle mutations, undo outcomes and session changes.
// Entries are stored in pebble under big-endian sequence keys so that
// iteration order is append order.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Entry types written by the services.
const (
	TypeStockCreated   = "stock.created"
	TypeStockListed    = "stock.listed"
	TypeStockDelisted  = "stock.delisted"
	TypeDistributed    = "stock.distributed"
	TypeUndoRecorded   = "undo.recorded"
	TypeUndoApplied    = "undo.applied"
	TypeUndoStale      = "undo.stale"
	TypePhaseChanged   = "session.phase_changed"
	TypeModeChanged    = "session.mode_changed"
	TypeAuctionCleared = "auction.cleared"
)

var keyPrefix = []byte("audit:")

// Entry is one audit record.
type Entry struct {
	Seq       uint64            `json:"seq"`
	At        time.Time         `json:"at"`
	Type      string            `json:"type"`
	StockCode string            `json:"stock_code,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Journal persists entries in a pebble database.
type Journal struct {
	mu  sync.Mutex
	db  *pebble.DB
	seq uint64
	now func() time.Time
}

// Open opens the journal stored in dir. An empty dir keeps the journal in
// memory for the life of the process.
func Open(dir string) (*Journal, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %q: %w", dir, err)
	}

	j := &Journal{db: db, now: time.Now}
	if err := j.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// loadSeq resumes the sequence after the last stored entry.
func (j *Journal) loadSeq() error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: upperBound(keyPrefix),
	})
	if err != nil {
		return fmt.Errorf("failed to scan journal: %w", err)
	}
	defer iter.Close()

	if iter.Last() {
		j.seq = seqOf(iter.Key())
	}
	return iter.Error()
}

// Close flushes and closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append assigns the next sequence number and timestamp to e and stores it.
func (j *Journal) Append(e Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e.Seq = j.seq + 1
	if e.At.IsZero() {
		e.At = j.now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	if err := j.db.Set(key(e.Seq), data, pebble.Sync); err != nil {
		return Entry{}, fmt.Errorf("failed to write journal entry: %w", err)
	}
	j.seq = e.Seq
	return e, nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	StockCode string
	Type      string
}

func (f Filter) match(e Entry) bool {
	return (f.StockCode == "" || e.StockCode == f.StockCode) && (f.Type == "" || e.Type == f.Type)
}

// List returns up to limit matching entries, newest first.
func (j *Journal) List(f Filter, limit int) ([]Entry, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: upperBound(keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	defer iter.Close()

	entries := []Entry{}
	for iter.Last(); iter.Valid() && len(entries) < limit; iter.Prev() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("failed to decode journal entry %d: %w", seqOf(iter.Key()), err)
		}
		if f.match(e) {
			entries = append(entries, e)
		}
	}
	return entries, iter.Error()
}

func key(seq uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], seq)
	return k
}

func seqOf(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(keyPrefix):])
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
