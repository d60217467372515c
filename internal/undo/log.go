// Package undo keeps the single compensating action available for stock
// lifecycle mutations. Each stock has at most one live entry; only the
// most recent entry across all stocks can be undone.
package undo

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/journal"
)

// Applier decides whether an entry can still be reversed and reverses it.
type Applier interface {
	// Stale reports whether state created after the entry makes the
	// rollback unsafe.
	Stale(entry domain.UndoEntry) bool
	// Apply restores entry.Snapshot. It must not mutate anything on error.
	Apply(entry domain.UndoEntry) error
}

// Guard is implemented by appliers whose Stale and Apply must run as one
// step against the entry's stock. Guard calls fn with that stock locked.
type Guard interface {
	Guard(entry domain.UndoEntry, fn func() error) error
}

// Auditor receives the audit records of the log. *journal.Journal
// implements it.
type Auditor interface {
	Append(e journal.Entry) (journal.Entry, error)
}

// Log is the process-wide undo log. All reads and writes serialise on mu.
type Log struct {
	mu      sync.Mutex
	entries map[string]domain.UndoEntry // stock code → live entry
	seq     uint64
	auditor Auditor
	now     func() time.Time
}

// NewLog creates an empty log. auditor may be nil.
func NewLog(auditor Auditor) *Log {
	return &Log{
		entries: make(map[string]domain.UndoEntry),
		auditor: auditor,
		now:     time.Now,
	}
}

// Record stores the pre-mutation snapshot of a stock, replacing any entry
// the stock already had.
func (l *Log) Record(code string, kind domain.UndoKind, snapshot domain.UndoSnapshot, by string) domain.UndoEntry {
	l.mu.Lock()
	l.seq++
	e := domain.UndoEntry{
		ID:         uuid.New().String(),
		Seq:        l.seq,
		StockCode:  code,
		Kind:       kind,
		Snapshot:   snapshot,
		RecordedAt: l.now(),
		RecordedBy: by,
	}
	l.entries[code] = e
	l.mu.Unlock()

	l.audit(journal.TypeUndoRecorded, e, by)
	return e
}

// Latest returns the live entry of a stock.
func (l *Log) Latest(code string) (domain.UndoEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[code]
	if !ok {
		return domain.UndoEntry{}, fmt.Errorf("%w: %s", domain.ErrNothingToUndo, code)
	}
	return e, nil
}

// Len returns the number of live entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Discard drops the live entry of a stock, if any.
func (l *Log) Discard(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, code)
}

// UndoLast reverses the most recent entry across all stocks. A stale entry
// is deleted and ErrUndoStale returned, so a retry moves on to the next
// candidate. The log stays locked while the applier runs.
func (l *Log) UndoLast(ctx context.Context, by string, applier Applier) (domain.UndoEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.UndoEntry{}, err
	}

	l.mu.Lock()
	e, ok := l.latest()
	if !ok {
		l.mu.Unlock()
		return domain.UndoEntry{}, domain.ErrNothingToUndo
	}

	var stale bool
	step := func() error {
		if applier.Stale(e) {
			stale = true
			return nil
		}
		return applier.Apply(e)
	}
	var err error
	if g, ok := applier.(Guard); ok {
		err = g.Guard(e, step)
	} else {
		err = step()
	}
	if err != nil {
		l.mu.Unlock()
		return domain.UndoEntry{}, err
	}

	if stale {
		delete(l.entries, e.StockCode)
		l.mu.Unlock()

		slog.Warn("undo entry is stale", "stock", e.StockCode, "kind", string(e.Kind), "seq", e.Seq, "by", by)
		l.audit(journal.TypeUndoStale, e, by)
		return e, fmt.Errorf("%w: %s %s has downstream state", domain.ErrUndoStale, e.Kind, e.StockCode)
	}

	delete(l.entries, e.StockCode)
	l.mu.Unlock()

	slog.Info("undo applied", "stock", e.StockCode, "kind", string(e.Kind), "seq", e.Seq, "by", by)
	l.audit(journal.TypeUndoApplied, e, by)
	return e, nil
}

// latest returns the entry with the highest sequence. The caller must hold
// l.mu.
func (l *Log) latest() (domain.UndoEntry, bool) {
	var (
		best  domain.UndoEntry
		found bool
	)
	for _, e := range l.entries {
		if !found || e.Seq > best.Seq {
			best, found = e, true
		}
	}
	return best, found
}

func (l *Log) audit(typ string, e domain.UndoEntry, by string) {
	if l.auditor == nil {
		return
	}
	_, err := l.auditor.Append(journal.Entry{
		Type:      typ,
		StockCode: e.StockCode,
		Actor:     by,
		Detail: map[string]string{
			"entry_id": e.ID,
			"kind":     string(e.Kind),
			"seq":      strconv.FormatUint(e.Seq, 10),
		},
	})
	if err != nil {
		slog.Error("failed to journal undo event", "type", typ, "stock", e.StockCode, "error", err)
	}
}
