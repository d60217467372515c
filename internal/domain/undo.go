package domain

import "time"

// UndoKind is the stock-lifecycle mutation an undo entry reverses.
type UndoKind string

const (
	UndoKindCreate     UndoKind = "create"
	UndoKindList       UndoKind = "list"
	UndoKindDelist     UndoKind = "delist"
	UndoKindDistribute UndoKind = "distribute"
)

// UndoSnapshot is the state of a stock before a lifecycle mutation.
// Stock is nil when the stock did not exist yet.
type UndoSnapshot struct {
	Stock       *Stock
	Allocations []*Allocation
}

// UndoEntry is the single live undo record of a stock.
type UndoEntry struct {
	ID         string
	Seq        uint64
	StockCode  string
	Kind       UndoKind
	Snapshot   UndoSnapshot
	RecordedAt time.Time
	RecordedBy string
}
