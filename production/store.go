/*
store.go - Persistence contracts for batches, ledger and catalog

KEY INTERFACES:
  BatchStore:     Batch create/read and the guarded status update
  LedgerWriter:   All-or-nothing append of ledger entries
  LedgerReader:   Read-only ledger queries
  EventLog:       Batch audit trail
  ProductCatalog: Product name/spec lookup for remarks
  TxStore:        Runs several of the above in one atomic unit

APPEND-ONLY CONTRACT:
  The ledger has no Update or Delete. AppendAll either writes every entry or
  none; a duplicate idempotency key aborts the whole call.

COMPARE-AND-SET:
  CompareAndSetStatus only writes when the stored status equals expected.
  Otherwise it returns ErrStatusConflict and changes nothing. This is the
  single-writer guard for confirm/reject/resubmit.

IMPLEMENTATIONS:
  - production/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go:     SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx
*/
package production

import "context"

// BatchStore persists batches and their line items.
type BatchStore interface {
	// CreateBatch persists a new batch with its items.
	CreateBatch(ctx context.Context, b Batch) (BatchID, error)

	// GetBatch returns the batch with items in submission order.
	// Returns ErrBatchNotFound if absent.
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)

	// ListBatches returns batches newest first.
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)

	// CountByStatus is the on-demand pending-count query.
	CountByStatus(ctx context.Context, status Status) (int, error)

	// CompareAndSetStatus applies next only if the stored status equals
	// expected and, when next.ExpectedRevision is set, the stored revision
	// matches it.
	CompareAndSetStatus(ctx context.Context, id BatchID, expected Status, next Transition) error

	// ReplaceItems swaps the batch's line items, keeping supplied ids.
	ReplaceItems(ctx context.Context, id BatchID, items []LineItem) error
}

// LedgerWriter is the append-only movement sink.
type LedgerWriter interface {
	// AppendAll writes every entry or none.
	AppendAll(ctx context.Context, entries []LedgerEntry) error
}

// LedgerReader reads committed ledger entries ordered by effective date.
type LedgerReader interface {
	Entries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
}

// EventLog stores batch audit events. Also append-only.
type EventLog interface {
	AppendEvent(ctx context.Context, ev BatchEvent) error
	Events(ctx context.Context, id BatchID) ([]BatchEvent, error)
}

// ProductCatalog resolves product display data. Read-only for the core.
type ProductCatalog interface {
	Lookup(ctx context.Context, id ProductID) (Product, error)
}

// CatalogStore extends ProductCatalog with maintenance operations used by
// the HTTP layer.
type CatalogStore interface {
	ProductCatalog
	SaveProduct(ctx context.Context, p Product) error
	ListProducts(ctx context.Context) ([]Product, error)
}

// Store is everything the engine writes within one unit of work.
type Store interface {
	BatchStore
	LedgerWriter
	LedgerReader
	EventLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is
	// rolled back. If fn returns nil, they are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
