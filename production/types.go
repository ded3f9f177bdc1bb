/*
Package production provides the production-confirmation reconciliation core.

PURPOSE:
  A production batch is a list of "we made these products today" line items
  submitted by the workshop. A second party reviews it and either rejects it
  or confirms it. Confirmation turns the batch into inventory ledger movements,
  exactly once, dated to the day the goods were produced.

KEY CONCEPTS IN THIS FILE (types.go):
  - Batch: The submitted production record and its approval metadata
  - LineItem: One product/quantity entry, tagged with a closed Category
  - LedgerEntry: An append-only inventory movement (in or out)
  - Product: Catalog record used to render audit remarks

DESIGN PRINCIPLES:
  1. Closed variants: Category, Status and Direction are exhaustively handled
  2. Append-only ledger: Entries are never modified or deleted
  3. Audit record: Batches are never deleted, only transitioned
  4. Ledger quantities use decimal.Decimal; line item quantities are integers

USAGE:
  engine := production.NewEngine(store, store)
  batch, err := engine.Submit(ctx, production.SubmitInput{...})
  result, err := engine.Confirm(ctx, batch.ID, "inspector-7")

SEE ALSO:
  - engine.go: Confirm / Reject / Resubmit orchestration
  - pairing.go: Relabel pairing
  - derive.go: Line items to ledger entries
  - state.go: Approval state machine
*/
package production

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BatchID string
type LineItemID string
type ProductID string
type EntryID string
type ActorID string

// =============================================================================
// CATEGORY - Closed variant for line items
// =============================================================================

type Category string

const (
	CategoryFinished     Category = "finished"
	CategorySemiFinished Category = "semi_finished"
	CategoryRelabelIn    Category = "relabel_in"  // finished product produced by relabeling
	CategoryRelabelOut   Category = "relabel_out" // semi-finished product consumed by relabeling
)

// Categories lists every category in canonical order.
var Categories = []Category{
	CategoryFinished,
	CategorySemiFinished,
	CategoryRelabelIn,
	CategoryRelabelOut,
}

func (c Category) Valid() bool {
	switch c {
	case CategoryFinished, CategorySemiFinished, CategoryRelabelIn, CategoryRelabelOut:
		return true
	}
	return false
}

func (c Category) IsRelabel() bool {
	return c == CategoryRelabelIn || c == CategoryRelabelOut
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// =============================================================================
// BATCH
// =============================================================================

// LineItem is one product/quantity entry within a batch.
// TargetProductID is only set for relabel_out items and names the finished
// product the semi-finished stock is relabeled as.
type LineItem struct {
	ID              LineItemID
	BatchID         BatchID
	ProductID       ProductID
	Quantity        int
	Category        Category
	TargetProductID ProductID
}

// Batch is a submitted production record. It is the audit record of the
// submission and is never deleted.
type Batch struct {
	ID             BatchID
	ProductionDate Date
	Status         Status
	SubmittedBy    ActorID
	Remark         string
	Items          []LineItem

	// Review metadata. ConfirmedBy/ConfirmedAt are also set by rejection
	// (they record the reviewing actor) and cleared by resubmission.
	ConfirmedBy  *ActorID
	ConfirmedAt  *time.Time
	RejectReason *string

	// Revision counts resubmissions, starting at 0.
	Revision  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item returns the line item with the given id.
func (b *Batch) Item(id LineItemID) (LineItem, bool) {
	for _, it := range b.Items {
		if it.ID == id {
			return it, true
		}
	}
	return LineItem{}, false
}

// CountByCategory returns how many line items carry each category.
func (b *Batch) CountByCategory() map[Category]int {
	counts := make(map[Category]int, len(Categories))
	for _, it := range b.Items {
		counts[it.Category]++
	}
	return counts
}

// Transition carries the metadata written together with a status change.
// Nil pointers clear the corresponding column.
type Transition struct {
	Status       Status
	ConfirmedBy  *ActorID
	ConfirmedAt  *time.Time
	RejectReason *string
	At           time.Time

	// NewRevision increments Batch.Revision (resubmission).
	NewRevision bool

	// ExpectedRevision, when set, also requires the stored revision to
	// match. It pins the items a caller derived from.
	ExpectedRevision *int
}

// BatchFilter narrows ListBatches. Zero values mean "any".
type BatchFilter struct {
	Status      Status
	SubmittedBy ActorID
	Limit       int
}

// =============================================================================
// LEDGER ENTRY - Append-only inventory movement
// =============================================================================

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// LedgerEntry is one inventory movement for one product.
// The ledger carries no foreign key to the batch; the batch id only appears
// in Remark for human traceability.
type LedgerEntry struct {
	ID             EntryID
	ProductID      ProductID
	Direction      Direction
	Quantity       decimal.Decimal
	EffectiveDate  Date
	Remark         string
	Actor          ActorID
	IdempotencyKey string
	CreatedAt      time.Time
}

// Signed returns the quantity with inbound positive and outbound negative.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionOut {
		return e.Quantity.Neg()
	}
	return e.Quantity
}

// EntryFilter narrows ledger reads. Zero values mean "any".
type EntryFilter struct {
	ProductID ProductID
	From      Date
	To        Date
}

// Matches reports whether e falls inside the filter.
func (f EntryFilter) Matches(e LedgerEntry) bool {
	if f.ProductID != "" && e.ProductID != f.ProductID {
		return false
	}
	if !f.From.IsZero() && e.EffectiveDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.EffectiveDate.After(f.To) {
		return false
	}
	return true
}

// StockOnHand replays entries into a net quantity.
func StockOnHand(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Signed())
	}
	return total
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

type ProductKind string

const (
	KindFinished     ProductKind = "finished"
	KindSemiFinished ProductKind = "semi_finished"
)

type Product struct {
	ID   ProductID
	Name string
	Spec string
	Kind ProductKind
}

// Label renders the product for remarks, e.g. "Red Paint (5L tin)".
func (p Product) Label() string {
	if p.Spec == "" {
		return p.Name
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Spec)
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

type EventType string

const (
	EventSubmitted   EventType = "submitted"
	EventConfirmed   EventType = "confirmed"
	EventRejected    EventType = "rejected"
	EventResubmitted EventType = "resubmitted"
)

// BatchEvent records who moved a batch and when. Separate from the ledger.
type BatchEvent struct {
	BatchID BatchID
	Type    EventType
	Actor   ActorID
	From    Status
	To      Status
	Note    string
	At      time.Time
}
