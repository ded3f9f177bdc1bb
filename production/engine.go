/*
engine.go - Reconciliation engine: submit, confirm, reject, resubmit

CONFIRM FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  lock ──▶ load ──▶ guard ──▶ pair ──▶ derive ──▶ ┌── tx ───────┐ │
  │                                                  │ CAS pending │ │
  │                                                  │ AppendAll   │ │
  │                                                  │ audit event │ │
  │                                                  └─────────────┘ │
  └──────────────────────────────────────────────────────────────────┘

ATOMICITY:
  Entries are derived and staged in memory first. The status
  compare-and-set and the ledger append then run in one store transaction.
  If any entry fails to write, the transaction rolls back: no entry is
  visible and the batch is still pending, so the caller can retry the whole
  confirm.

EXACTLY-ONCE:
  The compare-and-set only succeeds from pending. A second confirm, whether
  sequential or racing, fails the guard and writes nothing. Each entry also
  carries an idempotency key derived from batch, item and direction, which
  the stores enforce as unique.

REJECTION:
  A pure state transition; no ledger effect. Rejected batches can be edited
  and resubmitted by their submitter, which clears the review metadata and
  returns them to pending.
*/
package production

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Engine orchestrates the approval workflow.
type Engine struct {
	Store   TxStore
	Catalog ProductCatalog
	Locker  Locker // optional
	Logger  logrus.FieldLogger
	Now     func() time.Time
	NewID   func() string
}

type Option func(*Engine)

func WithLocker(l Locker) Option { return func(e *Engine) { e.Locker = l } }

func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.Logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.Now = now } }

func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.NewID = f } }

func NewEngine(store TxStore, catalog ProductCatalog, opts ...Option) *Engine {
	e := &Engine{
		Store:   store,
		Catalog: catalog,
		Logger:  logrus.StandardLogger(),
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ConfirmResult is what a successful confirmation wrote.
type ConfirmResult struct {
	Batch   *Batch
	Entries []LedgerEntry
	Pairs   int
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit validates and persists a new pending batch.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*Batch, error) {
	items, err := ValidateSubmission(in)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	b := Batch{
		ID:             BatchID(e.NewID()),
		ProductionDate: in.ProductionDate,
		Status:         StatusPending,
		SubmittedBy:    in.SubmittedBy,
		Remark:         in.Remark,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i := range items {
		items[i].ID = LineItemID(e.NewID())
		items[i].BatchID = b.ID
	}
	b.Items = items

	err = e.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.CreateBatch(ctx, b); err != nil {
			return err
		}
		return s.AppendEvent(ctx, BatchEvent{
			BatchID: b.ID, Type: EventSubmitted, Actor: in.SubmittedBy, To: StatusPending, At: now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}

	e.Logger.WithFields(logrus.Fields{
		"batch_id": b.ID,
		"actor":    in.SubmittedBy,
		"items":    len(b.Items),
	}).Info("production batch submitted")
	return &b, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// Confirm applies every derived ledger entry and marks the batch confirmed,
// or does neither.
func (e *Engine) Confirm(ctx context.Context, id BatchID, actor ActorID) (*ConfirmResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	release, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := e.Store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := NextStatus(id, b.Status, ActionConfirm)
	if err != nil {
		return nil, err
	}

	entries, pairing := e.derive(ctx, b, actor)
	now := e.Now()
	for i := range entries {
		entries[i].ID = EntryID(e.NewID())
		entries[i].CreatedAt = now
	}

	// A reject and resubmit landing after the read bumps the revision, so
	// entries derived from stale items never commit.
	revision := b.Revision
	err = e.Store.WithTx(ctx, func(s Store) error {
		if err := s.CompareAndSetStatus(ctx, id, StatusPending, Transition{
			Status:           next,
			ConfirmedBy:      &actor,
			ConfirmedAt:      &now,
			At:               now,
			ExpectedRevision: &revision,
		}); err != nil {
			return err
		}
		if err := s.AppendAll(ctx, entries); err != nil {
			return &LedgerWriteError{BatchID: id, Entries: len(entries), Cause: err}
		}
		return s.AppendEvent(ctx, BatchEvent{
			BatchID: id, Type: EventConfirmed, Actor: actor, From: StatusPending, To: next,
			Note: fmt.Sprintf("%d ledger entries", len(entries)), At: now,
		})
	})
	if err != nil {
		return nil, e.transitionFailed(id, ActionConfirm, b.Status, err)
	}

	b.Status = next
	b.ConfirmedBy = &actor
	b.ConfirmedAt = &now
	b.UpdatedAt = now

	e.Logger.WithFields(logrus.Fields{
		"batch_id": id,
		"actor":    actor,
		"from":     StatusPending,
		"to":       next,
		"entries":  len(entries),
		"pairs":    pairing.Len(),
	}).Info("production batch confirmed")

	return &ConfirmResult{Batch: b, Entries: entries, Pairs: pairing.Len()}, nil
}

// Preview returns the entries a confirmation would write, without writing.
func (e *Engine) Preview(ctx context.Context, id BatchID) ([]LedgerEntry, error) {
	b, err := e.Store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, _ := e.derive(ctx, b, "")
	return entries, nil
}

func (e *Engine) derive(ctx context.Context, b *Batch, actor ActorID) ([]LedgerEntry, Pairing) {
	pairing := ResolvePairing(b.Items)
	label, misses := CatalogLabeler(ctx, e.Catalog, b.Items, pairing)
	for pid, err := range misses {
		e.Logger.WithFields(logrus.Fields{
			"batch_id":   b.ID,
			"product_id": pid,
		}).WithError(err).Warn("product lookup failed, using placeholder label")
	}
	return DeriveEntries(b, pairing, label, actor), pairing
}

// =============================================================================
// REJECT
// =============================================================================

// Reject moves a pending batch to rejected. No ledger effect.
func (e *Engine) Reject(ctx context.Context, id BatchID, actor ActorID, reason string) (*Batch, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{
			Message:  "a reject reason is required",
			Problems: []FieldProblem{{Field: "Reason", Rule: "required"}},
		}
	}
	release, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := e.Store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := NextStatus(id, b.Status, ActionReject)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	err = e.Store.WithTx(ctx, func(s Store) error {
		if err := s.CompareAndSetStatus(ctx, id, StatusPending, Transition{
			Status:       next,
			ConfirmedBy:  &actor,
			ConfirmedAt:  &now,
			RejectReason: &reason,
			At:           now,
		}); err != nil {
			return err
		}
		return s.AppendEvent(ctx, BatchEvent{
			BatchID: id, Type: EventRejected, Actor: actor, From: StatusPending, To: next, Note: reason, At: now,
		})
	})
	if err != nil {
		return nil, e.transitionFailed(id, ActionReject, b.Status, err)
	}

	b.Status = next
	b.ConfirmedBy = &actor
	b.ConfirmedAt = &now
	b.RejectReason = &reason
	b.UpdatedAt = now

	e.Logger.WithFields(logrus.Fields{
		"batch_id": id,
		"actor":    actor,
		"from":     StatusPending,
		"to":       next,
		"reason":   reason,
	}).Info("production batch rejected")
	return b, nil
}

// =============================================================================
// RESUBMIT
// =============================================================================

// Resubmit replaces a rejected batch's items and returns it to pending.
// Items sent with an id keep it; items without one are new.
func (e *Engine) Resubmit(ctx context.Context, id BatchID, in ResubmitInput) (*Batch, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	release, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := e.Store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := NextStatus(id, b.Status, ActionResubmit)
	if err != nil {
		return nil, err
	}
	if b.SubmittedBy != in.Actor {
		return nil, ErrNotSubmitter
	}
	items, err := ValidateResubmission(b, in)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = LineItemID(e.NewID())
		}
		items[i].BatchID = id
	}

	previousReason := ""
	if b.RejectReason != nil {
		previousReason = *b.RejectReason
	}

	now := e.Now()
	revision := b.Revision
	err = e.Store.WithTx(ctx, func(s Store) error {
		if err := s.CompareAndSetStatus(ctx, id, StatusRejected, Transition{
			Status:           next,
			At:               now,
			NewRevision:      true,
			ExpectedRevision: &revision,
		}); err != nil {
			return err
		}
		if err := s.ReplaceItems(ctx, id, items); err != nil {
			return err
		}
		return s.AppendEvent(ctx, BatchEvent{
			BatchID: id, Type: EventResubmitted, Actor: in.Actor, From: StatusRejected, To: next,
			Note: previousReason, At: now,
		})
	})
	if err != nil {
		return nil, e.transitionFailed(id, ActionResubmit, b.Status, err)
	}

	e.Logger.WithFields(logrus.Fields{
		"batch_id": id,
		"actor":    in.Actor,
		"from":     StatusRejected,
		"to":       next,
		"items":    len(items),
	}).Info("production batch resubmitted")

	return e.Store.GetBatch(ctx, id)
}

// =============================================================================
// QUERIES
// =============================================================================

// PendingCount is the on-demand replacement for polling the pending total.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.Store.CountByStatus(ctx, StatusPending)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) acquire(ctx context.Context, id BatchID) (func(), error) {
	if e.Locker == nil {
		return func() {}, nil
	}
	return e.Locker.Acquire(ctx, LockKey(id))
}

// transitionFailed maps a failed transaction to the error reported to the caller.
func (e *Engine) transitionFailed(id BatchID, a Action, observed Status, err error) error {
	log := e.Logger.WithFields(logrus.Fields{
		"batch_id": id,
		"action":   a,
	})
	switch {
	case errors.Is(err, ErrStatusConflict):
		log.Warn("lost concurrent update")
		return &GuardViolationError{BatchID: id, Action: a, Current: observed, Concurrent: true}
	case errors.Is(err, ErrLedgerWrite):
		log.WithError(err).Error("ledger write failed, batch left pending")
		return err
	default:
		log.WithError(err).Error("transition failed")
		return fmt.Errorf("%s batch %s: %w", a, id, err)
	}
}

func requireActor(actor ActorID) error {
	if strings.TrimSpace(string(actor)) == "" {
		return &ValidationError{
			Message:  "an actor is required",
			Problems: []FieldProblem{{Field: "Actor", Rule: "required"}},
		}
	}
	return nil
}
