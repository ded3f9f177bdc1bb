// Package storetest holds the behaviour every production store must share.
// Each backend's tests call Run with a factory returning an empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-ledger/production"
)

// Store is the full surface a backend exposes.
type Store interface {
	production.TxStore
	production.CatalogStore
}

// Factory returns an empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) Store

var (
	now     = time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC)
	march10 = production.NewDate(2025, time.March, 10)
)

// Run executes the shared suite against the store returned by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetBatch", func(t *testing.T) { testCreateAndGetBatch(t, newStore(t)) })
	t.Run("GetBatchNotFound", func(t *testing.T) { testGetBatchNotFound(t, newStore(t)) })
	t.Run("CompareAndSetStatus", func(t *testing.T) { testCompareAndSetStatus(t, newStore(t)) })
	t.Run("ReplaceItems", func(t *testing.T) { testReplaceItems(t, newStore(t)) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, newStore(t)) })
	t.Run("AppendAllAtomic", func(t *testing.T) { testAppendAllAtomic(t, newStore(t)) })
	t.Run("EntriesFilter", func(t *testing.T) { testEntriesFilter(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
}

// NewBatch builds a pending batch with the given items, ids derived from id.
func NewBatch(id production.BatchID, items ...production.LineItem) production.Batch {
	for i := range items {
		items[i].BatchID = id
		if items[i].ID == "" {
			items[i].ID = production.LineItemID(string(id) + "-" + string(rune('a'+i)))
		}
	}
	return production.Batch{
		ID:             id,
		ProductionDate: march10,
		Status:         production.StatusPending,
		SubmittedBy:    "workshop-1",
		Items:          items,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func entry(id, key string, product production.ProductID, dir production.Direction, n int64, date production.Date) production.LedgerEntry {
	return production.LedgerEntry{
		ID:             production.EntryID(id),
		ProductID:      product,
		Direction:      dir,
		Quantity:       decimal.NewFromInt(n),
		EffectiveDate:  date,
		Remark:         "production inbound [batch b]",
		Actor:          "inspector",
		IdempotencyKey: key,
		CreatedAt:      now,
	}
}

func testCreateAndGetBatch(t *testing.T, s Store) {
	ctx := context.Background()
	b := NewBatch("b-1",
		production.LineItem{ProductID: "A", Quantity: 5, Category: production.CategoryFinished},
		production.LineItem{ProductID: "SemiX", Quantity: 10, Category: production.CategoryRelabelOut, TargetProductID: "FinY"},
		production.LineItem{ProductID: "FinY", Quantity: 10, Category: production.CategoryRelabelIn},
	)
	b.Remark = "night shift"

	id, err := s.CreateBatch(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)

	got, err := s.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, got.Status)
	assert.True(t, got.ProductionDate.Equal(march10))
	assert.Equal(t, "night shift", got.Remark)
	assert.Nil(t, got.ConfirmedBy)
	assert.Nil(t, got.RejectReason)
	assert.True(t, got.CreatedAt.Equal(now))

	// Submission order is preserved
	require.Len(t, got.Items, 3)
	assert.Equal(t, production.ProductID("A"), got.Items[0].ProductID)
	assert.Equal(t, production.CategoryRelabelOut, got.Items[1].Category)
	assert.Equal(t, production.ProductID("FinY"), got.Items[1].TargetProductID)
	assert.Equal(t, production.ProductID("FinY"), got.Items[2].ProductID)
	assert.Empty(t, got.Items[2].TargetProductID)
}

func testGetBatchNotFound(t *testing.T, s Store) {
	_, err := s.GetBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, production.ErrBatchNotFound)
}

func testCompareAndSetStatus(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateBatch(ctx, NewBatch("b-1",
		production.LineItem{ProductID: "A", Quantity: 1, Category: production.CategoryFinished}))
	require.NoError(t, err)

	actor := production.ActorID("inspector")
	at := now.Add(time.Hour)
	reason := "wrong counts"

	// WHEN: pending -> rejected
	err = s.CompareAndSetStatus(ctx, "b-1", production.StatusPending, production.Transition{
		Status:       production.StatusRejected,
		ConfirmedBy:  &actor,
		ConfirmedAt:  &at,
		RejectReason: &reason,
		At:           at,
	})
	require.NoError(t, err)

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, production.StatusRejected, got.Status)
	require.NotNil(t, got.RejectReason)
	assert.Equal(t, reason, *got.RejectReason)
	require.NotNil(t, got.ConfirmedBy)
	assert.Equal(t, actor, *got.ConfirmedBy)
	assert.Equal(t, 0, got.Revision)

	// THEN: a second transition expecting pending loses
	err = s.CompareAndSetStatus(ctx, "b-1", production.StatusPending, production.Transition{
		Status: production.StatusConfirmed,
		At:     at,
	})
	assert.ErrorIs(t, err, production.ErrStatusConflict)

	// Resubmission clears the review fields and bumps the revision
	err = s.CompareAndSetStatus(ctx, "b-1", production.StatusRejected, production.Transition{
		Status:      production.StatusPending,
		At:          at,
		NewRevision: true,
	})
	require.NoError(t, err)
	got, err = s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, got.Status)
	assert.Nil(t, got.RejectReason)
	assert.Nil(t, got.ConfirmedBy)
	assert.Equal(t, 1, got.Revision)

	// A caller pinned to the pre-resubmission revision loses
	stale := 0
	err = s.CompareAndSetStatus(ctx, "b-1", production.StatusPending, production.Transition{
		Status:           production.StatusConfirmed,
		ConfirmedBy:      &actor,
		ConfirmedAt:      &at,
		At:               at,
		ExpectedRevision: &stale,
	})
	assert.ErrorIs(t, err, production.ErrStatusConflict)
	got, err = s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, got.Status)
	assert.Nil(t, got.ConfirmedBy)

	current := 1
	err = s.CompareAndSetStatus(ctx, "b-1", production.StatusPending, production.Transition{
		Status:           production.StatusConfirmed,
		ConfirmedBy:      &actor,
		ConfirmedAt:      &at,
		At:               at,
		ExpectedRevision: &current,
	})
	require.NoError(t, err)

	err = s.CompareAndSetStatus(ctx, "missing", production.StatusPending, production.Transition{Status: production.StatusConfirmed})
	assert.ErrorIs(t, err, production.ErrBatchNotFound)
}

func testReplaceItems(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateBatch(ctx, NewBatch("b-1",
		production.LineItem{ProductID: "A", Quantity: 1, Category: production.CategoryFinished},
		production.LineItem{ProductID: "B", Quantity: 2, Category: production.CategoryFinished},
	))
	require.NoError(t, err)

	err = s.ReplaceItems(ctx, "b-1", []production.LineItem{
		{ID: "b-1-z", BatchID: "b-1", ProductID: "B", Quantity: 7, Category: production.CategorySemiFinished},
	})
	require.NoError(t, err)

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, production.LineItemID("b-1-z"), got.Items[0].ID)
	assert.Equal(t, 7, got.Items[0].Quantity)
}

func testListAndCount(t *testing.T, s Store) {
	ctx := context.Background()
	for _, id := range []production.BatchID{"b-1", "b-2", "b-3"} {
		_, err := s.CreateBatch(ctx, NewBatch(id,
			production.LineItem{ProductID: "A", Quantity: 1, Category: production.CategoryFinished}))
		require.NoError(t, err)
	}
	require.NoError(t, s.CompareAndSetStatus(ctx, "b-2", production.StatusPending, production.Transition{
		Status: production.StatusConfirmed,
		At:     now,
	}))

	pending, err := s.ListBatches(ctx, production.BatchFilter{Status: production.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	for _, b := range pending {
		assert.Equal(t, production.StatusPending, b.Status)
		assert.Len(t, b.Items, 1)
	}

	all, err := s.ListBatches(ctx, production.BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.ListBatches(ctx, production.BatchFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := s.CountByStatus(ctx, production.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.CountByStatus(ctx, production.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testListNewestFirst(t *testing.T, s Store) {
	ctx := context.Background()

	// GIVEN: batches created within the same second
	offsets := map[production.BatchID]time.Duration{
		"b-0":   0,
		"b-100": 100 * time.Millisecond,
		"b-120": 120 * time.Millisecond,
		"b-500": 500 * time.Millisecond,
	}
	for _, id := range []production.BatchID{"b-0", "b-100", "b-120", "b-500"} {
		b := NewBatch(id, production.LineItem{ProductID: "A", Quantity: 1, Category: production.CategoryFinished})
		b.CreatedAt = now.Add(offsets[id])
		b.UpdatedAt = b.CreatedAt
		_, err := s.CreateBatch(ctx, b)
		require.NoError(t, err)
	}

	// WHEN: listing
	got, err := s.ListBatches(ctx, production.BatchFilter{})
	require.NoError(t, err)

	// THEN: sub-second creation times order correctly
	ids := make([]production.BatchID, len(got))
	for i, b := range got {
		ids[i] = b.ID
	}
	assert.Equal(t, []production.BatchID{"b-500", "b-120", "b-100", "b-0"}, ids)
	assert.True(t, got[0].CreatedAt.Equal(now.Add(500*time.Millisecond)))
}

func testAppendAllAtomic(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.AppendAll(ctx, []production.LedgerEntry{
		entry("e-1", "b:1:in", "A", production.DirectionIn, 5, march10),
	}))

	// GIVEN: a batch whose last entry reuses an existing key
	// THEN: nothing from the batch is written
	err := s.AppendAll(ctx, []production.LedgerEntry{
		entry("e-2", "b:2:in", "B", production.DirectionIn, 3, march10),
		entry("e-3", "b:1:in", "A", production.DirectionIn, 5, march10),
	})
	assert.ErrorIs(t, err, production.ErrDuplicateIdempotencyKey)

	// Duplicates inside a single call are rejected too
	err = s.AppendAll(ctx, []production.LedgerEntry{
		entry("e-4", "b:3:in", "B", production.DirectionIn, 1, march10),
		entry("e-5", "b:3:in", "B", production.DirectionIn, 1, march10),
	})
	assert.ErrorIs(t, err, production.ErrDuplicateIdempotencyKey)

	entries, err := s.Entries(ctx, production.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, production.EntryID("e-1"), entries[0].ID)
	assert.True(t, entries[0].Quantity.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "b:1:in", entries[0].IdempotencyKey)
}

func testEntriesFilter(t *testing.T, s Store) {
	ctx := context.Background()
	march9 := march10.AddDays(-1)
	march11 := march10.AddDays(1)

	require.NoError(t, s.AppendAll(ctx, []production.LedgerEntry{
		entry("e-1", "k1", "A", production.DirectionIn, 5, march11),
		entry("e-2", "k2", "A", production.DirectionOut, 2, march9),
		entry("e-3", "k3", "B", production.DirectionIn, 4, march10),
		entry("e-4", "k4", "A", production.DirectionIn, 1, march10),
	}))

	byProduct, err := s.Entries(ctx, production.EntryFilter{ProductID: "A"})
	require.NoError(t, err)
	require.Len(t, byProduct, 3)
	// Ordered by effective date
	assert.Equal(t, production.EntryID("e-2"), byProduct[0].ID)
	assert.Equal(t, production.EntryID("e-4"), byProduct[1].ID)
	assert.Equal(t, production.EntryID("e-1"), byProduct[2].ID)
	assert.Equal(t, "4", production.StockOnHand(byProduct).String())

	ranged, err := s.Entries(ctx, production.EntryFilter{From: march10, To: march10})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)
}

func testWithTxRollback(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateBatch(ctx, NewBatch("b-1",
		production.LineItem{ProductID: "A", Quantity: 1, Category: production.CategoryFinished}))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx production.Store) error {
		if err := tx.CompareAndSetStatus(ctx, "b-1", production.StatusPending, production.Transition{
			Status: production.StatusConfirmed,
			At:     now,
		}); err != nil {
			return err
		}
		if err := tx.AppendAll(ctx, []production.LedgerEntry{
			entry("e-1", "b-1:1:in", "A", production.DirectionIn, 1, march10),
		}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, production.BatchEvent{
			BatchID: "b-1", Type: production.EventConfirmed, Actor: "x",
			From: production.StatusPending, To: production.StatusConfirmed, At: now,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, got.Status, "status rolled back")

	entries, err := s.Entries(ctx, production.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "ledger rolled back")

	events, err := s.Events(ctx, "b-1")
	require.NoError(t, err)
	assert.Empty(t, events, "audit rolled back")

	// A committed transaction is visible afterwards
	err = s.WithTx(ctx, func(tx production.Store) error {
		return tx.CompareAndSetStatus(ctx, "b-1", production.StatusPending, production.Transition{
			Status: production.StatusConfirmed,
			At:     now,
		})
	})
	require.NoError(t, err)
	got, err = s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, production.StatusConfirmed, got.Status)
}

func testEvents(t *testing.T, s Store) {
	ctx := context.Background()
	for i, ev := range []production.BatchEvent{
		{BatchID: "b-1", Type: production.EventSubmitted, Actor: "w", To: production.StatusPending},
		{BatchID: "b-1", Type: production.EventRejected, Actor: "i", From: production.StatusPending, To: production.StatusRejected, Note: "recount"},
		{BatchID: "b-2", Type: production.EventSubmitted, Actor: "w", To: production.StatusPending},
	} {
		ev.At = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.AppendEvent(ctx, ev))
	}

	events, err := s.Events(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, production.EventSubmitted, events[0].Type)
	assert.Empty(t, events[0].From)
	assert.Equal(t, production.EventRejected, events[1].Type)
	assert.Equal(t, "recount", events[1].Note)
	assert.Equal(t, production.StatusPending, events[1].From)
}

func testCatalog(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveProduct(ctx, production.Product{ID: "B", Name: "Product B", Kind: production.KindFinished}))
	require.NoError(t, s.SaveProduct(ctx, production.Product{ID: "A", Name: "Product A", Spec: "1kg", Kind: production.KindFinished}))
	require.NoError(t, s.SaveProduct(ctx, production.Product{ID: "A", Name: "Product A2", Spec: "2kg", Kind: production.KindFinished}))

	p, err := s.Lookup(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "Product A2 (2kg)", p.Label())

	_, err = s.Lookup(ctx, "Z")
	assert.ErrorIs(t, err, production.ErrProductNotFound)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, production.ProductID("A"), products[0].ID)
	assert.Equal(t, production.ProductID("B"), products[1].ID)
}
