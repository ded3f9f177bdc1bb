package production_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-ledger/production"
	"github.com/warp/production-ledger/production/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	fixedNow   = time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC)
	march10    = production.NewDate(2025, time.March, 10)
	submitter  = production.ActorID("workshop-1")
	inspector  = production.ActorID("inspector-7")
	inspector2 = production.ActorID("inspector-8")
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(t *testing.T, opts ...production.Option) (*production.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	for _, p := range []production.Product{
		{ID: "A", Name: "Product A", Spec: "1kg bag", Kind: production.KindFinished},
		{ID: "B", Name: "Product B", Spec: "500g bag", Kind: production.KindFinished},
		{ID: "SemiX", Name: "Semi X", Spec: "bulk", Kind: production.KindSemiFinished},
		{ID: "FinY", Name: "Fin Y", Spec: "boxed", Kind: production.KindFinished},
	} {
		require.NoError(t, mem.SaveProduct(ctx, p))
	}

	var mu sync.Mutex
	seq := 0
	base := []production.Option{
		production.WithLogger(quietLogger()),
		production.WithClock(func() time.Time { return fixedNow }),
		production.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	}
	return production.NewEngine(mem, mem, append(base, opts...)...), mem
}

func item(product production.ProductID, qty int, cat production.Category) production.ItemInput {
	return production.ItemInput{ProductID: product, Quantity: qty, Category: cat}
}

func relabelOut(product production.ProductID, qty int, target production.ProductID) production.ItemInput {
	return production.ItemInput{ProductID: product, Quantity: qty, Category: production.CategoryRelabelOut, TargetProductID: target}
}

func submit(t *testing.T, eng *production.Engine, items ...production.ItemInput) *production.Batch {
	t.Helper()
	b, err := eng.Submit(context.Background(), production.SubmitInput{
		ProductionDate: march10,
		SubmittedBy:    submitter,
		Items:          items,
	})
	require.NoError(t, err)
	return b
}

func allEntries(t *testing.T, mem *store.Memory) []production.LedgerEntry {
	t.Helper()
	entries, err := mem.Entries(context.Background(), production.EntryFilter{})
	require.NoError(t, err)
	return entries
}

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// =============================================================================
// SCENARIOS
// =============================================================================

func TestConfirm_SimpleBatch(t *testing.T) {
	// GIVEN: A batch of two finished products
	// WHEN: It is confirmed
	// THEN: Exactly two inbound entries, dated to the production date

	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng,
		item("A", 5, production.CategoryFinished),
		item("B", 3, production.CategoryFinished),
	)

	result, err := eng.Confirm(ctx, b.ID, inspector)
	require.NoError(t, err)
	assert.Equal(t, production.StatusConfirmed, result.Batch.Status)
	require.NotNil(t, result.Batch.ConfirmedBy)
	assert.Equal(t, inspector, *result.Batch.ConfirmedBy)
	require.NotNil(t, result.Batch.ConfirmedAt)
	assert.Equal(t, fixedNow, *result.Batch.ConfirmedAt)

	entries := allEntries(t, mem)
	require.Len(t, entries, 2)

	assert.Equal(t, production.ProductID("A"), entries[0].ProductID)
	assert.Equal(t, production.DirectionIn, entries[0].Direction)
	assert.True(t, entries[0].Quantity.Equal(qty(5)))

	assert.Equal(t, production.ProductID("B"), entries[1].ProductID)
	assert.Equal(t, production.DirectionIn, entries[1].Direction)
	assert.True(t, entries[1].Quantity.Equal(qty(3)))

	for _, e := range entries {
		assert.True(t, e.EffectiveDate.Equal(march10), "entries are dated to production, not confirmation")
		assert.Contains(t, e.Remark, production.RemarkProductionInbound)
		assert.Contains(t, e.Remark, string(b.ID), "batch id is carried in the remark")
		assert.Equal(t, inspector, e.Actor)
	}

	stored, err := mem.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusConfirmed, stored.Status)
}

func TestConfirm_RelabelBatch(t *testing.T) {
	// GIVEN: SemiX relabeled as FinY, 10 units
	// WHEN: Confirmed
	// THEN: One outbound for SemiX naming FinY, one inbound for FinY naming SemiX

	eng, mem := newTestEngine(t)

	b := submit(t, eng,
		relabelOut("SemiX", 10, "FinY"),
		item("FinY", 10, production.CategoryRelabelIn),
	)

	result, err := eng.Confirm(context.Background(), b.ID, inspector)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pairs)

	entries := allEntries(t, mem)
	require.Len(t, entries, 2)

	out, in := entries[0], entries[1]
	assert.Equal(t, production.ProductID("SemiX"), out.ProductID)
	assert.Equal(t, production.DirectionOut, out.Direction)
	assert.True(t, out.Quantity.Equal(qty(10)))
	assert.Contains(t, out.Remark, "Fin Y (boxed)")

	assert.Equal(t, production.ProductID("FinY"), in.ProductID)
	assert.Equal(t, production.DirectionIn, in.Direction)
	assert.True(t, in.Quantity.Equal(qty(10)))
	assert.Contains(t, in.Remark, "Semi X (bulk)")

	assert.True(t, production.StockOnHand(entries[:1]).Equal(qty(-10)))
}

func TestRejectThenResubmit_ThenConfirm(t *testing.T) {
	// GIVEN: A pending batch with ProductA x5
	// WHEN: Rejected for "quantity mismatch", edited to 8 and resubmitted, then confirmed
	// THEN: Review metadata is cleared on resubmit and only (A, in, 8) is written

	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng, item("A", 5, production.CategoryFinished))
	itemID := b.Items[0].ID

	rejected, err := eng.Reject(ctx, b.ID, inspector, "quantity mismatch")
	require.NoError(t, err)
	assert.Equal(t, production.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "quantity mismatch", *rejected.RejectReason)
	require.NotNil(t, rejected.ConfirmedBy)
	assert.Equal(t, inspector, *rejected.ConfirmedBy)
	assert.Empty(t, allEntries(t, mem), "rejection never touches the ledger")

	resubmitted, err := eng.Resubmit(ctx, b.ID, production.ResubmitInput{
		Actor: submitter,
		Items: []production.ItemInput{{ID: itemID, ProductID: "A", Quantity: 8, Category: production.CategoryFinished}},
	})
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, resubmitted.Status)
	assert.Nil(t, resubmitted.RejectReason)
	assert.Nil(t, resubmitted.ConfirmedBy)
	assert.Nil(t, resubmitted.ConfirmedAt)
	assert.Equal(t, 1, resubmitted.Revision)
	require.Len(t, resubmitted.Items, 1)
	assert.Equal(t, itemID, resubmitted.Items[0].ID, "edited items keep their id")
	assert.Equal(t, 8, resubmitted.Items[0].Quantity)

	_, err = eng.Confirm(ctx, b.ID, inspector)
	require.NoError(t, err)

	entries := allEntries(t, mem)
	require.Len(t, entries, 1)
	assert.Equal(t, production.ProductID("A"), entries[0].ProductID)
	assert.True(t, entries[0].Quantity.Equal(qty(8)))

	events, err := mem.Events(ctx, b.ID)
	require.NoError(t, err)
	var types []production.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []production.EventType{
		production.EventSubmitted,
		production.EventRejected,
		production.EventResubmitted,
		production.EventConfirmed,
	}, types)
	assert.Equal(t, "quantity mismatch", events[2].Note)
}

func TestResubmit_AddsAndRemovesItems(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng,
		item("A", 5, production.CategoryFinished),
		item("B", 3, production.CategoryFinished),
	)
	keep := b.Items[0].ID

	_, err := eng.Reject(ctx, b.ID, inspector, "B was not produced")
	require.NoError(t, err)

	got, err := eng.Resubmit(ctx, b.ID, production.ResubmitInput{
		Actor: submitter,
		Items: []production.ItemInput{
			{ID: keep, ProductID: "A", Quantity: 5, Category: production.CategoryFinished},
			item("FinY", 2, production.CategoryFinished),
		},
	})
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, keep, got.Items[0].ID)
	assert.NotEmpty(t, got.Items[1].ID)
	assert.NotEqual(t, b.Items[1].ID, got.Items[1].ID)
}

// =============================================================================
// EXACTLY-ONCE AND ATOMICITY
// =============================================================================

func TestConfirm_Twice_SecondIsGuardViolation(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng, item("A", 5, production.CategoryFinished))

	_, err := eng.Confirm(ctx, b.ID, inspector)
	require.NoError(t, err)

	_, err = eng.Confirm(ctx, b.ID, inspector2)
	require.Error(t, err)
	assert.ErrorIs(t, err, production.ErrGuardViolation)
	assert.True(t, production.IsConflict(err))
	assert.False(t, production.IsRetryable(err))

	var gv *production.GuardViolationError
	require.ErrorAs(t, err, &gv)
	assert.Equal(t, production.StatusConfirmed, gv.Current)

	assert.Len(t, allEntries(t, mem), 1, "entries written exactly once")

	stored, err := mem.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, inspector, *stored.ConfirmedBy, "second confirmer did not overwrite")
}

func TestConfirm_LedgerFailureMidway_NothingVisible(t *testing.T) {
	// GIVEN: A batch deriving 3 entries and a ledger that fails on the 2nd
	// WHEN: Confirming
	// THEN: Zero entries visible, batch still pending, retry succeeds

	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng,
		item("A", 5, production.CategoryFinished),
		item("B", 3, production.CategoryFinished),
		item("SemiX", 7, production.CategorySemiFinished),
	)

	writeErr := errors.New("disk full")
	mem.AppendHook = func(i int, _ production.LedgerEntry) error {
		if i == 1 {
			return writeErr
		}
		return nil
	}

	_, err := eng.Confirm(ctx, b.ID, inspector)
	require.Error(t, err)
	assert.ErrorIs(t, err, production.ErrLedgerWrite)
	assert.ErrorIs(t, err, writeErr)
	assert.True(t, production.IsRetryable(err))

	var lw *production.LedgerWriteError
	require.ErrorAs(t, err, &lw)
	assert.Equal(t, 3, lw.Entries)

	assert.Empty(t, allEntries(t, mem))
	stored, err := mem.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, stored.Status)
	assert.Nil(t, stored.ConfirmedBy)
	assert.Nil(t, stored.ConfirmedAt)

	events, err := mem.Events(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "no confirmed event after rollback")

	// Retry once the ledger recovers
	mem.AppendHook = nil
	_, err = eng.Confirm(ctx, b.ID, inspector)
	require.NoError(t, err)
	assert.Len(t, allEntries(t, mem), 3)
}

func TestConfirm_DuplicateIdempotencyKey_AbortsWholeBatch(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng,
		item("A", 5, production.CategoryFinished),
		item("B", 3, production.CategoryFinished),
	)

	// A stray entry already holds the key the second item would use
	require.NoError(t, mem.AppendAll(ctx, []production.LedgerEntry{{
		ID:             "stray",
		ProductID:      "B",
		Direction:      production.DirectionIn,
		Quantity:       qty(3),
		EffectiveDate:  march10,
		IdempotencyKey: production.IdempotencyKey(b.ID, b.Items[1].ID, production.DirectionIn),
	}}))

	_, err := eng.Confirm(ctx, b.ID, inspector)
	require.Error(t, err)
	assert.ErrorIs(t, err, production.ErrLedgerWrite)
	assert.ErrorIs(t, err, production.ErrDuplicateIdempotencyKey)

	assert.Len(t, allEntries(t, mem), 1, "only the stray entry")
	stored, err := mem.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, stored.Status)
}

func TestConfirm_Concurrent_ExactlyOneWins(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng,
		relabelOut("SemiX", 10, "FinY"),
		item("FinY", 10, production.CategoryRelabelIn),
		item("A", 4, production.CategoryFinished),
	)

	const reviewers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		guards    int
	)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.Confirm(ctx, b.ID, production.ActorID(fmt.Sprintf("inspector-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, production.ErrGuardViolation):
				guards++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, reviewers-1, guards)
	assert.Len(t, allEntries(t, mem), 3)
}

// interleavingStore runs between once before the first GetBatch returns,
// simulating a reviewer acting after a confirm has read the batch.
type interleavingStore struct {
	*store.Memory
	between func()
	done    bool
}

func (s *interleavingStore) GetBatch(ctx context.Context, id production.BatchID) (*production.Batch, error) {
	b, err := s.Memory.GetBatch(ctx, id)
	if !s.done {
		s.done = true
		s.between()
	}
	return b, err
}

func TestConfirm_StaleRead_AfterRejectAndResubmit_Conflicts(t *testing.T) {
	// GIVEN: A confirm that read ProductA x5 at revision 0
	// WHEN: Before its transaction, the batch is rejected and resubmitted as x8
	// THEN: The stale confirm loses, nothing is written, and a fresh confirm books 8

	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng, item("A", 5, production.CategoryFinished))
	itemID := b.Items[0].ID

	wrapped := &interleavingStore{Memory: mem, between: func() {
		_, err := eng.Reject(ctx, b.ID, inspector2, "quantity mismatch")
		require.NoError(t, err)
		_, err = eng.Resubmit(ctx, b.ID, production.ResubmitInput{
			Actor: submitter,
			Items: []production.ItemInput{{ID: itemID, ProductID: "A", Quantity: 8, Category: production.CategoryFinished}},
		})
		require.NoError(t, err)
	}}
	stale := production.NewEngine(wrapped, mem,
		production.WithLogger(quietLogger()),
		production.WithClock(func() time.Time { return fixedNow }),
	)

	_, err := stale.Confirm(ctx, b.ID, inspector)
	require.Error(t, err)
	assert.True(t, production.IsConflict(err))

	assert.Empty(t, allEntries(t, mem))
	stored, err := mem.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Revision)
	assert.Nil(t, stored.ConfirmedBy)

	_, err = eng.Confirm(ctx, b.ID, inspector)
	require.NoError(t, err)
	entries := allEntries(t, mem)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Quantity.Equal(qty(8)))
}

func TestConfirm_WithLocker_BusyWhileHeld(t *testing.T) {
	locker := production.NewLocalLocker()
	eng, mem := newTestEngine(t, production.WithLocker(locker))
	ctx := context.Background()

	b := submit(t, eng, item("A", 5, production.CategoryFinished))

	release, err := locker.Acquire(ctx, production.LockKey(b.ID))
	require.NoError(t, err)

	_, err = eng.Confirm(ctx, b.ID, inspector)
	assert.ErrorIs(t, err, production.ErrBatchBusy)
	assert.True(t, production.IsRetryable(err))
	assert.Empty(t, allEntries(t, mem))

	release()
	_, err = eng.Confirm(ctx, b.ID, inspector)
	require.NoError(t, err)
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestConfirm_Conservation(t *testing.T) {
	tests := []struct {
		name  string
		items []production.ItemInput
	}{
		{
			name:  "finished only",
			items: []production.ItemInput{item("A", 1, production.CategoryFinished)},
		},
		{
			name: "finished and semi-finished",
			items: []production.ItemInput{
				item("A", 1, production.CategoryFinished),
				item("SemiX", 2, production.CategorySemiFinished),
				item("B", 3, production.CategoryFinished),
			},
		},
		{
			name: "two relabels sharing a quantity plus finished",
			items: []production.ItemInput{
				relabelOut("SemiX", 10, "FinY"),
				item("FinY", 10, production.CategoryRelabelIn),
				relabelOut("SemiX", 10, "A"),
				item("A", 10, production.CategoryRelabelIn),
				item("B", 6, production.CategoryFinished),
			},
		},
		{
			name: "relabels with mismatched quantities stay unpaired",
			items: []production.ItemInput{
				relabelOut("SemiX", 9, "FinY"),
				item("FinY", 10, production.CategoryRelabelIn),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, mem := newTestEngine(t)
			b := submit(t, eng, tt.items...)

			counts := b.CountByCategory()
			want := counts[production.CategoryFinished] +
				counts[production.CategorySemiFinished] +
				2*counts[production.CategoryRelabelOut]

			_, err := eng.Confirm(context.Background(), b.ID, inspector)
			require.NoError(t, err)
			assert.Len(t, allEntries(t, mem), want)
		})
	}
}

// =============================================================================
// GUARDS AND VALIDATION
// =============================================================================

func TestReject_AfterConfirm_GuardViolation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng, item("A", 5, production.CategoryFinished))
	_, err := eng.Confirm(ctx, b.ID, inspector)
	require.NoError(t, err)

	_, err = eng.Reject(ctx, b.ID, inspector2, "too late")
	assert.ErrorIs(t, err, production.ErrGuardViolation)
}

func TestConfirm_RejectedBatch_GuardViolation(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng, item("A", 5, production.CategoryFinished))
	_, err := eng.Reject(ctx, b.ID, inspector, "wrong date")
	require.NoError(t, err)

	_, err = eng.Confirm(ctx, b.ID, inspector)
	assert.ErrorIs(t, err, production.ErrGuardViolation)
	assert.Empty(t, allEntries(t, mem))
}

func TestReject_RequiresReasonAndActor(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	b := submit(t, eng, item("A", 5, production.CategoryFinished))

	_, err := eng.Reject(ctx, b.ID, inspector, "   ")
	assert.ErrorIs(t, err, production.ErrValidation)

	_, err = eng.Reject(ctx, b.ID, "", "bad")
	assert.ErrorIs(t, err, production.ErrValidation)

	stored, err := eng.Store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, stored.Status)
}

func TestResubmit_Guards(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng, item("A", 5, production.CategoryFinished))
	edit := production.ResubmitInput{
		Actor: submitter,
		Items: []production.ItemInput{{ID: b.Items[0].ID, ProductID: "A", Quantity: 6, Category: production.CategoryFinished}},
	}

	// Pending batches cannot be resubmitted
	_, err := eng.Resubmit(ctx, b.ID, edit)
	assert.ErrorIs(t, err, production.ErrGuardViolation)

	_, err = eng.Reject(ctx, b.ID, inspector, "recount")
	require.NoError(t, err)

	// Only the submitter may resubmit
	other := edit
	other.Actor = "someone-else"
	_, err = eng.Resubmit(ctx, b.ID, other)
	assert.ErrorIs(t, err, production.ErrNotSubmitter)
	assert.True(t, production.IsClientError(err))

	// Ids must belong to the batch
	unknown := edit
	unknown.Items = []production.ItemInput{{ID: "not-mine", ProductID: "A", Quantity: 6, Category: production.CategoryFinished}}
	_, err = eng.Resubmit(ctx, b.ID, unknown)
	assert.ErrorIs(t, err, production.ErrValidation)

	stored, err := eng.Store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusRejected, stored.Status, "failed resubmits change nothing")
	assert.Equal(t, 5, stored.Items[0].Quantity)
}

func TestConfirm_MissingBatch_NotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Confirm(context.Background(), "nope", inspector)
	assert.True(t, production.IsNotFound(err))
}

func TestSubmit_InvalidInput_NothingPersisted(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, production.SubmitInput{
		ProductionDate: march10,
		SubmittedBy:    submitter,
		Items:          []production.ItemInput{item("A", 0, production.CategoryFinished)},
	})
	assert.ErrorIs(t, err, production.ErrValidation)

	_, err = eng.Submit(ctx, production.SubmitInput{
		ProductionDate: march10,
		SubmittedBy:    submitter,
		Items: []production.ItemInput{
			item("SemiX", 10, production.CategoryRelabelOut),
			item("FinY", 10, production.CategoryRelabelIn),
		},
	})
	assert.ErrorIs(t, err, production.ErrValidation)

	batches, err := mem.ListBatches(ctx, production.BatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestConfirm_UnknownProduct_FallsBackToPlaceholder(t *testing.T) {
	eng, mem := newTestEngine(t)

	b := submit(t, eng,
		relabelOut("Ghost", 4, "Phantom"),
		item("Phantom", 4, production.CategoryRelabelIn),
	)

	_, err := eng.Confirm(context.Background(), b.ID, inspector)
	require.NoError(t, err, "catalog misses never block confirmation")

	entries := allEntries(t, mem)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Remark, production.PlaceholderLabel("Phantom"))
	assert.Contains(t, entries[1].Remark, production.PlaceholderLabel("Ghost"))
}

func TestPendingCount(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	b1 := submit(t, eng, item("A", 1, production.CategoryFinished))
	b2 := submit(t, eng, item("A", 2, production.CategoryFinished))
	submit(t, eng, item("A", 3, production.CategoryFinished))

	_, err := eng.Confirm(ctx, b1.ID, inspector)
	require.NoError(t, err)
	_, err = eng.Reject(ctx, b2.ID, inspector, "duplicate")
	require.NoError(t, err)

	n, err := eng.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPreview_DoesNotWrite(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	b := submit(t, eng,
		relabelOut("SemiX", 10, "FinY"),
		item("FinY", 10, production.CategoryRelabelIn),
	)

	entries, err := eng.Preview(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Empty(t, allEntries(t, mem))

	stored, err := mem.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.StatusPending, stored.Status)
}
