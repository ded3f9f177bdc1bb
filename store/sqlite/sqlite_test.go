package sqlite_test

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-ledger/production"
	"github.com/warp/production-ledger/production/store/storetest"
	"github.com/warp/production-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newStore(t)
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "production.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = s.CreateBatch(ctx, storetest.NewBatch("b-1",
		production.LineItem{ProductID: "A", Quantity: 3, Category: production.CategoryFinished}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Quantity)
}

func TestSQLite_CorruptTimestampIsAnError(t *testing.T) {
	// GIVEN: A stored batch whose created_at was overwritten with junk
	// WHEN: It is read back
	// THEN: The read fails instead of returning a zero time

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "production.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = s.CreateBatch(ctx, storetest.NewBatch("b-1",
		production.LineItem{ProductID: "A", Quantity: 3, Category: production.CategoryFinished}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, "UPDATE batches SET created_at = 'yesterday' WHERE id = 'b-1'")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetBatch(ctx, "b-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")
}

func TestSQLite_EngineRoundTrip(t *testing.T) {
	// GIVEN: The engine running on SQLite with a relabel batch
	// WHEN: The batch is confirmed twice
	// THEN: Entries are written once with catalog labels in the remarks

	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveProduct(ctx, production.Product{ID: "SemiX", Name: "Semi X", Spec: "bulk", Kind: production.KindSemiFinished}))
	require.NoError(t, s.SaveProduct(ctx, production.Product{ID: "FinY", Name: "Fin Y", Kind: production.KindFinished}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	eng := production.NewEngine(s, s,
		production.WithLogger(logger),
		production.WithClock(func() time.Time { return time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC) }),
	)

	b, err := eng.Submit(ctx, production.SubmitInput{
		ProductionDate: production.NewDate(2025, time.March, 10),
		SubmittedBy:    "workshop-1",
		Items: []production.ItemInput{
			{ProductID: "SemiX", Quantity: 10, Category: production.CategoryRelabelOut, TargetProductID: "FinY"},
			{ProductID: "FinY", Quantity: 10, Category: production.CategoryRelabelIn},
		},
	})
	require.NoError(t, err)

	_, err = eng.Confirm(ctx, b.ID, "inspector-7")
	require.NoError(t, err)

	_, err = eng.Confirm(ctx, b.ID, "inspector-8")
	assert.ErrorIs(t, err, production.ErrGuardViolation)

	entries, err := s.Entries(ctx, production.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, production.DirectionOut, entries[0].Direction)
	assert.Contains(t, entries[0].Remark, "relabeled to finished product Fin Y")
	assert.Contains(t, entries[1].Remark, "produced from semi-finished product Semi X (bulk)")
	assert.Contains(t, entries[1].Remark, "[batch "+string(b.ID)+"]")

	events, err := s.Events(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, production.EventConfirmed, events[1].Type)

	n, err := eng.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
