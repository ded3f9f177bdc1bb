/*
Package postgres provides a PostgreSQL implementation of the production
storage interfaces on top of a pgx connection pool.

It mirrors the SQLite store table for table. The differences:
  - Quantities are NUMERIC and dates are DATE
  - Concurrency is left to the database; there is no process-level mutex
  - Unique violations (SQLSTATE 23505) on idempotency_key map to
    production.ErrDuplicateIdempotencyKey

USAGE:
  pool, err := postgres.NewPool(ctx, os.Getenv("DATABASE_URL"))
  store, err := postgres.New(ctx, pool)
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/production-ledger/production"
)

// Store implements production.TxStore and production.CatalogStore.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool parses connStr, connects and pings.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	if connStr == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse DATABASE_URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// New wraps pool and creates the schema if needed. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		spec TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		production_date DATE NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		submitted_by TEXT NOT NULL,
		confirmed_by TEXT,
		confirmed_at TIMESTAMPTZ,
		reject_reason TEXT,
		remark TEXT NOT NULL DEFAULT '',
		revision INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		category TEXT NOT NULL CHECK (category IN ('finished', 'semi_finished', 'relabel_in', 'relabel_out')),
		target_product_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_batch ON line_items(batch_id, position);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
		quantity NUMERIC NOT NULL,
		effective_date DATE NOT NULL,
		remark TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_product_date ON ledger_entries(product_id, effective_date);

	CREATE TABLE IF NOT EXISTS batch_events (
		id BIGSERIAL PRIMARY KEY,
		batch_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batch_events_batch ON batch_events(batch_id);
	`)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(production.Store) error) error {
	return s.inTx(ctx, func(q querier) error {
		return fn(&txView{q: q})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// BATCH STORE
// =============================================================================

func (s *Store) CreateBatch(ctx context.Context, b production.Batch) (production.BatchID, error) {
	err := s.inTx(ctx, func(q querier) error { return createBatch(ctx, q, b) })
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func createBatch(ctx context.Context, q querier, b production.Batch) error {
	_, err := q.Exec(ctx, `
		INSERT INTO batches
		(id, production_date, status, submitted_by, confirmed_by, confirmed_at, reject_reason,
		 remark, revision, created_at, updated_at)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		string(b.ID),
		b.ProductionDate.String(),
		string(b.Status),
		string(b.SubmittedBy),
		actorPtr(b.ConfirmedBy),
		b.ConfirmedAt,
		b.RejectReason,
		b.Remark,
		b.Revision,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return insertItems(ctx, q, b.ID, b.Items)
}

func insertItems(ctx context.Context, q querier, batchID production.BatchID, items []production.LineItem) error {
	for i, it := range items {
		_, err := q.Exec(ctx, `
			INSERT INTO line_items (id, batch_id, position, product_id, quantity, category, target_product_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, string(it.ID), string(batchID), i, string(it.ProductID), it.Quantity, string(it.Category),
			optional(string(it.TargetProductID)))
		if err != nil {
			return fmt.Errorf("failed to insert line item %s: %w", it.ID, err)
		}
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id production.BatchID) (*production.Batch, error) {
	return getBatch(ctx, s.pool, id)
}

const batchColumns = `id, production_date::text, status, submitted_by, confirmed_by, confirmed_at,
	reject_reason, remark, revision, created_at, updated_at`

func getBatch(ctx context.Context, q querier, id production.BatchID) (*production.Batch, error) {
	b, err := scanBatch(q.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, production.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	if b.Items, err = loadItems(ctx, q, id); err != nil {
		return nil, err
	}
	return b, nil
}

func loadItems(ctx context.Context, q querier, batchID production.BatchID) ([]production.LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, batch_id, product_id, quantity, category, COALESCE(target_product_id, '')
		FROM line_items
		WHERE batch_id = $1
		ORDER BY position ASC
	`, string(batchID))
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []production.LineItem
	for rows.Next() {
		var id, bid, product, category, target string
		var it production.LineItem
		if err := rows.Scan(&id, &bid, &product, &it.Quantity, &category, &target); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		it.ID = production.LineItemID(id)
		it.BatchID = production.BatchID(bid)
		it.ProductID = production.ProductID(product)
		it.Category = production.Category(category)
		it.TargetProductID = production.ProductID(target)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) ListBatches(ctx context.Context, f production.BatchFilter) ([]production.Batch, error) {
	return listBatches(ctx, s.pool, f)
}

func listBatches(ctx context.Context, q querier, f production.BatchFilter) ([]production.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches`
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.SubmittedBy != "" {
		args = append(args, string(f.SubmittedBy))
		where = append(where, fmt.Sprintf("submitted_by = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	var batches []production.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A pgx.Tx is a single connection; the cursor must be closed first.
	for i := range batches {
		if batches[i].Items, err = loadItems(ctx, q, batches[i].ID); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

func (s *Store) CountByStatus(ctx context.Context, status production.Status) (int, error) {
	return countByStatus(ctx, s.pool, status)
}

func countByStatus(ctx context.Context, q querier, status production.Status) (int, error) {
	var n int
	err := q.QueryRow(ctx, "SELECT COUNT(*) FROM batches WHERE status = $1", string(status)).Scan(&n)
	return n, err
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id production.BatchID, expected production.Status, next production.Transition) error {
	return compareAndSetStatus(ctx, s.pool, id, expected, next)
}

func compareAndSetStatus(ctx context.Context, q querier, id production.BatchID, expected production.Status, next production.Transition) error {
	bump := 0
	if next.NewRevision {
		bump = 1
	}
	tag, err := q.Exec(ctx, `
		UPDATE batches
		SET status = $1, confirmed_by = $2, confirmed_at = $3, reject_reason = $4,
		    revision = revision + $5, updated_at = $6
		WHERE id = $7 AND status = $8 AND ($9::int IS NULL OR revision = $9)
	`,
		string(next.Status),
		actorPtr(next.ConfirmedBy),
		next.ConfirmedAt,
		next.RejectReason,
		bump,
		next.At,
		string(id),
		string(expected),
		next.ExpectedRevision,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)", string(id)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return production.ErrBatchNotFound
	}
	return production.ErrStatusConflict
}

func (s *Store) ReplaceItems(ctx context.Context, id production.BatchID, items []production.LineItem) error {
	return s.inTx(ctx, func(q querier) error { return replaceItems(ctx, q, id, items) })
}

func replaceItems(ctx context.Context, q querier, id production.BatchID, items []production.LineItem) error {
	if _, err := q.Exec(ctx, "DELETE FROM line_items WHERE batch_id = $1", string(id)); err != nil {
		return fmt.Errorf("failed to clear line items: %w", err)
	}
	return insertItems(ctx, q, id, items)
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

// AppendAll adds every entry atomically.
func (s *Store) AppendAll(ctx context.Context, entries []production.LedgerEntry) error {
	return s.inTx(ctx, func(q querier) error { return appendAll(ctx, q, entries) })
}

func appendAll(ctx context.Context, q querier, entries []production.LedgerEntry) error {
	keys := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if keys[e.IdempotencyKey] {
			return production.ErrDuplicateIdempotencyKey
		}
		keys[e.IdempotencyKey] = true
	}

	for _, e := range entries {
		_, err := q.Exec(ctx, `
			INSERT INTO ledger_entries
			(id, product_id, direction, quantity, effective_date, remark, actor, idempotency_key, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5::date, $6, $7, $8, $9)
		`,
			string(e.ID),
			string(e.ProductID),
			string(e.Direction),
			e.Quantity.String(),
			e.EffectiveDate.String(),
			e.Remark,
			string(e.Actor),
			optional(e.IdempotencyKey),
			e.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return production.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, f production.EntryFilter) ([]production.LedgerEntry, error) {
	return loadEntries(ctx, s.pool, f)
}

func loadEntries(ctx context.Context, q querier, f production.EntryFilter) ([]production.LedgerEntry, error) {
	query := `
		SELECT id, product_id, direction, quantity::text, effective_date::text, remark, actor,
		       COALESCE(idempotency_key, ''), created_at
		FROM ledger_entries`
	var (
		where []string
		args  []any
	)
	if f.ProductID != "" {
		args = append(args, string(f.ProductID))
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From.String())
		where = append(where, fmt.Sprintf("effective_date >= $%d::date", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.String())
		where = append(where, fmt.Sprintf("effective_date <= $%d::date", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY effective_date ASC, seq ASC"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []production.LedgerEntry
	for rows.Next() {
		var e production.LedgerEntry
		var id, product, direction, quantity, date, by string
		if err := rows.Scan(&id, &product, &direction, &quantity, &date, &e.Remark, &by,
			&e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.ID = production.EntryID(id)
		e.ProductID = production.ProductID(product)
		e.Direction = production.Direction(direction)
		e.Actor = production.ActorID(by)
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("bad quantity %q on entry %s: %w", quantity, id, err)
		}
		if e.EffectiveDate, err = production.ParseDate(date); err != nil {
			return nil, fmt.Errorf("bad effective date %q on entry %s: %w", date, id, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// AUDIT EVENTS
// =============================================================================

func (s *Store) AppendEvent(ctx context.Context, ev production.BatchEvent) error {
	return appendEvent(ctx, s.pool, ev)
}

func appendEvent(ctx context.Context, q querier, ev production.BatchEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO batch_events (batch_id, event_type, actor, from_status, to_status, note, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, string(ev.BatchID), string(ev.Type), string(ev.Actor), optional(string(ev.From)), string(ev.To), ev.Note, ev.At)
	if err != nil {
		return fmt.Errorf("failed to append batch event: %w", err)
	}
	return nil
}

func (s *Store) Events(ctx context.Context, id production.BatchID) ([]production.BatchEvent, error) {
	return loadEvents(ctx, s.pool, id)
}

func loadEvents(ctx context.Context, q querier, id production.BatchID) ([]production.BatchEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT batch_id, event_type, actor, COALESCE(from_status, ''), to_status, note, at
		FROM batch_events
		WHERE batch_id = $1
		ORDER BY id ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query batch events: %w", err)
	}
	defer rows.Close()

	var events []production.BatchEvent
	for rows.Next() {
		var ev production.BatchEvent
		var bid, typ, actor, from, to string
		if err := rows.Scan(&bid, &typ, &actor, &from, &to, &ev.Note, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan batch event: %w", err)
		}
		ev.BatchID = production.BatchID(bid)
		ev.Type = production.EventType(typ)
		ev.Actor = production.ActorID(actor)
		ev.From = production.Status(from)
		ev.To = production.Status(to)
		ev.At = ev.At.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (s *Store) Lookup(ctx context.Context, id production.ProductID) (production.Product, error) {
	var pid, name, spec, kind string
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, spec, kind FROM products WHERE id = $1", string(id),
	).Scan(&pid, &name, &spec, &kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return production.Product{}, production.ErrProductNotFound
	}
	if err != nil {
		return production.Product{}, fmt.Errorf("failed to load product: %w", err)
	}
	return production.Product{ID: production.ProductID(pid), Name: name, Spec: spec, Kind: production.ProductKind(kind)}, nil
}

func (s *Store) SaveProduct(ctx context.Context, p production.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, name, spec, kind) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, spec = EXCLUDED.spec, kind = EXCLUDED.kind
	`, string(p.ID), p.Name, p.Spec, string(p.Kind))
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]production.Product, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, spec, kind FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []production.Product
	for rows.Next() {
		var pid, name, spec, kind string
		if err := rows.Scan(&pid, &name, &spec, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, production.Product{
			ID: production.ProductID(pid), Name: name, Spec: spec, Kind: production.ProductKind(kind),
		})
	}
	return products, rows.Err()
}

// Reset truncates every table. Dev and test use only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		"TRUNCATE TABLE batch_events, ledger_entries, line_items, batches, products RESTART IDENTITY CASCADE")
	return err
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type txView struct {
	q querier
}

func (tv *txView) CreateBatch(ctx context.Context, b production.Batch) (production.BatchID, error) {
	return b.ID, createBatch(ctx, tv.q, b)
}

func (tv *txView) GetBatch(ctx context.Context, id production.BatchID) (*production.Batch, error) {
	return getBatch(ctx, tv.q, id)
}

func (tv *txView) ListBatches(ctx context.Context, f production.BatchFilter) ([]production.Batch, error) {
	return listBatches(ctx, tv.q, f)
}

func (tv *txView) CountByStatus(ctx context.Context, status production.Status) (int, error) {
	return countByStatus(ctx, tv.q, status)
}

func (tv *txView) CompareAndSetStatus(ctx context.Context, id production.BatchID, expected production.Status, next production.Transition) error {
	return compareAndSetStatus(ctx, tv.q, id, expected, next)
}

func (tv *txView) ReplaceItems(ctx context.Context, id production.BatchID, items []production.LineItem) error {
	return replaceItems(ctx, tv.q, id, items)
}

func (tv *txView) AppendAll(ctx context.Context, entries []production.LedgerEntry) error {
	return appendAll(ctx, tv.q, entries)
}

func (tv *txView) Entries(ctx context.Context, f production.EntryFilter) ([]production.LedgerEntry, error) {
	return loadEntries(ctx, tv.q, f)
}

func (tv *txView) AppendEvent(ctx context.Context, ev production.BatchEvent) error {
	return appendEvent(ctx, tv.q, ev)
}

func (tv *txView) Events(ctx context.Context, id production.BatchID) ([]production.BatchEvent, error) {
	return loadEvents(ctx, tv.q, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func scanBatch(row pgx.Row) (*production.Batch, error) {
	var (
		b                             production.Batch
		id, date, status, submittedBy string
		confirmedBy, rejectReason     *string
		confirmedAt                   *time.Time
	)
	err := row.Scan(&id, &date, &status, &submittedBy, &confirmedBy, &confirmedAt,
		&rejectReason, &b.Remark, &b.Revision, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.ID = production.BatchID(id)
	b.Status = production.Status(status)
	b.SubmittedBy = production.ActorID(submittedBy)
	if b.ProductionDate, err = production.ParseDate(date); err != nil {
		return nil, fmt.Errorf("bad production date %q: %w", date, err)
	}
	if confirmedBy != nil {
		actor := production.ActorID(*confirmedBy)
		b.ConfirmedBy = &actor
	}
	if confirmedAt != nil {
		t := confirmedAt.UTC()
		b.ConfirmedAt = &t
	}
	b.RejectReason = rejectReason
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func actorPtr(a *production.ActorID) *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}

// optional maps "" to NULL.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
