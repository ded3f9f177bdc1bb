/*
Package sqlite provides a SQLite-backed implementation of the production
storage interfaces.

INTERFACES IMPLEMENTED:
  production.TxStore:      Batches, ledger, audit events, WithTx
  production.CatalogStore: Product catalog

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements touch ledger_entries
  - idempotency_key is UNIQUE; a duplicate aborts the whole AppendAll
  - Batches are never deleted; only status columns and line items change

KEY TABLES:
  batches:        One row per submitted batch (status is the contention point)
  line_items:     Items with their submission position
  ledger_entries: Immutable inventory movements
  batch_events:   Audit trail of transitions
  products:       Catalog used for remarks

CONCURRENCY:
  Uses sync.RWMutex plus a single connection. CompareAndSetStatus is an
  UPDATE ... WHERE status = ?, so the guard also holds at the SQL level.

USAGE:
  store, err := sqlite.New("./data/production.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := production.NewEngine(store, store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/production-ledger/production"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		spec TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		production_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		submitted_by TEXT NOT NULL,
		confirmed_by TEXT,
		confirmed_at TEXT,
		reject_reason TEXT,
		remark TEXT NOT NULL DEFAULT '',
		revision INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_status
		ON batches(status);
	CREATE INDEX IF NOT EXISTS idx_batches_submitted_by
		ON batches(submitted_by);

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		category TEXT NOT NULL CHECK (category IN ('finished', 'semi_finished', 'relabel_in', 'relabel_out')),
		target_product_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_batch
		ON line_items(batch_id, position);

	-- Append-only ledger. No batch foreign key: the batch id is only
	-- carried in the remark.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
		quantity TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		remark TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_product_date
		ON ledger_entries(product_id, effective_date);

	CREATE TABLE IF NOT EXISTS batch_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batch_events_batch
		ON batch_events(batch_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(production.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// BATCH STORE
// =============================================================================

func (s *Store) CreateBatch(ctx context.Context, b production.Batch) (production.BatchID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := createBatch(ctx, sqlTx, b); err != nil {
		return "", err
	}
	return b.ID, sqlTx.Commit()
}

func createBatch(ctx context.Context, q querier, b production.Batch) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO batches
		(id, production_date, status, submitted_by, confirmed_by, confirmed_at, reject_reason,
		 remark, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID,
		b.ProductionDate.String(),
		b.Status,
		b.SubmittedBy,
		nullActor(b.ConfirmedBy),
		nullTime(b.ConfirmedAt),
		nullStringPtr(b.RejectReason),
		b.Remark,
		b.Revision,
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return insertItems(ctx, q, b.ID, b.Items)
}

func insertItems(ctx context.Context, q querier, batchID production.BatchID, items []production.LineItem) error {
	for i, it := range items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO line_items (id, batch_id, position, product_id, quantity, category, target_product_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, it.ID, batchID, i, it.ProductID, it.Quantity, it.Category, nullString(string(it.TargetProductID)))
		if err != nil {
			return fmt.Errorf("failed to insert line item %s: %w", it.ID, err)
		}
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id production.BatchID) (*production.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBatch(ctx, s.db, id)
}

const batchColumns = `id, production_date, status, submitted_by, confirmed_by, confirmed_at,
	reject_reason, remark, revision, created_at, updated_at`

func getBatch(ctx context.Context, q querier, id production.BatchID) (*production.Batch, error) {
	row := q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, production.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	items, err := loadItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return b, nil
}

func loadItems(ctx context.Context, q querier, batchID production.BatchID) ([]production.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, batch_id, product_id, quantity, category, target_product_id
		FROM line_items
		WHERE batch_id = ?
		ORDER BY position ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []production.LineItem
	for rows.Next() {
		var (
			it     production.LineItem
			target sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.BatchID, &it.ProductID, &it.Quantity, &it.Category, &target); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		it.TargetProductID = production.ProductID(target.String)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) ListBatches(ctx context.Context, f production.BatchFilter) ([]production.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBatches(ctx, s.db, f)
}

func listBatches(ctx context.Context, q querier, f production.BatchFilter) ([]production.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches`
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.SubmittedBy != "" {
		where = append(where, "submitted_by = ?")
		args = append(args, f.SubmittedBy)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Items are loaded after the batch cursor is closed: the store runs on
	// a single connection.
	for i := range batches {
		items, err := loadItems(ctx, q, batches[i].ID)
		if err != nil {
			return nil, err
		}
		batches[i].Items = items
	}
	return batches, nil
}

func (s *Store) CountByStatus(ctx context.Context, status production.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countByStatus(ctx, s.db, status)
}

func countByStatus(ctx context.Context, q querier, status production.Status) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches WHERE status = ?", status).Scan(&n)
	return n, err
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id production.BatchID, expected production.Status, next production.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return compareAndSetStatus(ctx, s.db, id, expected, next)
}

func compareAndSetStatus(ctx context.Context, q querier, id production.BatchID, expected production.Status, next production.Transition) error {
	bump := 0
	if next.NewRevision {
		bump = 1
	}
	res, err := q.ExecContext(ctx, `
		UPDATE batches
		SET status = ?, confirmed_by = ?, confirmed_at = ?, reject_reason = ?,
		    revision = revision + ?, updated_at = ?
		WHERE id = ? AND status = ? AND (? IS NULL OR revision = ?)
	`,
		next.Status,
		nullActor(next.ConfirmedBy),
		nullTime(next.ConfirmedAt),
		nullStringPtr(next.RejectReason),
		bump,
		formatTime(next.At),
		id,
		expected,
		nullRevision(next.ExpectedRevision),
		nullRevision(next.ExpectedRevision),
	)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return production.ErrBatchNotFound
	}
	return production.ErrStatusConflict
}

func (s *Store) ReplaceItems(ctx context.Context, id production.BatchID, items []production.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := replaceItems(ctx, sqlTx, id, items); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func replaceItems(ctx context.Context, q querier, id production.BatchID, items []production.LineItem) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM line_items WHERE batch_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear line items: %w", err)
	}
	return insertItems(ctx, q, id, items)
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

// AppendAll adds every entry atomically.
func (s *Store) AppendAll(ctx context.Context, entries []production.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := appendAll(ctx, sqlTx, entries); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func appendAll(ctx context.Context, q querier, entries []production.LedgerEntry) error {
	// Check for duplicate idempotency keys within the call first
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
		_, err := q.ExecContext(ctx, `
			INSERT INTO ledger_entries
			(id, product_id, direction, quantity, effective_date, remark, actor, idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID,
			e.ProductID,
			e.Direction,
			e.Quantity.String(),
			e.EffectiveDate.String(),
			e.Remark,
			e.Actor,
			nullString(e.IdempotencyKey),
			formatTime(e.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return production.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, f production.EntryFilter) ([]production.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEntries(ctx, s.db, f)
}

func loadEntries(ctx context.Context, q querier, f production.EntryFilter) ([]production.LedgerEntry, error) {
	query := `
		SELECT id, product_id, direction, quantity, effective_date, remark, actor, idempotency_key, created_at
		FROM ledger_entries`
	var (
		where []string
		args  []any
	)
	if f.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if !f.From.IsZero() {
		where = append(where, "effective_date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "effective_date <= ?")
		args = append(args, f.To.String())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY effective_date ASC, rowid ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []production.LedgerEntry
	for rows.Next() {
		var (
			e                       production.LedgerEntry
			quantity, date, created string
			idempotencyKey          sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Direction, &quantity, &date, &e.Remark, &e.Actor,
			&idempotencyKey, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if e.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("bad quantity %q on entry %s: %w", quantity, e.ID, err)
		}
		if e.EffectiveDate, err = production.ParseDate(date); err != nil {
			return nil, fmt.Errorf("bad effective date %q on entry %s: %w", date, e.ID, err)
		}
		e.IdempotencyKey = idempotencyKey.String
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("bad created_at on entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// AUDIT EVENTS
// =============================================================================

func (s *Store) AppendEvent(ctx context.Context, ev production.BatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEvent(ctx, s.db, ev)
}

func appendEvent(ctx context.Context, q querier, ev production.BatchEvent) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO batch_events (batch_id, event_type, actor, from_status, to_status, note, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.BatchID, ev.Type, ev.Actor, nullString(string(ev.From)), ev.To, ev.Note, formatTime(ev.At))
	if err != nil {
		return fmt.Errorf("failed to append batch event: %w", err)
	}
	return nil
}

func (s *Store) Events(ctx context.Context, id production.BatchID) ([]production.BatchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEvents(ctx, s.db, id)
}

func loadEvents(ctx context.Context, q querier, id production.BatchID) ([]production.BatchEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT batch_id, event_type, actor, from_status, to_status, note, at
		FROM batch_events
		WHERE batch_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch events: %w", err)
	}
	defer rows.Close()

	var events []production.BatchEvent
	for rows.Next() {
		var (
			ev   production.BatchEvent
			from sql.NullString
			at   string
		)
		err := rows.Scan(&ev.BatchID, &ev.Type, &ev.Actor, &from, &ev.To, &ev.Note, &at)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch event: %w", err)
		}
		ev.From = production.Status(from.String)
		if ev.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("bad event time on batch %s: %w", ev.BatchID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (s *Store) Lookup(ctx context.Context, id production.ProductID) (production.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p production.Product
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, spec, kind FROM products WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Spec, &p.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return production.Product{}, production.ErrProductNotFound
	}
	if err != nil {
		return production.Product{}, fmt.Errorf("failed to load product: %w", err)
	}
	return p, nil
}

func (s *Store) SaveProduct(ctx context.Context, p production.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, spec, kind) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, spec = excluded.spec, kind = excluded.kind
	`, p.ID, p.Name, p.Spec, p.Kind)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]production.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, spec, kind FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []production.Product
	for rows.Next() {
		var p production.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Spec, &p.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Reset deletes all data. Dev and demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"batch_events", "ledger_entries", "line_items", "batches", "products"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

// txView routes every call through the open *sql.Tx. The parent lock is
// already held by WithTx.
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

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*production.Batch, error) {
	var (
		b                                      production.Batch
		date, created, updated                 string
		confirmedBy, confirmedAt, rejectReason sql.NullString
	)
	err := row.Scan(&b.ID, &date, &b.Status, &b.SubmittedBy, &confirmedBy, &confirmedAt,
		&rejectReason, &b.Remark, &b.Revision, &created, &updated)
	if err != nil {
		return nil, err
	}
	if b.ProductionDate, err = production.ParseDate(date); err != nil {
		return nil, fmt.Errorf("bad production date %q: %w", date, err)
	}
	if confirmedBy.Valid {
		actor := production.ActorID(confirmedBy.String)
		b.ConfirmedBy = &actor
	}
	if confirmedAt.Valid {
		t, err := parseTime(confirmedAt.String)
		if err != nil {
			return nil, fmt.Errorf("bad confirmed_at on batch %s: %w", b.ID, err)
		}
		b.ConfirmedAt = &t
	}
	if rejectReason.Valid {
		reason := rejectReason.String
		b.RejectReason = &reason
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("bad created_at on batch %s: %w", b.ID, err)
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("bad updated_at on batch %s: %w", b.ID, err)
	}
	return &b, nil
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullRevision(rev *int) sql.NullInt64 {
	if rev == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*rev), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullActor(a *production.ActorID) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*a), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
