// Package store provides in-memory production.TxStore and
// production.CatalogStore implementations for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/production-ledger/production"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps batches, ledger entries, events and products in maps.
// WithTx is simulated with a snapshot taken before fn and restored on error.
type Memory struct {
	mu          sync.RWMutex
	batches     map[production.BatchID]production.Batch
	order       []production.BatchID
	entries     []production.LedgerEntry
	idempotency map[string]bool
	events      map[production.BatchID][]production.BatchEvent
	products    map[production.ProductID]production.Product

	// AppendHook, when set, is called for every entry during AppendAll.
	// A non-nil error aborts the append. Used to inject write failures.
	AppendHook func(i int, e production.LedgerEntry) error
}

func NewMemory() *Memory {
	return &Memory{
		batches:     make(map[production.BatchID]production.Batch),
		idempotency: make(map[string]bool),
		events:      make(map[production.BatchID][]production.BatchEvent),
		products:    make(map[production.ProductID]production.Product),
	}
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) CreateBatch(_ context.Context, b production.Batch) (production.BatchID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBatchLocked(b)
}

func (m *Memory) createBatchLocked(b production.Batch) (production.BatchID, error) {
	if _, exists := m.batches[b.ID]; exists {
		return "", production.ErrStatusConflict
	}
	m.batches[b.ID] = cloneBatch(b)
	m.order = append(m.order, b.ID)
	return b.ID, nil
}

func (m *Memory) GetBatch(_ context.Context, id production.BatchID) (*production.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBatchLocked(id)
}

func (m *Memory) getBatchLocked(id production.BatchID) (*production.Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, production.ErrBatchNotFound
	}
	c := cloneBatch(b)
	return &c, nil
}

func (m *Memory) ListBatches(_ context.Context, f production.BatchFilter) ([]production.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBatchesLocked(f), nil
}

func (m *Memory) listBatchesLocked(f production.BatchFilter) []production.Batch {
	var result []production.Batch
	for i := len(m.order) - 1; i >= 0; i-- {
		b := m.batches[m.order[i]]
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.SubmittedBy != "" && b.SubmittedBy != f.SubmittedBy {
			continue
		}
		result = append(result, cloneBatch(b))
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result
}

func (m *Memory) CountByStatus(_ context.Context, status production.Status) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(status), nil
}

func (m *Memory) countLocked(status production.Status) int {
	n := 0
	for _, b := range m.batches {
		if b.Status == status {
			n++
		}
	}
	return n
}

func (m *Memory) CompareAndSetStatus(_ context.Context, id production.BatchID, expected production.Status, next production.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(id, expected, next)
}

func (m *Memory) casLocked(id production.BatchID, expected production.Status, next production.Transition) error {
	b, ok := m.batches[id]
	if !ok {
		return production.ErrBatchNotFound
	}
	if b.Status != expected {
		return production.ErrStatusConflict
	}
	if next.ExpectedRevision != nil && b.Revision != *next.ExpectedRevision {
		return production.ErrStatusConflict
	}
	b.Status = next.Status
	b.ConfirmedBy = next.ConfirmedBy
	b.ConfirmedAt = next.ConfirmedAt
	b.RejectReason = next.RejectReason
	b.UpdatedAt = next.At
	if next.NewRevision {
		b.Revision++
	}
	m.batches[id] = b
	return nil
}

func (m *Memory) ReplaceItems(_ context.Context, id production.BatchID, items []production.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceItemsLocked(id, items)
}

func (m *Memory) replaceItemsLocked(id production.BatchID, items []production.LineItem) error {
	b, ok := m.batches[id]
	if !ok {
		return production.ErrBatchNotFound
	}
	b.Items = append([]production.LineItem(nil), items...)
	m.batches[id] = b
	return nil
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

// AppendAll adds every entry or none.
func (m *Memory) AppendAll(_ context.Context, entries []production.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAllLocked(entries)
}

func (m *Memory) appendAllLocked(entries []production.LedgerEntry) error {
	// Check all idempotency keys first, including duplicates within the call.
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return production.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	mark := len(m.entries)
	for i, e := range entries {
		if m.AppendHook != nil {
			if err := m.AppendHook(i, e); err != nil {
				m.entries = m.entries[:mark]
				return err
			}
		}
		m.entries = append(m.entries, e)
	}
	for k := range seen {
		m.idempotency[k] = true
	}
	return nil
}

func (m *Memory) Entries(_ context.Context, f production.EntryFilter) ([]production.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(f), nil
}

func (m *Memory) entriesLocked(f production.EntryFilter) []production.LedgerEntry {
	var result []production.LedgerEntry
	for _, e := range m.entries {
		if f.Matches(e) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EffectiveDate.Before(result[j].EffectiveDate)
	})
	return result
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, ev production.BatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.BatchID] = append(m.events[ev.BatchID], ev)
	return nil
}

func (m *Memory) Events(_ context.Context, id production.BatchID) ([]production.BatchEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]production.BatchEvent(nil), m.events[id]...), nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) Lookup(_ context.Context, id production.ProductID) (production.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return production.Product{}, production.ErrProductNotFound
	}
	return p, nil
}

func (m *Memory) SaveProduct(_ context.Context, p production.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *Memory) ListProducts(_ context.Context) ([]production.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]production.Product, 0, len(m.products))
	for _, p := range m.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Reset clears everything except the AppendHook.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = make(map[production.BatchID]production.Batch)
	m.order = nil
	m.entries = nil
	m.idempotency = make(map[string]bool)
	m.events = make(map[production.BatchID][]production.BatchEvent)
	m.products = make(map[production.ProductID]production.Product)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(production.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	batches     map[production.BatchID]production.Batch
	order       []production.BatchID
	entries     int
	idempotency map[string]bool
	events      map[production.BatchID][]production.BatchEvent
}

func (m *Memory) snapshot() memorySnapshot {
	batches := make(map[production.BatchID]production.Batch, len(m.batches))
	for k, v := range m.batches {
		batches[k] = cloneBatch(v)
	}
	idem := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idem[k] = v
	}
	events := make(map[production.BatchID][]production.BatchEvent, len(m.events))
	for k, v := range m.events {
		events[k] = append([]production.BatchEvent(nil), v...)
	}
	return memorySnapshot{
		batches:     batches,
		order:       append([]production.BatchID(nil), m.order...),
		entries:     len(m.entries),
		idempotency: idem,
		events:      events,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.batches = s.batches
	m.order = s.order
	m.entries = m.entries[:s.entries]
	m.idempotency = s.idempotency
	m.events = s.events
}

// txView runs against the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) CreateBatch(_ context.Context, b production.Batch) (production.BatchID, error) {
	return tv.parent.createBatchLocked(b)
}

func (tv *txView) GetBatch(_ context.Context, id production.BatchID) (*production.Batch, error) {
	return tv.parent.getBatchLocked(id)
}

func (tv *txView) ListBatches(_ context.Context, f production.BatchFilter) ([]production.Batch, error) {
	return tv.parent.listBatchesLocked(f), nil
}

func (tv *txView) CountByStatus(_ context.Context, status production.Status) (int, error) {
	return tv.parent.countLocked(status), nil
}

func (tv *txView) CompareAndSetStatus(_ context.Context, id production.BatchID, expected production.Status, next production.Transition) error {
	return tv.parent.casLocked(id, expected, next)
}

func (tv *txView) ReplaceItems(_ context.Context, id production.BatchID, items []production.LineItem) error {
	return tv.parent.replaceItemsLocked(id, items)
}

func (tv *txView) AppendAll(_ context.Context, entries []production.LedgerEntry) error {
	return tv.parent.appendAllLocked(entries)
}

func (tv *txView) Entries(_ context.Context, f production.EntryFilter) ([]production.LedgerEntry, error) {
	return tv.parent.entriesLocked(f), nil
}

func (tv *txView) AppendEvent(_ context.Context, ev production.BatchEvent) error {
	tv.parent.events[ev.BatchID] = append(tv.parent.events[ev.BatchID], ev)
	return nil
}

func (tv *txView) Events(_ context.Context, id production.BatchID) ([]production.BatchEvent, error) {
	return append([]production.BatchEvent(nil), tv.parent.events[id]...), nil
}

func cloneBatch(b production.Batch) production.Batch {
	b.Items = append([]production.LineItem(nil), b.Items...)
	return b
}
