// Package store provides an in-memory retail.Backend.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/retail-records/retail"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store closed")

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps all four tables behind one lock, so reference checks and
// the write they guard are atomic.
type Memory struct {
	mu     sync.RWMutex
	closed bool

	customers *table[retail.Customer]
	products  *table[retail.Product]
	stores    *table[retail.Store]
	sales     *saleTable
}

func NewMemory() *Memory {
	m := &Memory{}
	m.customers = newTable(m, func(c retail.Customer, id retail.ID, v int64) retail.Customer {
		c.ID, c.Version = id, v
		return c
	})
	m.products = newTable(m, func(p retail.Product, id retail.ID, v int64) retail.Product {
		p.ID, p.Version = id, v
		return p
	})
	m.stores = newTable(m, func(s retail.Store, id retail.ID, v int64) retail.Store {
		s.ID, s.Version = id, v
		return s
	})
	m.sales = &saleTable{table: newTable(m, func(s retail.Sale, id retail.ID, v int64) retail.Sale {
		s.ID, s.Version = id, v
		return s
	})}

	m.sales.admit = m.resolves
	m.customers.guard = m.unreferenced(retail.KindCustomer)
	m.products.guard = m.unreferenced(retail.KindProduct)
	m.stores.guard = m.unreferenced(retail.KindStore)
	return m
}

func (m *Memory) Customers() retail.Table[retail.Customer] { return m.customers }
func (m *Memory) Products() retail.Table[retail.Product]   { return m.products }
func (m *Memory) Stores() retail.Table[retail.Store]       { return m.stores }
func (m *Memory) Sales() retail.SaleTable                  { return m.sales }

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// resolves reports the sale's keys that are missing. Caller holds m.mu.
func (m *Memory) resolves(s retail.Sale) error {
	var bad retail.InvalidReferenceError
	check := func(field string, id retail.ID, ok bool) {
		if !ok {
			bad.Fields = append(bad.Fields, field)
			bad.IDs = append(bad.IDs, id)
		}
	}
	_, ok := m.customers.rows[s.CustomerID]
	check(retail.FieldCustomerID, s.CustomerID, ok)
	_, ok = m.products.rows[s.ProductID]
	check(retail.FieldProductID, s.ProductID, ok)
	_, ok = m.stores.rows[s.StoreID]
	check(retail.FieldStoreID, s.StoreID, ok)

	if len(bad.Fields) > 0 {
		return &bad
	}
	return nil
}

// unreferenced blocks removal of a parent that a sale still points at.
// Caller holds m.mu.
func (m *Memory) unreferenced(kind retail.Kind) func(retail.ID) error {
	return func(id retail.ID) error {
		if ids := m.sales.referencingLocked(kind, id); len(ids) > 0 {
			return &retail.ReferencedError{Kind: kind, ID: id, SaleIDs: ids}
		}
		return nil
	}
}

// =============================================================================
// TABLE - One kind
// =============================================================================

type table[R retail.Record] struct {
	m     *Memory
	rows  map[retail.ID]R
	last  retail.ID
	stamp func(R, retail.ID, int64) R

	admit func(R) error
	guard func(retail.ID) error
}

func newTable[R retail.Record](m *Memory, stamp func(R, retail.ID, int64) R) *table[R] {
	return &table[R]{m: m, rows: make(map[retail.ID]R), stamp: stamp}
}

func (t *table[R]) Insert(ctx context.Context, rec R) (retail.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.closed {
		return 0, ErrClosed
	}

	if t.admit != nil {
		if err := t.admit(rec); err != nil {
			return 0, err
		}
	}
	t.last++
	t.rows[t.last] = t.stamp(rec, t.last, 1)
	return t.last, nil
}

func (t *table[R]) Get(ctx context.Context, id retail.ID) (*R, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	if t.m.closed {
		return nil, ErrClosed
	}

	rec, ok := t.rows[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (t *table[R]) List(ctx context.Context) ([]R, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	if t.m.closed {
		return nil, ErrClosed
	}

	out := make([]R, 0, len(t.rows))
	for _, rec := range t.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity() > out[j].Identity()
	})
	return out, nil
}

func (t *table[R]) Replace(ctx context.Context, id retail.ID, expectedVersion int64, rec R) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.closed {
		return ErrClosed
	}

	cur, ok := t.rows[id]
	if !ok {
		return retail.ErrNotFound
	}
	if expectedVersion != 0 && cur.Revision() != expectedVersion {
		return retail.ErrConflict
	}
	if t.admit != nil {
		if err := t.admit(rec); err != nil {
			return err
		}
	}
	t.rows[id] = t.stamp(rec, id, cur.Revision()+1)
	return nil
}

func (t *table[R]) Remove(ctx context.Context, id retail.ID, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.closed {
		return ErrClosed
	}

	cur, ok := t.rows[id]
	if !ok {
		return retail.ErrNotFound
	}
	if expectedVersion != 0 && cur.Revision() != expectedVersion {
		return retail.ErrConflict
	}
	if t.guard != nil {
		if err := t.guard(id); err != nil {
			return err
		}
	}
	delete(t.rows, id)
	return nil
}

// =============================================================================
// SALES - Reverse lookups
// =============================================================================

type saleTable struct {
	*table[retail.Sale]
}

func (t *saleTable) Referencing(ctx context.Context, kind retail.Kind, id retail.ID) ([]retail.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	if t.m.closed {
		return nil, ErrClosed
	}
	return t.referencingLocked(kind, id), nil
}

func (t *saleTable) referencingLocked(kind retail.Kind, id retail.ID) []retail.ID {
	var ids []retail.ID
	for sid, s := range t.rows {
		if s.Reference(kind) == id {
			ids = append(ids, sid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids
}
