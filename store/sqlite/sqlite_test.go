package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-records/retail"
	"github.com/warp/retail-records/retail/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) retail.Backend {
		return newTestStore(t)
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "retail.db")

	// GIVEN: a product written to a file database
	s, err := New(path)
	require.NoError(t, err)
	id, err := s.Products().Insert(ctx, retail.Product{Name: "Lamp", Price: decimal.RequireFromString("19.99")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: the database is reopened
	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN: the row, its exact price and its version survive
	got, err := s.Products().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "19.99", got.Price.StringFixed(2))
	assert.Equal(t, int64(1), got.Version)
}

func TestSQLite_ForeignKeysEnforcedAtCommit(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	// GIVEN: one of each parent and a sale pointing at them
	c, err := s.Customers().Insert(ctx, retail.Customer{Name: "Ana", Address: "Rua 1"})
	require.NoError(t, err)
	p, err := s.Products().Insert(ctx, retail.Product{Name: "Pen", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	st, err := s.Stores().Insert(ctx, retail.Store{Name: "Main", Address: "1 Main"})
	require.NoError(t, err)
	_, err = s.Sales().Insert(ctx, retail.Sale{DateSold: time.Now(), CustomerID: c, ProductID: p, StoreID: st})
	require.NoError(t, err)

	// WHEN/THEN: the database itself refuses the orphaning delete
	err = s.Stores().Remove(ctx, st, 0)
	assert.True(t, errors.Is(err, retail.ErrReferenced), "got %v", err)

	// WHEN/THEN: and a dangling sale
	_, err = s.Sales().Insert(ctx, retail.Sale{DateSold: time.Now(), CustomerID: 404, ProductID: p, StoreID: st})
	assert.True(t, errors.Is(err, retail.ErrInvalidReference), "got %v", err)
}

func TestSQLite_DateSoldKeepsSubsecondPrecision(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	c, _ := s.Customers().Insert(ctx, retail.Customer{Name: "A", Address: "B"})
	p, _ := s.Products().Insert(ctx, retail.Product{Name: "P", Price: decimal.NewFromInt(2)})
	st, _ := s.Stores().Insert(ctx, retail.Store{Name: "S", Address: "T"})

	sold := time.Date(2024, 3, 9, 14, 5, 6, 123456789, time.FixedZone("X", 3600))
	id, err := s.Sales().Insert(ctx, retail.Sale{DateSold: sold, CustomerID: c, ProductID: p, StoreID: st})
	require.NoError(t, err)

	got, err := s.Sales().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, sold.Equal(got.DateSold))
	assert.Equal(t, time.UTC, got.DateSold.Location())
}

func TestSQLite_ClosedIsStorageFailure(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	svc := retail.NewServices(s, retail.Options{})
	_, err := svc.Customers.List(context.Background())
	assert.True(t, errors.Is(err, retail.ErrStorageUnavailable), "got %v", err)
}

// staleSales hides every back-reference, as if a sale committed between
// the service's reference check and the delete.
type staleSales struct {
	retail.SaleTable
}

func (staleSales) Referencing(ctx context.Context, kind retail.Kind, id retail.ID) ([]retail.ID, error) {
	return nil, nil
}

type staleBackend struct {
	*Store
}

func (b staleBackend) Sales() retail.SaleTable { return staleSales{b.Store.Sales()} }

func TestSQLite_RestrictAtCommitIsReferenced(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	// GIVEN: a customer with a sale the service cannot see
	c, err := s.Customers().Insert(ctx, retail.Customer{Name: "Ana", Address: "Rua 1"})
	require.NoError(t, err)
	p, err := s.Products().Insert(ctx, retail.Product{Name: "Pen", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	st, err := s.Stores().Insert(ctx, retail.Store{Name: "Main", Address: "1 Main"})
	require.NoError(t, err)
	_, err = s.Sales().Insert(ctx, retail.Sale{DateSold: time.Now(), CustomerID: c, ProductID: p, StoreID: st})
	require.NoError(t, err)

	svc := retail.NewServices(staleBackend{s}, retail.Options{})

	// WHEN: the customer is deleted
	err = svc.Customers.Delete(ctx, c, 0)

	// THEN: the database's RESTRICT comes back as Referenced, not a storage failure
	assert.True(t, errors.Is(err, retail.ErrReferenced), "got %v", err)
	assert.False(t, errors.Is(err, retail.ErrStorageUnavailable), "got %v", err)

	got, err := s.Customers().Get(ctx, c)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
