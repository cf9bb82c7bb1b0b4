// Package storetest is a conformance suite for retail.Backend
// implementations. Every backend runs the same cases from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-records/retail"
)

// Open returns a fresh, empty backend. The suite closes it.
type Open func(t *testing.T) retail.Backend

// Run executes every conformance case against fresh backends.
func Run(t *testing.T, open Open) {
	cases := []struct {
		name string
		fn   func(t *testing.T, b retail.Backend)
	}{
		{"InsertAssignsIdentityAndVersion", testInsert},
		{"GetMissingIsNil", testGetMissing},
		{"ListNewestFirst", testListOrder},
		{"IDsNotReused", testIDsNotReused},
		{"ReplaceBumpsVersion", testReplace},
		{"ReplaceVersionMismatch", testReplaceConflict},
		{"ReplaceMissing", testReplaceMissing},
		{"RemoveTwice", testRemoveTwice},
		{"RemoveVersionMismatch", testRemoveConflict},
		{"SaleRoundTrip", testSaleRoundTrip},
		{"SaleRejectsDanglingKeys", testSaleDangling},
		{"ParentRemoveBlockedBySale", testParentBlocked},
		{"Referencing", testReferencing},
		{"CancelledContextWritesNothing", testCancelled},
		{"Ping", testPing},
		{"ConcurrentBlindReplace", testConcurrentBlindReplace},
		{"ConcurrentPinnedUpdate", testConcurrentPinnedUpdate},
		{"ConcurrentRemove", testConcurrentRemove},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { _ = b.Close() })
			tc.fn(t, b)
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

func customer(name string) retail.Customer {
	return retail.Customer{Name: name, Address: name + " Street 1"}
}

func product(name, price string) retail.Product {
	return retail.Product{Name: name, Price: decimal.RequireFromString(price)}
}

type parents struct {
	customer, product, store retail.ID
}

func seedParents(t *testing.T, b retail.Backend) parents {
	t.Helper()
	ctx := context.Background()

	c, err := b.Customers().Insert(ctx, customer("Ana"))
	require.NoError(t, err)
	p, err := b.Products().Insert(ctx, product("Pen", "1.50"))
	require.NoError(t, err)
	s, err := b.Stores().Insert(ctx, retail.Store{Name: "Main", Address: "1 Main St"})
	require.NoError(t, err)
	return parents{customer: c, product: p, store: s}
}

func saleFor(p parents, day int) retail.Sale {
	return retail.Sale{
		DateSold:   time.Date(2024, 1, day, 10, 30, 0, 0, time.UTC),
		CustomerID: p.customer,
		ProductID:  p.product,
		StoreID:    p.store,
	}
}

// =============================================================================
// CASES
// =============================================================================

func testInsert(t *testing.T, b retail.Backend) {
	ctx := context.Background()

	id, err := b.Customers().Insert(ctx, retail.Customer{ID: 99, Version: 7, Name: "Ana", Address: "Rua 1"})
	require.NoError(t, err)
	assert.Equal(t, retail.ID(1), id, "identity and version on the input are ignored")

	got, err := b.Customers().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, retail.Customer{ID: id, Name: "Ana", Address: "Rua 1", Version: 1}, *got)
}

func testGetMissing(t *testing.T, b retail.Backend) {
	got, err := b.Products().Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testListOrder(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C", "D"} {
		_, err := b.Stores().Insert(ctx, retail.Store{Name: name, Address: name})
		require.NoError(t, err)
	}
	require.NoError(t, b.Stores().Remove(ctx, 2, 0))

	list, err := b.Stores().List(ctx)
	require.NoError(t, err)

	ids := make([]retail.ID, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	assert.Equal(t, []retail.ID{4, 3, 1}, ids)
}

func testIDsNotReused(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	first, err := b.Customers().Insert(ctx, customer("A"))
	require.NoError(t, err)
	require.NoError(t, b.Customers().Remove(ctx, first, 0))

	second, err := b.Customers().Insert(ctx, customer("B"))
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func testReplace(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	id, err := b.Products().Insert(ctx, product("Pen", "1.50"))
	require.NoError(t, err)

	require.NoError(t, b.Products().Replace(ctx, id, 1, product("Pencil", "0.75")))
	require.NoError(t, b.Products().Replace(ctx, id, 0, product("Marker", "2.10")))

	got, err := b.Products().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Marker", got.Name)
	assert.True(t, decimal.RequireFromString("2.10").Equal(got.Price), "price %s", got.Price)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, id, got.ID)
}

func testReplaceConflict(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	id, err := b.Customers().Insert(ctx, customer("Ana"))
	require.NoError(t, err)

	err = b.Customers().Replace(ctx, id, 5, customer("Bea"))
	assert.True(t, errors.Is(err, retail.ErrConflict), "got %v", err)

	got, err := b.Customers().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ana", got.Name, "nothing written on conflict")
	assert.Equal(t, int64(1), got.Version)
}

func testReplaceMissing(t *testing.T, b retail.Backend) {
	err := b.Customers().Replace(context.Background(), 7, 0, customer("Ghost"))
	assert.True(t, errors.Is(err, retail.ErrNotFound), "got %v", err)
}

func testRemoveTwice(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	id, err := b.Stores().Insert(ctx, retail.Store{Name: "X", Address: "Y"})
	require.NoError(t, err)

	require.NoError(t, b.Stores().Remove(ctx, id, 0))
	err = b.Stores().Remove(ctx, id, 0)
	assert.True(t, errors.Is(err, retail.ErrNotFound), "got %v", err)

	got, err := b.Stores().Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testRemoveConflict(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	id, err := b.Stores().Insert(ctx, retail.Store{Name: "X", Address: "Y"})
	require.NoError(t, err)
	require.NoError(t, b.Stores().Replace(ctx, id, 1, retail.Store{Name: "X2", Address: "Y"}))

	err = b.Stores().Remove(ctx, id, 1)
	assert.True(t, errors.Is(err, retail.ErrConflict), "got %v", err)

	got, err := b.Stores().Get(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func testSaleRoundTrip(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	p := seedParents(t, b)
	in := saleFor(p, 5)

	id, err := b.Sales().Insert(ctx, in)
	require.NoError(t, err)

	got, err := b.Sales().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, in.DateSold.Equal(got.DateSold), "date %s", got.DateSold)
	assert.Equal(t, p.customer, got.CustomerID)
	assert.Equal(t, p.product, got.ProductID)
	assert.Equal(t, p.store, got.StoreID)
	assert.Equal(t, int64(1), got.Version)
}

func testSaleDangling(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	p := seedParents(t, b)
	bad := saleFor(p, 5)
	bad.ProductID = 999

	_, err := b.Sales().Insert(ctx, bad)
	assert.True(t, errors.Is(err, retail.ErrInvalidReference), "got %v", err)

	list, err := b.Sales().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected sale must not be persisted")

	id, err := b.Sales().Insert(ctx, saleFor(p, 6))
	require.NoError(t, err)
	err = b.Sales().Replace(ctx, id, 0, bad)
	assert.True(t, errors.Is(err, retail.ErrInvalidReference), "got %v", err)
}

func testParentBlocked(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	p := seedParents(t, b)
	sid, err := b.Sales().Insert(ctx, saleFor(p, 5))
	require.NoError(t, err)

	err = b.Customers().Remove(ctx, p.customer, 0)
	assert.True(t, errors.Is(err, retail.ErrReferenced), "got %v", err)
	got, err := b.Customers().Get(ctx, p.customer)
	require.NoError(t, err)
	assert.NotNil(t, got, "blocked delete must leave the row")

	require.NoError(t, b.Sales().Remove(ctx, sid, 0))
	assert.NoError(t, b.Customers().Remove(ctx, p.customer, 0))
}

func testReferencing(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	p := seedParents(t, b)
	other, err := b.Products().Insert(ctx, product("Ink", "3.00"))
	require.NoError(t, err)

	s1, err := b.Sales().Insert(ctx, saleFor(p, 1))
	require.NoError(t, err)
	moved := saleFor(p, 2)
	moved.ProductID = other
	s2, err := b.Sales().Insert(ctx, moved)
	require.NoError(t, err)
	s3, err := b.Sales().Insert(ctx, saleFor(p, 3))
	require.NoError(t, err)

	ids, err := b.Sales().Referencing(ctx, retail.KindCustomer, p.customer)
	require.NoError(t, err)
	assert.Equal(t, []retail.ID{s3, s2, s1}, ids)

	ids, err = b.Sales().Referencing(ctx, retail.KindProduct, p.product)
	require.NoError(t, err)
	assert.Equal(t, []retail.ID{s3, s1}, ids)

	ids, err = b.Sales().Referencing(ctx, retail.KindStore, 999)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testCancelled(t *testing.T, b retail.Backend) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Customers().Insert(ctx, customer("Late"))
	assert.Error(t, err)

	list, err := b.Customers().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testPing(t *testing.T, b retail.Backend) {
	assert.NoError(t, b.Ping(context.Background()))
}

// =============================================================================
// CONCURRENCY - One row, many writers
// =============================================================================

const writers = 8

// parallel runs fn on writers goroutines at once and collects the errors.
func parallel(fn func(i int) error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, writers)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func count(errs []error, target error) int {
	n := 0
	for _, err := range errs {
		if (target == nil && err == nil) || (target != nil && errors.Is(err, target)) {
			n++
		}
	}
	return n
}

func testConcurrentBlindReplace(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	id, err := b.Customers().Insert(ctx, customer("Ana"))
	require.NoError(t, err)

	errs := parallel(func(i int) error {
		return b.Customers().Replace(ctx, id, 0, customer(fmt.Sprintf("Writer %d", i)))
	})

	// Every blind write lands, each on its own version.
	assert.Equal(t, writers, count(errs, nil), "errors %v", errs)
	got, err := b.Customers().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1+writers), got.Version)
	assert.Contains(t, got.Name, "Writer ")
}

func testConcurrentPinnedUpdate(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	svc := retail.NewServices(b, retail.Options{})
	c, err := svc.Customers.Create(ctx, retail.CustomerInput{Name: "Ana", Address: "Rua 1"})
	require.NoError(t, err)

	errs := parallel(func(i int) error {
		in := retail.CustomerInput{Name: fmt.Sprintf("Writer %d", i), Address: "Rua 1"}
		_, err := svc.Customers.Update(ctx, c.ID, in, c.Version)
		return err
	})

	// Exactly one writer holding version 1 wins; the rest see Conflict.
	assert.Equal(t, 1, count(errs, nil), "errors %v", errs)
	assert.Equal(t, writers-1, count(errs, retail.ErrConflict), "errors %v", errs)

	got, err := svc.Customers.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func testConcurrentRemove(t *testing.T, b retail.Backend) {
	ctx := context.Background()
	id, err := b.Stores().Insert(ctx, retail.Store{Name: "X", Address: "Y"})
	require.NoError(t, err)

	errs := parallel(func(int) error {
		return b.Stores().Remove(ctx, id, 0)
	})

	assert.Equal(t, 1, count(errs, nil), "errors %v", errs)
	assert.Equal(t, writers-1, count(errs, retail.ErrNotFound), "errors %v", errs)

	got, err := b.Stores().Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}
