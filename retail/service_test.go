package retail_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-records/retail"
	"github.com/warp/retail-records/retail/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServices(t *testing.T) *retail.Services {
	t.Helper()
	b := store.NewMemory()
	t.Cleanup(func() { b.Close() })
	return retail.NewServices(b, retail.Options{})
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	customer retail.Customer
	product  retail.Product
	store    retail.Store
}

func seedParents(t *testing.T, svc *retail.Services) fixture {
	t.Helper()
	ctx := context.Background()

	c, err := svc.Customers.Create(ctx, retail.CustomerInput{Name: "Acme", Address: "1 Main St"})
	require.NoError(t, err)
	p, err := svc.Products.Create(ctx, retail.ProductInput{Name: "Widget", Price: price("9.99")})
	require.NoError(t, err)
	s, err := svc.Stores.Create(ctx, retail.StoreInput{Name: "Downtown", Address: "2 Oak Ave"})
	require.NoError(t, err)
	return fixture{customer: c, product: p, store: s}
}

func (f fixture) sale(date string) retail.SaleInput {
	return retail.SaleInput{
		DateSold:   day(date),
		CustomerID: f.customer.ID,
		ProductID:  f.product.ID,
		StoreID:    f.store.ID,
	}
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestScenario_ReferencedCustomerCannotBeDeleted(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	// GIVEN: one customer, product, store, each id=1
	f := seedParents(t, svc)
	assert.Equal(t, retail.ID(1), f.customer.ID)
	assert.Equal(t, retail.ID(1), f.product.ID)
	assert.Equal(t, retail.ID(1), f.store.ID)

	// WHEN: a sale links them
	sale, err := svc.Sales.Create(ctx, retail.SaleInput{DateSold: day("2024-01-01"), CustomerID: 1, ProductID: 1, StoreID: 1})
	require.NoError(t, err)
	assert.Equal(t, retail.ID(1), sale.ID)

	// THEN: the customer is protected until the sale is gone
	err = svc.Customers.Delete(ctx, 1, 0)
	assert.True(t, errors.Is(err, retail.ErrReferenced), "got %v", err)
	var re *retail.ReferencedError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, []retail.ID{1}, re.SaleIDs)

	require.NoError(t, svc.Sales.Delete(ctx, 1, 0))
	assert.NoError(t, svc.Customers.Delete(ctx, 1, 0))
}

func TestScenario_DanglingProductRejected(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	f := seedParents(t, svc)
	_, err := svc.Sales.Create(ctx, f.sale("2024-01-01"))
	require.NoError(t, err)
	before, err := svc.Sales.List(ctx)
	require.NoError(t, err)

	// WHEN: productId does not exist
	in := f.sale("2024-02-01")
	in.ProductID = 999
	_, err = svc.Sales.Create(ctx, in)

	// THEN: InvalidReference names productId and nothing is written
	var ire *retail.InvalidReferenceError
	require.True(t, errors.As(err, &ire), "got %v", err)
	assert.Equal(t, []string{retail.FieldProductID}, ire.Fields)
	assert.Equal(t, []retail.ID{999}, ire.IDs)

	after, err := svc.Sales.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// =============================================================================
// SERVICE PROPERTIES
// =============================================================================

func TestCreateThenGet_RoundTrip(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	created, err := svc.Products.Create(ctx, retail.ProductInput{Name: "Widget", Price: price("9.99")})
	require.NoError(t, err)

	got, err := svc.Products.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, "Widget", got.Name)
	assert.True(t, price("9.99").Equal(got.Price))
	assert.Equal(t, int64(1), got.Version)
}

func TestInvalidReference_EachField(t *testing.T) {
	fields := []string{retail.FieldCustomerID, retail.FieldProductID, retail.FieldStoreID}

	for _, field := range fields {
		t.Run(field, func(t *testing.T) {
			svc := newTestServices(t)
			ctx := context.Background()
			f := seedParents(t, svc)

			in := f.sale("2024-01-01")
			switch field {
			case retail.FieldCustomerID:
				in.CustomerID = 42
			case retail.FieldProductID:
				in.ProductID = 42
			case retail.FieldStoreID:
				in.StoreID = 42
			}

			_, err := svc.Sales.Create(ctx, in)
			var ire *retail.InvalidReferenceError
			require.True(t, errors.As(err, &ire), "got %v", err)
			assert.Equal(t, []string{field}, ire.Fields)

			sales, err := svc.Sales.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, sales)
		})
	}
}

func TestInvalidReference_AllFieldsReported(t *testing.T) {
	svc := newTestServices(t)

	_, err := svc.Sales.Create(context.Background(), retail.SaleInput{
		DateSold: day("2024-01-01"), CustomerID: 7, ProductID: 8, StoreID: 9,
	})

	var ire *retail.InvalidReferenceError
	require.True(t, errors.As(err, &ire))
	assert.Equal(t, []string{retail.FieldCustomerID, retail.FieldProductID, retail.FieldStoreID}, ire.Fields)
	assert.True(t, ire.Has(retail.FieldStoreID))
	assert.True(t, retail.IsClientError(err))
}

func TestDelete_ProductAndStoreAlsoProtected(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	f := seedParents(t, svc)
	sale, err := svc.Sales.Create(ctx, f.sale("2024-01-01"))
	require.NoError(t, err)

	assert.True(t, errors.Is(svc.Products.Delete(ctx, f.product.ID, 0), retail.ErrReferenced))
	assert.True(t, errors.Is(svc.Stores.Delete(ctx, f.store.ID, 0), retail.ErrReferenced))

	require.NoError(t, svc.Sales.Delete(ctx, sale.ID, 0))
	assert.NoError(t, svc.Products.Delete(ctx, f.product.ID, 0))
	assert.NoError(t, svc.Stores.Delete(ctx, f.store.ID, 0))
}

func TestList_NewestFirstAfterCreatesAndDeletes(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		_, err := svc.Stores.Create(ctx, retail.StoreInput{Name: fmt.Sprintf("Store %d", i), Address: "Somewhere"})
		require.NoError(t, err)
	}
	require.NoError(t, svc.Stores.Delete(ctx, 1, 0))
	require.NoError(t, svc.Stores.Delete(ctx, 4, 0))
	_, err := svc.Stores.Create(ctx, retail.StoreInput{Name: "Store 7", Address: "Somewhere"})
	require.NoError(t, err)

	list, err := svc.Stores.List(ctx)
	require.NoError(t, err)
	var ids []retail.ID
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []retail.ID{7, 6, 5, 3, 2}, ids)
}

func TestList_EmptyIsNotAnError(t *testing.T) {
	svc := newTestServices(t)
	list, err := svc.Customers.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdate_ReplacesFieldsUnderSameID(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	x, err := svc.Customers.Create(ctx, retail.CustomerInput{Name: "Old", Address: "Old Rd"})
	require.NoError(t, err)

	updated, err := svc.Customers.Update(ctx, x.ID, retail.CustomerInput{Name: "New", Address: "New Rd"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := svc.Customers.Get(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, retail.Customer{ID: x.ID, Name: "New", Address: "New Rd", Version: 2}, got)
}

func TestUpdate_SaleRevalidatesReferences(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	f := seedParents(t, svc)
	sale, err := svc.Sales.Create(ctx, f.sale("2024-01-01"))
	require.NoError(t, err)

	in := f.sale("2024-03-03")
	in.StoreID = 77
	_, err = svc.Sales.Update(ctx, sale.ID, in, 0)
	assert.True(t, errors.Is(err, retail.ErrInvalidReference), "got %v", err)

	got, err := svc.Sales.Get(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale, got, "rejected update leaves the row untouched")
}

func TestUpdate_MissingIsNotFound(t *testing.T) {
	svc := newTestServices(t)
	_, err := svc.Stores.Update(context.Background(), 5, retail.StoreInput{Name: "A", Address: "B"}, 0)

	var nf *retail.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, retail.KindStore, nf.Kind)
	assert.Equal(t, retail.ID(5), nf.ID)
}

func TestUpdate_ValidationBeforeLookup(t *testing.T) {
	svc := newTestServices(t)
	_, err := svc.Customers.Update(context.Background(), 5, retail.CustomerInput{Name: " ", Address: "B"}, 0)
	assert.True(t, errors.Is(err, retail.ErrValidation), "got %v", err)
}

func TestUpdate_StaleVersionConflicts(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	c, err := svc.Customers.Create(ctx, retail.CustomerInput{Name: "A", Address: "B"})
	require.NoError(t, err)
	_, err = svc.Customers.Update(ctx, c.ID, retail.CustomerInput{Name: "A2", Address: "B"}, c.Version)
	require.NoError(t, err)

	// WHEN: a second writer still holds version 1
	_, err = svc.Customers.Update(ctx, c.ID, retail.CustomerInput{Name: "A3", Address: "B"}, c.Version)

	// THEN
	var ce *retail.ConflictError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, int64(1), ce.Expected)
	assert.Equal(t, int64(2), ce.Actual)
	assert.True(t, retail.IsRetryable(err))

	got, _ := svc.Customers.Get(ctx, c.ID)
	assert.Equal(t, "A2", got.Name)
}

func TestDelete_TwiceIsNotFound(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	p, err := svc.Products.Create(ctx, retail.ProductInput{Name: "Pen", Price: price("1")})
	require.NoError(t, err)

	assert.NoError(t, svc.Products.Delete(ctx, p.ID, 0))
	err = svc.Products.Delete(ctx, p.ID, 0)
	assert.True(t, retail.IsNotFound(err), "got %v", err)

	_, err = svc.Products.Get(ctx, p.ID)
	assert.True(t, retail.IsNotFound(err))
}

func TestDelete_StaleVersionConflicts(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	s, err := svc.Stores.Create(ctx, retail.StoreInput{Name: "A", Address: "B"})
	require.NoError(t, err)
	_, err = svc.Stores.Update(ctx, s.ID, retail.StoreInput{Name: "A", Address: "C"}, 0)
	require.NoError(t, err)

	err = svc.Stores.Delete(ctx, s.ID, 1)
	assert.True(t, errors.Is(err, retail.ErrConflict), "got %v", err)
	assert.NoError(t, svc.Stores.Delete(ctx, s.ID, 2))
}

func TestCreate_ValidationErrorListsEveryField(t *testing.T) {
	svc := newTestServices(t)

	_, err := svc.Sales.Create(context.Background(), retail.SaleInput{ProductID: -3})

	var ve *retail.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, map[string]string{
		retail.FieldDateSold:   retail.ReasonRequired,
		retail.FieldCustomerID: retail.ReasonRequired,
		retail.FieldProductID:  retail.ReasonPositiveID,
		retail.FieldStoreID:    retail.ReasonRequired,
	}, ve.Fields)
}

func TestCreate_CancelledContextWritesNothing(t *testing.T) {
	svc := newTestServices(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Customers.Create(ctx, retail.CustomerInput{Name: "A", Address: "B"})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	list, err := svc.Customers.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStorageFailure_IsUnavailable(t *testing.T) {
	b := store.NewMemory()
	svc := retail.NewServices(b, retail.Options{})
	require.NoError(t, b.Close())

	_, err := svc.Customers.Create(context.Background(), retail.CustomerInput{Name: "A", Address: "B"})

	assert.True(t, errors.Is(err, retail.ErrStorageUnavailable), "got %v", err)
	assert.True(t, errors.Is(err, store.ErrClosed))
	assert.False(t, retail.IsClientError(err))
}

// =============================================================================
// BACK-REFERENCES AND HYDRATION
// =============================================================================

func TestReferencing_ListsSalesOfAParent(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	f := seedParents(t, svc)

	s1, err := svc.Sales.Create(ctx, f.sale("2024-01-01"))
	require.NoError(t, err)
	s2, err := svc.Sales.Create(ctx, f.sale("2024-01-02"))
	require.NoError(t, err)

	ids, err := svc.Integrity.Referencing(ctx, retail.KindProduct, f.product.ID)
	require.NoError(t, err)
	assert.Equal(t, []retail.ID{s2.ID, s1.ID}, ids)

	_, err = svc.Integrity.Referencing(ctx, retail.KindSale, s1.ID)
	assert.Error(t, err)
}

func TestHydrated_JoinsParentNames(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	f := seedParents(t, svc)
	sale, err := svc.Sales.Create(ctx, f.sale("2024-01-01"))
	require.NoError(t, err)

	view, err := svc.Sales.GetHydrated(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", view.CustomerName)
	assert.Equal(t, "Widget", view.ProductName)
	assert.Equal(t, "Downtown", view.StoreName)
	assert.Equal(t, sale, view.Sale)

	views, err := svc.Sales.ListHydrated(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, view, views[0])
}

func TestHydrated_MissingSaleIsNotFound(t *testing.T) {
	svc := newTestServices(t)
	_, err := svc.Sales.GetHydrated(context.Background(), 3)
	assert.True(t, retail.IsNotFound(err))
}
