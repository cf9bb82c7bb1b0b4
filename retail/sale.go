package retail

import (
	"context"
	"log/slog"
)

// SaleService is the Sale service plus reads that join in parent names.
type SaleService struct {
	*Service[Sale, SaleInput]

	customers Table[Customer]
	products  Table[Product]
	stores    Table[Store]
}

// ListHydrated returns every sale, newest first, with the names of the
// customer, product and store it references.
func (s *SaleService) ListHydrated(ctx context.Context) ([]SaleView, error) {
	sales, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return []SaleView{}, nil
	}

	names, err := s.parentNames(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]SaleView, len(sales))
	for i, sale := range sales {
		views[i] = names.view(sale)
	}
	return views, nil
}

// GetHydrated returns one sale with its parent names.
func (s *SaleService) GetHydrated(ctx context.Context, id ID) (SaleView, error) {
	sale, err := s.Get(ctx, id)
	if err != nil {
		return SaleView{}, err
	}

	view := SaleView{Sale: sale}
	if c, err := s.customers.Get(ctx, sale.CustomerID); err != nil {
		return SaleView{}, storageFailure("get customer", err)
	} else if c != nil {
		view.CustomerName = c.Name
	}
	if p, err := s.products.Get(ctx, sale.ProductID); err != nil {
		return SaleView{}, storageFailure("get product", err)
	} else if p != nil {
		view.ProductName = p.Name
	}
	if st, err := s.stores.Get(ctx, sale.StoreID); err != nil {
		return SaleView{}, storageFailure("get store", err)
	} else if st != nil {
		view.StoreName = st.Name
	}
	return view, nil
}

// nameIndex maps parent ids to display names for one hydration pass.
type nameIndex struct {
	customers map[ID]string
	products  map[ID]string
	stores    map[ID]string
}

func (n nameIndex) view(sale Sale) SaleView {
	return SaleView{
		Sale:         sale,
		CustomerName: n.customers[sale.CustomerID],
		ProductName:  n.products[sale.ProductID],
		StoreName:    n.stores[sale.StoreID],
	}
}

// parentNames reads each parent table once.
func (s *SaleService) parentNames(ctx context.Context) (nameIndex, error) {
	idx := nameIndex{
		customers: make(map[ID]string),
		products:  make(map[ID]string),
		stores:    make(map[ID]string),
	}

	customers, err := s.customers.List(ctx)
	if err != nil {
		return idx, storageFailure("list customer", err)
	}
	for _, c := range customers {
		idx.customers[c.ID] = c.Name
	}

	products, err := s.products.List(ctx)
	if err != nil {
		return idx, storageFailure("list product", err)
	}
	for _, p := range products {
		idx.products[p.ID] = p.Name
	}

	stores, err := s.stores.List(ctx)
	if err != nil {
		return idx, storageFailure("list store", err)
	}
	for _, st := range stores {
		idx.stores[st.ID] = st.Name
	}
	return idx, nil
}

// =============================================================================
// SERVICES - Wiring over one backend
// =============================================================================

// Options configures NewServices.
type Options struct {
	// Retries bounds blind-write retries after a conflict. Nil uses
	// DefaultRetries.
	Retries *int
	Logger  *slog.Logger
}

// Services bundles the four entity services built over one backend.
type Services struct {
	Customers *Service[Customer, CustomerInput]
	Products  *Service[Product, ProductInput]
	Stores    *Service[Store, StoreInput]
	Sales     *SaleService

	Integrity *Validator
	Scanner   *Scanner
}

// NewServices wires the services, validator and scanner over b.
func NewServices(b Backend, opts Options) *Services {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := DefaultRetries
	if opts.Retries != nil {
		retries = *opts.Retries
	}
	resolver := NewResolver(retries, logger)
	v := NewValidator(b)

	customers := NewService[Customer, CustomerInput](KindCustomer, b.Customers(), resolver, logger)
	customers.guard = guardFor(v, KindCustomer)

	products := NewService[Product, ProductInput](KindProduct, b.Products(), resolver, logger)
	products.guard = guardFor(v, KindProduct)

	stores := NewService[Store, StoreInput](KindStore, b.Stores(), resolver, logger)
	stores.guard = guardFor(v, KindStore)

	sales := NewService[Sale, SaleInput](KindSale, b.Sales(), resolver, logger)
	sales.admit = func(ctx context.Context, in SaleInput) error {
		return v.ValidateSaleReferences(ctx, in.CustomerID, in.ProductID, in.StoreID)
	}

	return &Services{
		Customers: customers,
		Products:  products,
		Stores:    stores,
		Sales: &SaleService{
			Service:   sales,
			customers: b.Customers(),
			products:  b.Products(),
			stores:    b.Stores(),
		},
		Integrity: v,
		Scanner:   NewScanner(b, logger),
	}
}

func guardFor(v *Validator, kind Kind) func(context.Context, ID) error {
	return func(ctx context.Context, id ID) error {
		return v.CanDelete(ctx, kind, id)
	}
}
