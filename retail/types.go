/*
Package retail provides the entity integrity engine for the retail records service.

PURPOSE:
  Stores Customers, Products, Stores and the Sales that link them, and
  enforces the rules that keep those links valid: a Sale can only be
  admitted when all three references resolve, and a Customer, Product or
  Store cannot be removed while a Sale still points at it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: which of the four tables a record lives in
  - ID: server-assigned identity, unique per Kind, never reused
  - Records: the stored shape (identity + version + fields)
  - Inputs: the create/update shape (fields only, no identity)

DESIGN PRINCIPLES:
  1. Records and inputs are separate types. Identity and version are
     assigned by the store and can never arrive from a caller.
  2. Back-references (the sales of a customer) are reverse lookups on the
     Sales table, not object pointers. See integrity.go.
  3. Every record carries a version token used for optimistic concurrency.
     See conflict.go.

SEE ALSO:
  - store.go: Table contract implemented by the storage backends
  - service.go: Create/List/Get/Update/Delete orchestration
  - integrity.go: Referential integrity validator
*/
package retail

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// Kind names one of the four entity tables.
type Kind string

const (
	KindCustomer Kind = "customer"
	KindProduct  Kind = "product"
	KindStore    Kind = "store"
	KindSale     Kind = "sale"
)

// Kinds lists every entity kind, parents first.
var Kinds = []Kind{KindCustomer, KindProduct, KindStore, KindSale}

// ID is a server-assigned identity. IDs start at 1 and increase
// monotonically within a Kind.
type ID int64

// Record is implemented by the four stored entity types.
type Record interface {
	Identity() ID
	Revision() int64
}

// =============================================================================
// RECORDS - Stored shape
// =============================================================================

// Customer is a stored customer row.
type Customer struct {
	ID      ID
	Name    string
	Address string
	Version int64
}

func (c Customer) Identity() ID    { return c.ID }
func (c Customer) Revision() int64 { return c.Version }

// Product is a stored product row.
type Product struct {
	ID      ID
	Name    string
	Price   decimal.Decimal
	Version int64
}

func (p Product) Identity() ID    { return p.ID }
func (p Product) Revision() int64 { return p.Version }

// Store is a stored retail location. Not to be confused with the storage
// backends in the store packages.
type Store struct {
	ID      ID
	Name    string
	Address string
	Version int64
}

func (s Store) Identity() ID    { return s.ID }
func (s Store) Revision() int64 { return s.Version }

// Sale links one customer, one product and one store.
type Sale struct {
	ID         ID
	DateSold   time.Time
	CustomerID ID
	ProductID  ID
	StoreID    ID
	Version    int64
}

func (s Sale) Identity() ID    { return s.ID }
func (s Sale) Revision() int64 { return s.Version }

// Reference returns the foreign key the sale holds for the given parent kind.
func (s Sale) Reference(kind Kind) ID {
	switch kind {
	case KindCustomer:
		return s.CustomerID
	case KindProduct:
		return s.ProductID
	case KindStore:
		return s.StoreID
	}
	return 0
}

// SaleView is a sale with the display names of what it references.
// A parent that no longer resolves leaves its name empty.
type SaleView struct {
	Sale
	CustomerName string
	ProductName  string
	StoreName    string
}

// =============================================================================
// INPUTS - Create/update shape
// =============================================================================

// Input is the caller-supplied shape for creating or fully replacing a record.
type Input[R Record] interface {
	// Validate checks field constraints and returns a *ValidationError.
	Validate() error
	// Record builds an unsaved record carrying the input's fields.
	Record() R
}

type CustomerInput struct {
	Name    string
	Address string
}

func (in CustomerInput) Record() Customer {
	return Customer{Name: in.Name, Address: in.Address}
}

type ProductInput struct {
	Name  string
	Price decimal.Decimal
}

func (in ProductInput) Record() Product {
	return Product{Name: in.Name, Price: in.Price}
}

type StoreInput struct {
	Name    string
	Address string
}

func (in StoreInput) Record() Store {
	return Store{Name: in.Name, Address: in.Address}
}

type SaleInput struct {
	DateSold   time.Time
	CustomerID ID
	ProductID  ID
	StoreID    ID
}

func (in SaleInput) Record() Sale {
	return Sale{
		DateSold:   in.DateSold.UTC(),
		CustomerID: in.CustomerID,
		ProductID:  in.ProductID,
		StoreID:    in.StoreID,
	}
}

// parentFields maps each parent kind to the Sale field that references it.
var parentFields = []struct {
	Kind  Kind
	Field string
}{
	{KindCustomer, FieldCustomerID},
	{KindProduct, FieldProductID},
	{KindStore, FieldStoreID},
}

// Field names used in validation and reference errors.
const (
	FieldName       = "name"
	FieldAddress    = "address"
	FieldPrice      = "price"
	FieldDateSold   = "dateSold"
	FieldCustomerID = "customerId"
	FieldProductID  = "productId"
	FieldStoreID    = "storeId"
)
