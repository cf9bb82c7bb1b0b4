/*
integrity.go - Referential integrity validator

PURPOSE:
  Enforces cross-entity reference rules explicitly, synchronously with the
  write, so failures name the exact reference that is wrong instead of
  surfacing as a generic storage constraint violation.

RULES:
  1. Admission: a Sale's customerId, productId and storeId must each
     resolve to an existing row. Every failing field is reported.
  2. No orphaning: a Customer, Product or Store referenced by at least one
     Sale cannot be deleted. Deletes never cascade.

BACK-REFERENCES:
  The sales of a customer (product, store) are answered by a reverse
  lookup on the Sales table. Parents hold no pointers to their sales.

KNOWN WINDOW:
  Validation reads the parent tables before the Sale write. A concurrent
  delete can land in between. Backends that enforce keys at commit close
  it; the integrity scan detects anything that slips through.

SEE ALSO:
  - service.go: Calls the validator before commits
  - scan.go: Periodic detection of dangling references
*/
package retail

import (
	"context"
	"fmt"
)

// Validator checks references between Sales and their parents.
type Validator struct {
	customers Table[Customer]
	products  Table[Product]
	stores    Table[Store]
	sales     SaleTable
}

// NewValidator creates a validator over the backend's tables.
func NewValidator(b Backend) *Validator {
	return &Validator{
		customers: b.Customers(),
		products:  b.Products(),
		stores:    b.Stores(),
		sales:     b.Sales(),
	}
}

// ValidateSaleReferences checks each foreign key against its table.
// Returns *InvalidReferenceError listing every field that did not resolve.
func (v *Validator) ValidateSaleReferences(ctx context.Context, customerID, productID, storeID ID) error {
	ids := map[Kind]ID{
		KindCustomer: customerID,
		KindProduct:  productID,
		KindStore:    storeID,
	}

	var bad InvalidReferenceError
	for _, pf := range parentFields {
		id := ids[pf.Kind]
		ok, err := v.Exists(ctx, pf.Kind, id)
		if err != nil {
			return err
		}
		if !ok {
			bad.Fields = append(bad.Fields, pf.Field)
			bad.IDs = append(bad.IDs, id)
		}
	}

	if len(bad.Fields) > 0 {
		return &bad
	}
	return nil
}

// Exists reports whether a parent row (customer, product or store) exists.
func (v *Validator) Exists(ctx context.Context, kind Kind, id ID) (bool, error) {
	if id <= 0 {
		return false, nil
	}

	var (
		found bool
		err   error
	)
	switch kind {
	case KindCustomer:
		var c *Customer
		c, err = v.customers.Get(ctx, id)
		found = c != nil
	case KindProduct:
		var p *Product
		p, err = v.products.Get(ctx, id)
		found = p != nil
	case KindStore:
		var s *Store
		s, err = v.stores.Get(ctx, id)
		found = s != nil
	default:
		return false, fmt.Errorf("%s is not a parent kind", kind)
	}
	if err != nil {
		return false, storageFailure("get "+string(kind), err)
	}
	return found, nil
}

// Referencing returns the ids of Sales that reference the given parent,
// newest first.
func (v *Validator) Referencing(ctx context.Context, kind Kind, id ID) ([]ID, error) {
	if kind == KindSale {
		return nil, fmt.Errorf("sales are not referenced by other records")
	}
	ids, err := v.sales.Referencing(ctx, kind, id)
	if err != nil {
		return nil, storageFailure("sales referencing "+string(kind), err)
	}
	return ids, nil
}

// CanDelete returns *ReferencedError if any Sale references the record.
// Sales themselves are never referenced and can always be deleted.
func (v *Validator) CanDelete(ctx context.Context, kind Kind, id ID) error {
	if kind == KindSale {
		return nil
	}
	ids, err := v.Referencing(ctx, kind, id)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return &ReferencedError{Kind: kind, ID: id, SaleIDs: ids}
	}
	return nil
}
