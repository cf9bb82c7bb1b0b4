package retail

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Field limits, counted in Unicode code points of the NFC form.
const (
	MaxCustomerName    = 100
	MaxCustomerAddress = 200
	MaxProductName     = 100
)

// Reasons reported in ValidationError.Fields.
const (
	ReasonRequired   = "required"
	ReasonPositive   = "must be greater than 0"
	ReasonPositiveID = "must be a positive id"
)

// fieldCheck collects per-field failures for one input.
type fieldCheck struct {
	kind   Kind
	fields map[string]string
}

func newFieldCheck(kind Kind) *fieldCheck {
	return &fieldCheck{kind: kind, fields: make(map[string]string)}
}

func (c *fieldCheck) fail(field, reason string) {
	if _, seen := c.fields[field]; !seen {
		c.fields[field] = reason
	}
}

// text enforces a required string. limit <= 0 means no upper bound.
func (c *fieldCheck) text(field, value string, limit int) {
	if strings.TrimSpace(value) == "" {
		c.fail(field, ReasonRequired)
		return
	}
	if limit > 0 && textLength(value) > limit {
		c.fail(field, "must be at most "+strconv.Itoa(limit)+" characters")
	}
}

func (c *fieldCheck) reference(field string, id ID) {
	switch {
	case id == 0:
		c.fail(field, ReasonRequired)
	case id < 0:
		c.fail(field, ReasonPositiveID)
	}
}

func (c *fieldCheck) err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Kind: c.kind, Fields: c.fields}
}

// textLength counts characters the way a user would: composed sequences
// such as "e" + combining acute count once.
func textLength(s string) int {
	return utf8.RuneCountInString(norm.NFC.String(s))
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func (in CustomerInput) Validate() error {
	c := newFieldCheck(KindCustomer)
	c.text(FieldName, in.Name, MaxCustomerName)
	c.text(FieldAddress, in.Address, MaxCustomerAddress)
	return c.err()
}

func (in ProductInput) Validate() error {
	c := newFieldCheck(KindProduct)
	c.text(FieldName, in.Name, MaxProductName)
	if !in.Price.IsPositive() {
		c.fail(FieldPrice, ReasonPositive)
	}
	return c.err()
}

func (in StoreInput) Validate() error {
	c := newFieldCheck(KindStore)
	c.text(FieldName, in.Name, 0)
	c.text(FieldAddress, in.Address, 0)
	return c.err()
}

func (in SaleInput) Validate() error {
	c := newFieldCheck(KindSale)
	if in.DateSold.IsZero() {
		c.fail(FieldDateSold, ReasonRequired)
	}
	c.reference(FieldCustomerID, in.CustomerID)
	c.reference(FieldProductID, in.ProductID)
	c.reference(FieldStoreID, in.StoreID)
	return c.err()
}
