/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the retail API. Records never go on the wire directly:
  ids and versions are plain numbers, prices are decimal strings, dates
  are RFC 3339.

NAMING CONVENTION:
  - *DTO: one record as returned
  - *Request: create/update bodies, converted with input()
  - *Response: anything else a handler returns

TYPES:
  Parents:
    CustomerDTO, CustomerRequest
    ProductDTO, ProductRequest
    StoreDTO, StoreRequest

  Sales:
    SaleDTO, SaleViewDTO, SaleRequest, ReferencingResponse

  Integrity:
    ReportDTO is retail.Report itself (already tagged)

  Scenarios:
    LoadScenarioRequest, LoadScenarioResponse

VERSIONS:
  PUT and DELETE can pin the version they expect with an If-Match header
  or the "version" body field. Omitting both is a blind write.

SEE ALSO:
  - handlers.go: Uses these types
  - retail/types.go: Records and inputs
*/
package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-records/retail"
	"github.com/warp/retail-records/seed"
)

// dateLayouts are accepted for dateSold, most specific first.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// =============================================================================
// CUSTOMERS
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Version int64  `json:"version"`
}

// CustomerRequest is the body of POST and PUT /api/customers.
type CustomerRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Version *int64 `json:"version,omitempty"`
}

func (r CustomerRequest) input() (retail.CustomerInput, error) {
	return retail.CustomerInput{Name: r.Name, Address: r.Address}, nil
}

func (r CustomerRequest) version() *int64 { return r.Version }

func customerDTO(c retail.Customer) CustomerDTO {
	return CustomerDTO{ID: int64(c.ID), Name: c.Name, Address: c.Address, Version: c.Version}
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a product in API responses. Price is encoded as a
// decimal string.
type ProductDTO struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Version int64           `json:"version"`
}

// ProductRequest is the body of POST and PUT /api/products. Price accepts
// either a JSON number or a decimal string.
type ProductRequest struct {
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Version *int64          `json:"version,omitempty"`
}

func (r ProductRequest) input() (retail.ProductInput, error) {
	return retail.ProductInput{Name: r.Name, Price: r.Price}, nil
}

func (r ProductRequest) version() *int64 { return r.Version }

func productDTO(p retail.Product) ProductDTO {
	return ProductDTO{ID: int64(p.ID), Name: p.Name, Price: p.Price, Version: p.Version}
}

// =============================================================================
// STORES
// =============================================================================

// StoreDTO represents a retail location in API responses.
type StoreDTO struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Version int64  `json:"version"`
}

// StoreRequest is the body of POST and PUT /api/stores.
type StoreRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Version *int64 `json:"version,omitempty"`
}

func (r StoreRequest) input() (retail.StoreInput, error) {
	return retail.StoreInput{Name: r.Name, Address: r.Address}, nil
}

func (r StoreRequest) version() *int64 { return r.Version }

func storeDTO(s retail.Store) StoreDTO {
	return StoreDTO{ID: int64(s.ID), Name: s.Name, Address: s.Address, Version: s.Version}
}

// =============================================================================
// SALES
// =============================================================================

// SaleDTO represents a sale in API responses.
type SaleDTO struct {
	ID         int64     `json:"id"`
	DateSold   time.Time `json:"dateSold"`
	CustomerID int64     `json:"customerId"`
	ProductID  int64     `json:"productId"`
	StoreID    int64     `json:"storeId"`
	Version    int64     `json:"version"`
}

// SaleViewDTO is a sale with the names of what it references.
type SaleViewDTO struct {
	SaleDTO
	CustomerName string `json:"customerName"`
	ProductName  string `json:"productName"`
	StoreName    string `json:"storeName"`
}

// SaleRequest is the body of POST and PUT /api/sales.
type SaleRequest struct {
	DateSold   string `json:"dateSold"`
	CustomerID int64  `json:"customerId"`
	ProductID  int64  `json:"productId"`
	StoreID    int64  `json:"storeId"`
	Version    *int64 `json:"version,omitempty"`
}

func (r SaleRequest) input() (retail.SaleInput, error) {
	in := retail.SaleInput{
		CustomerID: retail.ID(r.CustomerID),
		ProductID:  retail.ID(r.ProductID),
		StoreID:    retail.ID(r.StoreID),
	}
	if r.DateSold == "" {
		// Zero date; Validate reports it as required.
		return in, nil
	}
	d, err := parseDate(r.DateSold)
	if err != nil {
		// Report the bad date together with every other field problem.
		verr := &retail.ValidationError{Kind: retail.KindSale, Fields: map[string]string{}}
		var rest *retail.ValidationError
		if errors.As(in.Validate(), &rest) {
			for f, reason := range rest.Fields {
				verr.Fields[f] = reason
			}
		}
		verr.Fields[retail.FieldDateSold] = err.Error()
		return in, verr
	}
	in.DateSold = d
	return in, nil
}

func (r SaleRequest) version() *int64 { return r.Version }

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q (want RFC 3339 or YYYY-MM-DD)", s)
}

func saleDTO(s retail.Sale) SaleDTO {
	return SaleDTO{
		ID:         int64(s.ID),
		DateSold:   s.DateSold.UTC(),
		CustomerID: int64(s.CustomerID),
		ProductID:  int64(s.ProductID),
		StoreID:    int64(s.StoreID),
		Version:    s.Version,
	}
}

func saleViewDTO(v retail.SaleView) SaleViewDTO {
	return SaleViewDTO{
		SaleDTO:      saleDTO(v.Sale),
		CustomerName: v.CustomerName,
		ProductName:  v.ProductName,
		StoreName:    v.StoreName,
	}
}

// ReferencingResponse lists the sales that point at a parent record.
type ReferencingResponse struct {
	Kind    retail.Kind `json:"kind"`
	ID      int64       `json:"id"`
	SaleIDs []int64     `json:"saleIds"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	Seed       uint64 `json:"seed"`
}

// LoadScenarioResponse reports what a scenario wrote.
type LoadScenarioResponse struct {
	Scenario string       `json:"scenario"`
	Created  seed.Summary `json:"created"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
	// Fields maps each invalid field to its reason (400 responses).
	Fields map[string]string `json:"fields,omitempty"`
	// References maps each unresolved sale field to the id it held (422).
	References map[string]int64 `json:"references,omitempty"`
}
