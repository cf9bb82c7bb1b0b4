/*
handlers.go - HTTP API handlers for the retail records service

PURPOSE:
  Exposes the integrity engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the retail services.

ENDPOINTS:
  Customers, Products, Stores (same shape for each):
    GET    /api/customers              List, newest first
    POST   /api/customers              Create
    GET    /api/customers/{id}         Get
    PUT    /api/customers/{id}         Full replace
    DELETE /api/customers/{id}         Delete (409 while sales reference it)
    GET    /api/customers/{id}/sales   Sales referencing the customer

  Sales:
    GET    /api/sales?hydrate=true     List (with names when hydrated)
    POST   /api/sales                  Create (422 on unresolved references)
    GET    /api/sales/{id}?hydrate=true
    PUT    /api/sales/{id}
    DELETE /api/sales/{id}

  Integrity:
    GET    /api/integrity              Last scan report
    POST   /api/integrity/scan         Run a scan now

  Health:
    GET    /healthz                    Storage ping

ARCHITECTURE:
  One generic resource[R, I, B] serves every entity kind. It holds the
  entity service plus the functions that move between request bodies,
  retail inputs and DTOs. Handler owns the four resources and everything
  that is not per-kind.

ERROR HANDLING:
  Service outcomes map to HTTP status in writeServiceError:
  - 400: Validation errors, malformed body or id
  - 404: Record not found
  - 409: Delete blocked by sales, concurrent modification
  - 422: Sale references that do not resolve
  - 503: Storage unavailable

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/retail-records/retail"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Services  *retail.Services
	Health    Pinger
	Scheduler *IntegrityScheduler

	customers *resource[retail.Customer, retail.CustomerInput, CustomerRequest]
	products  *resource[retail.Product, retail.ProductInput, ProductRequest]
	stores    *resource[retail.Store, retail.StoreInput, StoreRequest]
	sales     *resource[retail.Sale, retail.SaleInput, SaleRequest]

	logger *slog.Logger
}

// NewHandler creates a handler over the services. The scheduler is created
// disabled; callers configure and start it.
func NewHandler(svc *retail.Services, health Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		Services:  svc,
		Health:    health,
		Scheduler: NewIntegrityScheduler(svc.Scanner, logger),
		logger:    logger,
	}
	h.customers = &resource[retail.Customer, retail.CustomerInput, CustomerRequest]{
		h: h, svc: svc.Customers, dto: func(c retail.Customer) any { return customerDTO(c) },
	}
	h.products = &resource[retail.Product, retail.ProductInput, ProductRequest]{
		h: h, svc: svc.Products, dto: func(p retail.Product) any { return productDTO(p) },
	}
	h.stores = &resource[retail.Store, retail.StoreInput, StoreRequest]{
		h: h, svc: svc.Stores, dto: func(s retail.Store) any { return storeDTO(s) },
	}
	h.sales = &resource[retail.Sale, retail.SaleInput, SaleRequest]{
		h: h, svc: svc.Sales.Service, dto: func(s retail.Sale) any { return saleDTO(s) },
	}
	return h
}

// =============================================================================
// GENERIC RESOURCE
// =============================================================================

// request is implemented by the create/replace bodies in dto.go.
type request[I any] interface {
	input() (I, error)
	version() *int64
}

type resource[R retail.Record, I retail.Input[R], B request[I]] struct {
	h   *Handler
	svc *retail.Service[R, I]
	dto func(R) any
}

// List returns all records, newest first.
func (rs *resource[R, I, B]) List(w http.ResponseWriter, r *http.Request) {
	recs, err := rs.svc.List(r.Context())
	if err != nil {
		rs.h.writeServiceError(w, r, err)
		return
	}
	out := make([]any, len(recs))
	for i, rec := range recs {
		out[i] = rs.dto(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one record.
func (rs *resource[R, I, B]) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := rs.svc.Get(r.Context(), id)
	if err != nil {
		rs.h.writeServiceError(w, r, err)
		return
	}
	writeRecord(w, http.StatusOK, rec, rs.dto(rec))
}

// Create admits a new record.
func (rs *resource[R, I, B]) Create(w http.ResponseWriter, r *http.Request) {
	in, _, ok := decodeInput[I, B](w, r)
	if !ok {
		return
	}
	rec, err := rs.svc.Create(r.Context(), in)
	if err != nil {
		rs.h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/%d", strings.TrimSuffix(r.URL.Path, "/"), rec.Identity()))
	writeRecord(w, http.StatusCreated, rec, rs.dto(rec))
}

// Update fully replaces the record's fields.
func (rs *resource[R, I, B]) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, bodyVersion, ok := decodeInput[I, B](w, r)
	if !ok {
		return
	}
	expected, ok := expectedVersion(w, r, bodyVersion)
	if !ok {
		return
	}
	rec, err := rs.svc.Update(r.Context(), id, in, expected)
	if err != nil {
		rs.h.writeServiceError(w, r, err)
		return
	}
	writeRecord(w, http.StatusOK, rec, rs.dto(rec))
}

// Delete removes the record.
func (rs *resource[R, I, B]) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// The body is optional; chunked bodies have no ContentLength.
	var bodyVersion *int64
	if r.Body != nil && r.Body != http.NoBody {
		var body struct {
			Version *int64 `json:"version"`
		}
		switch err := json.NewDecoder(r.Body).Decode(&body); {
		case errors.Is(err, io.EOF):
		case err != nil:
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		default:
			bodyVersion = body.Version
		}
	}
	expected, ok := expectedVersion(w, r, bodyVersion)
	if !ok {
		return
	}
	if err := rs.svc.Delete(r.Context(), id, expected); err != nil {
		rs.h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sales lists the sales that reference a parent record.
func (rs *resource[R, I, B]) Sales(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := rs.svc.Get(ctx, id); err != nil {
		rs.h.writeServiceError(w, r, err)
		return
	}
	ids, err := rs.h.Services.Integrity.Referencing(ctx, rs.svc.Kind(), id)
	if err != nil {
		rs.h.writeServiceError(w, r, err)
		return
	}
	resp := ReferencingResponse{Kind: rs.svc.Kind(), ID: int64(id), SaleIDs: make([]int64, len(ids))}
	for i, sid := range ids {
		resp.SaleIDs[i] = int64(sid)
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeInput[I any, B request[I]](w http.ResponseWriter, r *http.Request) (I, *int64, bool) {
	var body B
	var zero I
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return zero, nil, false
	}
	in, err := body.input()
	if err != nil {
		writeServiceErrorBody(w, err)
		return zero, nil, false
	}
	return in, body.version(), true
}

// =============================================================================
// SALE ENDPOINTS
// =============================================================================

// ListSales returns all sales, newest first.
// GET /api/sales?hydrate=true
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	if !hydrate(r) {
		h.sales.List(w, r)
		return
	}
	views, err := h.Services.Sales.ListHydrated(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]SaleViewDTO, len(views))
	for i, v := range views {
		out[i] = saleViewDTO(v)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSale returns one sale.
// GET /api/sales/{id}?hydrate=true
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	if !hydrate(r) {
		h.sales.Get(w, r)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.Services.Sales.GetHydrated(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeRecord(w, http.StatusOK, v.Sale, saleViewDTO(v))
}

func hydrate(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("hydrate"))
	return v
}

// =============================================================================
// INTEGRITY ENDPOINTS
// =============================================================================

// GetIntegrityReport returns the most recent scan.
// GET /api/integrity
func (h *Handler) GetIntegrityReport(w http.ResponseWriter, r *http.Request) {
	report := h.Scheduler.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "No integrity scan has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunIntegrityScan runs a scan immediately and returns its report.
// POST /api/integrity/scan
func (h *Handler) RunIntegrityScan(w http.ResponseWriter, r *http.Request) {
	report, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Healthz pings storage.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request) (retail.ID, bool) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", fmt.Errorf("id %q is not a positive integer", raw))
		return 0, false
	}
	return retail.ID(n), true
}

// expectedVersion reads the pinned version from If-Match, falling back to
// the body. Zero means the caller did not pin one.
func expectedVersion(w http.ResponseWriter, r *http.Request, body *int64) (int64, bool) {
	if raw := r.Header.Get("If-Match"); raw != "" {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "W/")
		n, err := strconv.ParseInt(strings.Trim(raw, `"`), 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid If-Match header", fmt.Errorf("want a positive version, got %q", raw))
			return 0, false
		}
		return n, true
	}
	if body != nil {
		if *body <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid version", fmt.Errorf("version %d must be positive", *body))
			return 0, false
		}
		return *body, true
	}
	return 0, true
}

func writeRecord(w http.ResponseWriter, status int, rec retail.Record, body any) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(rec.Revision(), 10)))
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a service outcome to a response, logging outages.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := writeServiceErrorBody(w, err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"err", err)
	}
}

func writeServiceErrorBody(w http.ResponseWriter, err error) int {
	var (
		validation *retail.ValidationError
		invalidRef *retail.InvalidReferenceError
		notFound   *retail.NotFoundError
		referenced *retail.ReferencedError
		conflict   *retail.ConflictError
	)

	var status int
	resp := ErrorResponse{Details: err.Error()}
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		resp.Error, resp.Code = "Validation failed", "validation"
		resp.Fields = validation.Fields
	case errors.As(err, &invalidRef):
		status = http.StatusUnprocessableEntity
		resp.Error, resp.Code = "Sale references do not resolve", "invalid_reference"
		resp.References = make(map[string]int64, len(invalidRef.Fields))
		for i, f := range invalidRef.Fields {
			var id int64
			if i < len(invalidRef.IDs) {
				id = int64(invalidRef.IDs[i])
			}
			resp.References[f] = id
		}
	case errors.As(err, &notFound), errors.Is(err, retail.ErrNotFound):
		status = http.StatusNotFound
		resp.Error, resp.Code = "Not found", "not_found"
	case errors.As(err, &referenced):
		status = http.StatusConflict
		resp.Error, resp.Code = "Record is referenced by existing sales", "referenced"
		if len(referenced.SaleIDs) > 0 {
			ids := make([]int64, len(referenced.SaleIDs))
			for i, id := range referenced.SaleIDs {
				ids[i] = int64(id)
			}
			resp.Details = map[string]any{"message": err.Error(), "saleIds": ids}
		}
	case errors.As(err, &conflict), errors.Is(err, retail.ErrConflict):
		status = http.StatusConflict
		resp.Error, resp.Code = "Record was modified concurrently", "conflict"
	case errors.Is(err, retail.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
		resp.Error, resp.Code = "Storage unavailable", "storage_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		resp.Error, resp.Code = "Request cancelled", "cancelled"
	default:
		status = http.StatusInternalServerError
		resp.Error = "Internal error"
	}
	writeJSON(w, status, resp)
	return status
}
