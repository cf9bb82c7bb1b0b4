/*
scan.go - Integrity scanner

PURPOSE:
  Detects Sales whose references no longer resolve. The validator blocks
  this at write time; the scan is the after-the-fact check for anything
  that got past it (a backend without commit-time keys, a manual edit of
  the database, a restore from a partial backup).

ALGORITHM:
  1. List the three parent tables and build id sets.
  2. List all Sales.
  3. For every Sale with a key missing from its set, Get that parent
     again; report the keys that still do not resolve.

  The listings are not a snapshot. Step 3 drops parents written between
  steps 1 and 2, so a healthy backend under writes scans clean.

  Read-only. Never repairs anything.

SEE ALSO:
  - integrity.go: Write-time enforcement
  - api/scheduler.go: Runs the scan periodically
*/
package retail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Orphan is a Sale with references that do not resolve.
type Orphan struct {
	SaleID ID       `json:"saleId"`
	Fields []string `json:"fields"`
}

// Report is the outcome of one scan.
type Report struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	SalesScanned int       `json:"salesScanned"`
	Orphans      []Orphan  `json:"orphans"`
}

// Clean reports whether the scan found no dangling references.
func (r *Report) Clean() bool { return len(r.Orphans) == 0 }

// WriteText renders the report for terminals.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "scan %s\n", r.ID)
	fmt.Fprintf(&b, "started:  %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "finished: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "sales scanned: %d\n", r.SalesScanned)
	if r.Clean() {
		b.WriteString("no dangling references\n")
	} else {
		fmt.Fprintf(&b, "dangling references: %d\n", len(r.Orphans))
		for _, o := range r.Orphans {
			fmt.Fprintf(&b, "  sale %d: %s\n", o.SaleID, strings.Join(o.Fields, ", "))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Scanner runs integrity scans over a backend.
type Scanner struct {
	customers Table[Customer]
	products  Table[Product]
	stores    Table[Store]
	sales     SaleTable
	logger    *slog.Logger

	// Clock and IDs are replaceable for deterministic reports.
	Clock func() time.Time
	IDs   func() string
}

// NewScanner creates a scanner over the backend's tables.
func NewScanner(b Backend, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		customers: b.Customers(),
		products:  b.Products(),
		stores:    b.Stores(),
		sales:     b.Sales(),
		logger:    logger,
		Clock:     time.Now,
		IDs:       uuid.NewString,
	}
}

// Scan performs one full pass.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	report := &Report{
		ID:        s.IDs(),
		StartedAt: s.Clock().UTC(),
		Orphans:   []Orphan{},
	}

	present, err := s.parentIDs(ctx)
	if err != nil {
		return nil, err
	}

	sales, err := s.sales.List(ctx)
	if err != nil {
		return nil, storageFailure("list sale", err)
	}
	report.SalesScanned = len(sales)

	for _, sale := range sales {
		var missing []string
		for _, pf := range parentFields {
			if _, ok := present[pf.Kind][sale.Reference(pf.Kind)]; !ok {
				missing = append(missing, pf.Field)
			}
		}
		if len(missing) == 0 {
			continue
		}
		missing, err = s.recheck(ctx, sale, missing)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			report.Orphans = append(report.Orphans, Orphan{SaleID: sale.ID, Fields: missing})
		}
	}

	report.FinishedAt = s.Clock().UTC()
	s.logger.Info("integrity scan finished",
		"scan_id", report.ID,
		"sales", report.SalesScanned,
		"orphans", len(report.Orphans))
	return report, nil
}

func (s *Scanner) parentIDs(ctx context.Context) (map[Kind]map[ID]struct{}, error) {
	present := map[Kind]map[ID]struct{}{}

	customers, err := s.customers.List(ctx)
	if err != nil {
		return nil, storageFailure("list customer", err)
	}
	present[KindCustomer] = idSet(customers)

	products, err := s.products.List(ctx)
	if err != nil {
		return nil, storageFailure("list product", err)
	}
	present[KindProduct] = idSet(products)

	stores, err := s.stores.List(ctx)
	if err != nil {
		return nil, storageFailure("list store", err)
	}
	present[KindStore] = idSet(stores)

	return present, nil
}

// recheck reads each missing parent again. A parent and a sale created
// between the parent listing and the sales listing show up as missing in
// the id sets but resolve here.
func (s *Scanner) recheck(ctx context.Context, sale Sale, fields []string) ([]string, error) {
	var still []string
	for _, pf := range parentFields {
		if !slices.Contains(fields, pf.Field) {
			continue
		}
		found, err := s.resolves(ctx, pf.Kind, sale.Reference(pf.Kind))
		if err != nil {
			return nil, err
		}
		if !found {
			still = append(still, pf.Field)
		}
	}
	return still, nil
}

func (s *Scanner) resolves(ctx context.Context, kind Kind, id ID) (bool, error) {
	var (
		found bool
		err   error
	)
	switch kind {
	case KindCustomer:
		var c *Customer
		c, err = s.customers.Get(ctx, id)
		found = c != nil
	case KindProduct:
		var p *Product
		p, err = s.products.Get(ctx, id)
		found = p != nil
	case KindStore:
		var st *Store
		st, err = s.stores.Get(ctx, id)
		found = st != nil
	}
	if err != nil {
		return false, storageFailure("get "+string(kind), err)
	}
	return found, nil
}

func idSet[R Record](recs []R) map[ID]struct{} {
	set := make(map[ID]struct{}, len(recs))
	for _, r := range recs {
		set[r.Identity()] = struct{}{}
	}
	return set
}
