/*
Package sqlite provides a SQLite-backed implementation of retail.Backend.

PURPOSE:
  Persists customers, products, stores and sales in one SQLite database.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  customers: id, name, address, version
  products:  id, name, price (decimal text), version
  stores:    id, name, address, version
  sales:     id, date_sold, customer_id, product_id, store_id, version

IDENTITY:
  INTEGER PRIMARY KEY AUTOINCREMENT, so ids are never reused after a
  delete (plain ROWID tables may reuse the largest id).

REFERENTIAL INTEGRITY:
  sales.{customer,product,store}_id are FOREIGN KEYs with ON DELETE
  RESTRICT. The database rejects a dangling sale and a delete of a row
  that a sale still references, at commit time. Violations come back as
  retail.ErrInvalidReference and retail.ErrReferenced.

VERSIONING:
  UPDATE/DELETE carry "AND (? = 0 OR version = ?)". Zero rows affected
  is then either NotFound or Conflict, decided inside the same
  transaction.

CONCURRENCY:
  One connection (SetMaxOpenConns(1)) with busy_timeout. Statements on
  the pool are serialized; a transaction must only use its own *sql.Tx.

WAL MODE:
  Opened with journal_mode=WAL so a scan reading the sales table does not
  block a writer on another process (retail seed against a live server).

USAGE:
  store, err := sqlite.New("./data/retail.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := retail.NewServices(store, retail.Options{})

MIGRATION:
  New() runs CREATE TABLE IF NOT EXISTS. There are no schema versions yet;
  a column change needs a real migration step.

SEE ALSO:
  - retail/store.go: Interface definitions
  - retail/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/retail-records/retail"
)

// Store implements retail.Backend using SQLite.
type Store struct {
	db *sql.DB

	customers *table[retail.Customer]
	products  *table[retail.Product]
	stores    *table[retail.Store]
	sales     *saleTable
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.customers = &table[retail.Customer]{db: db, schema: customerSchema}
	store.products = &table[retail.Product]{db: db, schema: productSchema}
	store.stores = &table[retail.Store]{db: db, schema: storeSchema}
	store.sales = &saleTable{table: &table[retail.Sale]{db: db, schema: saleSchema}}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Customers() retail.Table[retail.Customer] { return s.customers }
func (s *Store) Products() retail.Table[retail.Product]   { return s.products }
func (s *Store) Stores() retail.Table[retail.Store]       { return s.stores }
func (s *Store) Sales() retail.SaleTable                  { return s.sales }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Sales never cascade: a referenced parent cannot be deleted
	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date_sold TEXT NOT NULL,
		customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE RESTRICT,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		store_id INTEGER NOT NULL REFERENCES stores(id) ON DELETE RESTRICT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Back-reference lookups and the restrict check on parent delete
	CREATE INDEX IF NOT EXISTS idx_sales_customer ON sales(customer_id);
	CREATE INDEX IF NOT EXISTS idx_sales_product ON sales(product_id);
	CREATE INDEX IF NOT EXISTS idx_sales_store ON sales(store_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SCHEMAS - Column mapping per kind
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

// schema maps one record type to its table. columns excludes id and
// version; values and scan follow the same order.
type schema[R retail.Record] struct {
	name    string
	columns []string
	values  func(R) []any
	scan    func(row rowScanner) (R, error)

	// fkViolation is what a FOREIGN KEY failure on insert/update means.
	fkViolation error
}

var customerSchema = schema[retail.Customer]{
	name:    "customers",
	columns: []string{"name", "address"},
	values: func(c retail.Customer) []any {
		return []any{c.Name, c.Address}
	},
	scan: func(row rowScanner) (retail.Customer, error) {
		var c retail.Customer
		err := row.Scan(&c.ID, &c.Version, &c.Name, &c.Address)
		return c, err
	},
}

var productSchema = schema[retail.Product]{
	name:    "products",
	columns: []string{"name", "price"},
	values: func(p retail.Product) []any {
		return []any{p.Name, p.Price.String()}
	},
	scan: func(row rowScanner) (retail.Product, error) {
		var (
			p     retail.Product
			price string
		)
		if err := row.Scan(&p.ID, &p.Version, &p.Name, &price); err != nil {
			return p, err
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return p, fmt.Errorf("product %d: bad price %q: %w", p.ID, price, err)
		}
		p.Price = d
		return p, nil
	},
}

var storeSchema = schema[retail.Store]{
	name:    "stores",
	columns: []string{"name", "address"},
	values: func(s retail.Store) []any {
		return []any{s.Name, s.Address}
	},
	scan: func(row rowScanner) (retail.Store, error) {
		var s retail.Store
		err := row.Scan(&s.ID, &s.Version, &s.Name, &s.Address)
		return s, err
	},
}

var saleSchema = schema[retail.Sale]{
	name:    "sales",
	columns: []string{"date_sold", "customer_id", "product_id", "store_id"},
	values: func(s retail.Sale) []any {
		return []any{
			s.DateSold.UTC().Format(time.RFC3339Nano),
			int64(s.CustomerID),
			int64(s.ProductID),
			int64(s.StoreID),
		}
	},
	scan: func(row rowScanner) (retail.Sale, error) {
		var (
			s    retail.Sale
			date string
		)
		if err := row.Scan(&s.ID, &s.Version, &date, &s.CustomerID, &s.ProductID, &s.StoreID); err != nil {
			return s, err
		}
		t, err := time.Parse(time.RFC3339Nano, date)
		if err != nil {
			return s, fmt.Errorf("sale %d: bad date_sold %q: %w", s.ID, date, err)
		}
		s.DateSold = t
		return s, nil
	},
	fkViolation: retail.ErrInvalidReference,
}

// =============================================================================
// TABLE - Generic CRUD over one schema
// =============================================================================

type table[R retail.Record] struct {
	db     *sql.DB
	schema schema[R]
}

func (t *table[R]) selectColumns() string {
	return "id, version, " + strings.Join(t.schema.columns, ", ")
}

func (t *table[R]) Insert(ctx context.Context, rec R) (retail.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	cols := t.schema.columns

	query := fmt.Sprintf(`INSERT INTO %s (%s, version, created_at, updated_at) VALUES (%s, 1, ?, ?)`,
		t.schema.name, strings.Join(cols, ", "), placeholders(len(cols)))
	args := append(t.schema.values(rec), now, now)

	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, t.classify("insert", err, t.schema.fkViolation)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s id: %w", t.schema.name, err)
	}
	return retail.ID(id), nil
}

func (t *table[R]) Get(ctx context.Context, id retail.ID) (*R, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, t.selectColumns(), t.schema.name)

	rec, err := t.schema.scan(t.db.QueryRowContext(ctx, query, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", t.schema.name, id, err)
	}
	return &rec, nil
}

func (t *table[R]) List(ctx context.Context) ([]R, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id DESC`, t.selectColumns(), t.schema.name)

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.schema.name, err)
	}
	defer rows.Close()

	out := []R{}
	for rows.Next() {
		rec, err := t.schema.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *table[R]) Replace(ctx context.Context, id retail.ID, expectedVersion int64, rec R) error {
	sets := make([]string, len(t.schema.columns))
	for i, c := range t.schema.columns {
		sets[i] = c + " = ?"
	}
	query := fmt.Sprintf(`UPDATE %s SET %s, version = version + 1, updated_at = ?
		WHERE id = ? AND (? = 0 OR version = ?)`,
		t.schema.name, strings.Join(sets, ", "))
	args := append(t.schema.values(rec),
		time.Now().UTC().Format(time.RFC3339),
		int64(id), expectedVersion, expectedVersion)

	return t.conditional(ctx, "update", id, t.schema.fkViolation, query, args...)
}

func (t *table[R]) Remove(ctx context.Context, id retail.ID, expectedVersion int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND (? = 0 OR version = ?)`, t.schema.name)
	return t.conditional(ctx, "delete", id, retail.ErrReferenced, query, int64(id), expectedVersion, expectedVersion)
}

// conditional runs a version-guarded statement. When it touches no row,
// the same transaction decides between NotFound and Conflict.
func (t *table[R]) conditional(ctx context.Context, op string, id retail.ID, fk error, query string, args ...any) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return t.classify(op, err, fk)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s %s %d: %w", op, t.schema.name, id, err)
	}

	if n == 0 {
		var exists int
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ?`, t.schema.name)
		if err := tx.QueryRowContext(ctx, q, int64(id)).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check %s %d: %w", t.schema.name, id, err)
		}
		if exists == 0 {
			return retail.ErrNotFound
		}
		return retail.ErrConflict
	}

	return tx.Commit()
}

// classify maps constraint failures to retail sentinels.
func (t *table[R]) classify(op string, err error, fk error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case foreignKeyFailure(se):
			if fk != nil {
				return fmt.Errorf("%w: %s %s: %v", fk, op, t.schema.name, err)
			}
		case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s %s: %v", retail.ErrConflict, op, t.schema.name, err)
		}
	}
	return fmt.Errorf("failed to %s %s: %w", op, t.schema.name, err)
}

// foreignKeyFailure reports a FOREIGN KEY violation. SQLite raises an
// immediate one (insert or update of a sale) as SQLITE_CONSTRAINT_FOREIGNKEY,
// but an ON DELETE RESTRICT on the parent side surfaces through the FK
// action trigger as SQLITE_CONSTRAINT_TRIGGER with the same message.
func foreignKeyFailure(se sqlite3.Error) bool {
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintForeignKey:
		return true
	case sqlite3.ErrConstraintTrigger:
		return strings.Contains(se.Error(), "FOREIGN KEY")
	}
	return false
}

// =============================================================================
// SALES - Reverse lookups
// =============================================================================

type saleTable struct {
	*table[retail.Sale]
}

var referenceColumn = map[retail.Kind]string{
	retail.KindCustomer: "customer_id",
	retail.KindProduct:  "product_id",
	retail.KindStore:    "store_id",
}

func (t *saleTable) Referencing(ctx context.Context, kind retail.Kind, id retail.ID) ([]retail.ID, error) {
	col, ok := referenceColumn[kind]
	if !ok {
		return nil, fmt.Errorf("sales do not reference %s", kind)
	}

	rows, err := t.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM sales WHERE %s = ? ORDER BY id DESC`, col), int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query sales by %s: %w", col, err)
	}
	defer rows.Close()

	var ids []retail.ID
	for rows.Next() {
		var sid retail.ID
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		ids = append(ids, sid)
	}
	return ids, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
