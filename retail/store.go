/*
store.go - Persistence contract for the four entity tables

PURPOSE:
  Defines the interface between the integrity engine and the storage
  backends. The engine never sees SQL, DynamoDB items or maps; it sees
  one Table per entity kind.

KEY INTERFACES:
  Table[R]:  Insert, Get, List, Replace, Remove for one kind
  SaleTable: Table[Sale] plus reverse lookup by foreign key
  Backend:   The four tables behind one storage handle

IDENTITY:
  Insert assigns the next identity. Identities increase monotonically per
  kind and are never reused after a delete.

VERSIONING:
  Insert stores version 1. Replace increments the version. Replace and
  Remove take an expected version:
  - 0       unconditional (row-level last write wins)
  - non-0   applied only if the stored version matches, else ErrConflict

ATOMICITY:
  Each call either fully applies or has no effect. A cancelled context
  before the call means nothing is written.

STORAGE-LEVEL INTEGRITY:
  Backends that can enforce foreign keys at commit time do so and report
  ErrInvalidReference (Sale insert/replace) or ErrReferenced (parent
  remove). This closes the window between the validator's check and the
  write. Backends that cannot still satisfy the contract; the window is
  then covered by the integrity scan (scan.go).

IMPLEMENTATIONS:
  - retail/store/memory.go: In-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite via database/sql
  - store/dynamo/dynamo.go: Amazon DynamoDB

SEE ALSO:
  - service.go: Uses Table through Service
  - errors.go: Sentinels returned by backends
*/
package retail

import "context"

// =============================================================================
// TABLE - Per-kind storage
// =============================================================================

// Table stores the records of one entity kind.
type Table[R Record] interface {
	// Insert persists rec under a newly assigned identity and returns it.
	// The identity and version carried by rec are ignored.
	Insert(ctx context.Context, rec R) (ID, error)

	// Get returns the current record, or nil when no such id exists.
	// A missing id is never an error.
	Get(ctx context.Context, id ID) (*R, error)

	// List returns every record ordered by identity descending.
	List(ctx context.Context) ([]R, error)

	// Replace overwrites all mutable fields of the record with those of rec.
	// Returns ErrNotFound if the id is gone, ErrConflict on version mismatch.
	Replace(ctx context.Context, id ID, expectedVersion int64, rec R) error

	// Remove deletes the record.
	// Returns ErrNotFound if already gone, ErrConflict on version mismatch.
	Remove(ctx context.Context, id ID, expectedVersion int64) error
}

// SaleTable adds foreign key lookups to the Sales table.
type SaleTable interface {
	Table[Sale]

	// Referencing returns the ids of Sales whose foreign key for the given
	// parent kind equals id, ordered by identity descending.
	Referencing(ctx context.Context, kind Kind, id ID) ([]ID, error)
}

// =============================================================================
// BACKEND - One storage handle
// =============================================================================

// Backend is an open storage handle. It is passed explicitly to the
// services and closed by whoever opened it.
type Backend interface {
	Customers() Table[Customer]
	Products() Table[Product]
	Stores() Table[Store]
	Sales() SaleTable

	// Ping checks that the backing medium is reachable.
	Ping(ctx context.Context) error

	Close() error
}
