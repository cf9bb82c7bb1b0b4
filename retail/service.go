/*
service.go - Entity services: the CRUD contract consumed by the transport

PURPOSE:
  Orchestrates validate -> mutate -> commit -> reload for each entity
  kind. One generic Service serves all four kinds; Sales plug in the
  reference check on admission, parents plug in the no-orphan check on
  delete.

OPERATIONS:
  Create(input)                  -> record | ValidationError | InvalidReference
  List()                         -> records newest first
  Get(id)                        -> record | NotFound
  Update(id, input, version)     -> record | ValidationError | InvalidReference
                                    | NotFound | Conflict
  Delete(id, version)            -> ok | NotFound | Referenced | Conflict

  Any backend failure is a *StorageError (matches ErrStorageUnavailable).

STATE MACHINE:
  nonexistent -> active -> (updated ->)* active -> deleted (terminal)
  A deleted id never comes back; operations on it return NotFound.

SEE ALSO:
  - conflict.go: Retry policy applied by Update and Delete
  - integrity.go: Hooks used for Sales and parents
  - sale.go: Hydrated sale reads
*/
package retail

import (
	"context"
	"errors"
	"log/slog"
)

// Service implements the CRUD contract for one entity kind.
type Service[R Record, I Input[R]] struct {
	kind     Kind
	table    Table[R]
	resolver *Resolver
	logger   *slog.Logger

	// admit runs after field validation, before Insert/Replace.
	admit func(ctx context.Context, in I) error
	// guard runs before Remove.
	guard func(ctx context.Context, id ID) error
}

// NewService creates a service with no admission or delete hooks.
func NewService[R Record, I Input[R]](kind Kind, table Table[R], resolver *Resolver, logger *slog.Logger) *Service[R, I] {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = NewResolver(DefaultRetries, logger)
	}
	return &Service[R, I]{
		kind:     kind,
		table:    table,
		resolver: resolver,
		logger:   logger.With("kind", string(kind)),
	}
}

// Kind returns the entity kind served.
func (s *Service[R, I]) Kind() Kind { return s.kind }

// =============================================================================
// READS
// =============================================================================

// List returns all records, newest first.
func (s *Service[R, I]) List(ctx context.Context) ([]R, error) {
	recs, err := s.table.List(ctx)
	if err != nil {
		return nil, storageFailure("list "+string(s.kind), err)
	}
	return recs, nil
}

// Get returns the record or *NotFoundError.
func (s *Service[R, I]) Get(ctx context.Context, id ID) (R, error) {
	var zero R
	rec, err := s.table.Get(ctx, id)
	if err != nil {
		return zero, storageFailure("get "+string(s.kind), err)
	}
	if rec == nil {
		return zero, &NotFoundError{Kind: s.kind, ID: id}
	}
	return *rec, nil
}

// =============================================================================
// WRITES
// =============================================================================

// Create validates the input and stores it under a new identity.
func (s *Service[R, I]) Create(ctx context.Context, in I) (R, error) {
	var zero R
	if err := s.check(ctx, in); err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	id, err := s.table.Insert(ctx, in.Record())
	if err != nil {
		return zero, s.explain(ctx, "insert", in, 0, err)
	}
	s.logger.Debug("record created", "id", id)

	return s.Get(ctx, id)
}

// Update fully replaces the mutable fields of a record.
//
// expectedVersion pins the write to the version the caller last read;
// pass 0 for a blind replace, which the resolver may retry once on a
// concurrent modification.
func (s *Service[R, I]) Update(ctx context.Context, id ID, in I, expectedVersion int64) (R, error) {
	var zero R
	if err := in.Validate(); err != nil {
		return zero, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	pinned := expectedVersion != 0
	if pinned && current.Revision() != expectedVersion {
		return zero, &ConflictError{Kind: s.kind, ID: id, Expected: expectedVersion, Actual: current.Revision()}
	}

	if s.admit != nil {
		if err := s.admit(ctx, in); err != nil {
			return zero, err
		}
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	rec := in.Record()
	err = s.resolver.Commit(ctx, s.kind, id, current.Revision(), pinned,
		func(ctx context.Context, version int64) error {
			return s.table.Replace(ctx, id, version, rec)
		},
		s.reloadVersion(id),
	)
	if err != nil {
		return zero, s.explain(ctx, "replace", in, id, err)
	}
	s.logger.Debug("record replaced", "id", id)

	return s.Get(ctx, id)
}

// Delete removes a record. Deleting an id that is already gone returns
// *NotFoundError.
func (s *Service[R, I]) Delete(ctx context.Context, id ID, expectedVersion int64) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pinned := expectedVersion != 0
	if pinned && current.Revision() != expectedVersion {
		return &ConflictError{Kind: s.kind, ID: id, Expected: expectedVersion, Actual: current.Revision()}
	}

	if s.guard != nil {
		if err := s.guard(ctx, id); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = s.resolver.Commit(ctx, s.kind, id, current.Revision(), pinned,
		func(ctx context.Context, version int64) error {
			return s.table.Remove(ctx, id, version)
		},
		s.reloadVersion(id),
	)
	if err != nil {
		var zero I
		return s.explain(ctx, "remove", zero, id, err)
	}
	s.logger.Debug("record deleted", "id", id)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// check runs field validation then the admission hook.
func (s *Service[R, I]) check(ctx context.Context, in I) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if s.admit != nil {
		return s.admit(ctx, in)
	}
	return nil
}

func (s *Service[R, I]) reloadVersion(id ID) ReloadFunc {
	return func(ctx context.Context) (int64, bool, error) {
		rec, err := s.table.Get(ctx, id)
		if err != nil {
			return 0, false, storageFailure("get "+string(s.kind), err)
		}
		if rec == nil {
			return 0, false, nil
		}
		return (*rec).Revision(), true, nil
	}
}

// explain turns a failed commit into a precise outcome. Storage-level key
// violations are re-derived through the hooks so the error names the
// offending reference.
func (s *Service[R, I]) explain(ctx context.Context, op string, in I, id ID, err error) error {
	switch {
	case errors.Is(err, ErrInvalidReference):
		var ire *InvalidReferenceError
		if errors.As(err, &ire) {
			return err
		}
		if s.admit != nil {
			if aerr := s.admit(ctx, in); aerr != nil {
				return aerr
			}
		}
		return &InvalidReferenceError{}
	case errors.Is(err, ErrReferenced):
		var re *ReferencedError
		if errors.As(err, &re) {
			return err
		}
		if s.guard != nil {
			if gerr := s.guard(ctx, id); gerr != nil {
				return gerr
			}
		}
		return &ReferencedError{Kind: s.kind, ID: id}
	case errors.Is(err, ErrNotFound):
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return &NotFoundError{Kind: s.kind, ID: id}
	case errors.Is(err, ErrConflict):
		var ce *ConflictError
		if errors.As(err, &ce) {
			return err
		}
		return &ConflictError{Kind: s.kind, ID: id}
	}

	s.logger.Error("storage failure", "op", op, "id", id, "error", err)
	return storageFailure(op+" "+string(s.kind), err)
}
