/*
conflict.go - Optimistic concurrency resolver

PURPOSE:
  Decides what happens when a write loses a race: the row was modified or
  removed between the service's read and its commit.

POLICY:
  Every write carries the version the service read. The store applies it
  only if that version is still current.

  Pinned write (caller supplied an expected version):
    The caller's input depends on the state it read. Any mismatch is a
    Conflict. Never retried.

  Blind write (no expected version):
    The input is a full replacement that does not depend on prior field
    values, so it is safe to reapply. On conflict the row is reloaded:
    - gone           -> NotFound
    - still present  -> retry against the fresh version
    After Retries attempts the conflict is surfaced.

SEE ALSO:
  - service.go: Update and Delete commit through the resolver
*/
package retail

import (
	"context"
	"errors"
	"log/slog"
)

// DefaultRetries is the number of blind-write retries after a conflict.
const DefaultRetries = 1

// Resolver applies the retry-vs-fail policy to conflicting writes.
type Resolver struct {
	Retries int
	Logger  *slog.Logger
}

// NewResolver creates a resolver. Negative retries are treated as zero.
func NewResolver(retries int, logger *slog.Logger) *Resolver {
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Retries: retries, Logger: logger}
}

// WriteFunc performs one commit attempt against the given version.
type WriteFunc func(ctx context.Context, version int64) error

// ReloadFunc returns the current version of the row, or ok=false if the
// row no longer exists.
type ReloadFunc func(ctx context.Context) (version int64, ok bool, err error)

// Commit runs write against version. Store sentinels are translated:
// ErrNotFound becomes *NotFoundError and ErrConflict is either retried or
// returned as *ConflictError. Other errors are returned unchanged.
func (r *Resolver) Commit(ctx context.Context, kind Kind, id ID, version int64, pinned bool, write WriteFunc, reload ReloadFunc) error {
	for attempt := 0; ; attempt++ {
		err := write(ctx, version)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound):
			return &NotFoundError{Kind: kind, ID: id}
		case !errors.Is(err, ErrConflict):
			return err
		}

		if pinned || attempt >= r.Retries {
			r.Logger.Debug("write conflict surfaced",
				"kind", kind, "id", id, "version", version,
				"pinned", pinned, "attempts", attempt+1)
			return r.conflict(ctx, kind, id, version, reload)
		}

		fresh, ok, err := reload(ctx)
		if err != nil {
			return err
		}
		if !ok {
			r.Logger.Debug("row removed during write", "kind", kind, "id", id)
			return &NotFoundError{Kind: kind, ID: id}
		}
		r.Logger.Debug("retrying write after conflict",
			"kind", kind, "id", id, "stale_version", version, "fresh_version", fresh)
		version = fresh
	}
}

// conflict builds a ConflictError, filling in the current version when it
// can be read cheaply.
func (r *Resolver) conflict(ctx context.Context, kind Kind, id ID, expected int64, reload ReloadFunc) error {
	actual, ok, err := reload(ctx)
	if err == nil && !ok {
		return &NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		actual = 0
	}
	return &ConflictError{Kind: kind, ID: id, Expected: expected, Actual: actual}
}
