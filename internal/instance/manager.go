// Package instance creates and destroys worker containers for logged-in
// accounts. The actual mechanism is an external script; this package owns
// the contract around it: a confirmed reference on create, NotFound on
// destroying something already gone, and an explicit "outcome unknown"
// error when the script cannot confirm either way.
package instance

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Destroy for a reference that no longer
	// (or never did) exist.
	ErrNotFound = errors.New("instance not found")

	// ErrAmbiguous reports an operation whose effect could not be
	// confirmed, e.g. the script timed out after it may already have acted.
	// Callers must not assume success or failure.
	ErrAmbiguous = errors.New("instance operation outcome unknown")
)

type Manager interface {
	// Create provisions and starts a container for the given cookie and
	// returns its reference. Not idempotent; callers must not retry a
	// logical login blindly.
	Create(ctx context.Context, cookie, ownerID, name string) (string, error)

	// Destroy stops and deletes the referenced container. Destroying an
	// unknown reference reports ErrNotFound.
	Destroy(ctx context.Context, ref string) error
}
