// Package blob is the object storage layer. The claim handler reads
// staged uploads from here and moves accepted bytes to permanent keys;
// workers read permanent keys back for extraction.
package blob

import (
	"context"
	"errors"
)

// ErrAbsent reports a storage reference that does not resolve to an
// object. The claim handler treats a vanished staged upload as a
// client-visible failure, not an internal error.
var ErrAbsent = errors.New("object not found")

// Store is the byte-level contract the pipeline needs from object
// storage.
type Store interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, ref string, data []byte, contentType string) error
	// Delete is best-effort cleanup of staged uploads. Callers log and
	// move on when it fails.
	Delete(ctx context.Context, ref string) error
}
