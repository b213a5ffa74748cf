// Package blobstore keeps claim documents addressed by the SHA-256 of their
// bytes.
package blobstore

import (
	"context"
	"fmt"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/pkg/hash"
)

// Store is a content-addressed object store. Put is idempotent: storing the
// same bytes twice returns the same ref.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Verify checks that data hashes to ref.
func Verify(ref string, data []byte) error {
	if got := hash.ContentRef(data); got != ref {
		return fmt.Errorf("content %s: digest mismatch (got %s)", ref, got)
	}
	return nil
}

func checkRef(ref string) error {
	if !hash.ValidContentRef(ref) {
		return model.ErrInvalidContentRef.With("invalid content ref %q", ref)
	}
	return nil
}
