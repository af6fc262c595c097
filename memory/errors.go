package memory

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// MaxCollectionNameLength is the longest collection name accepted by the
// bundled stores.
const MaxCollectionNameLength = 255

var (
	ErrInvalidCollectionName = goerr.New("invalid collection name")
	ErrDimensionMismatch     = goerr.New("embedding dimension mismatch")
	ErrEmbeddingProvider     = goerr.New("embedding provider unavailable")
	ErrStoreClosed           = goerr.New("memory store is closed")
)

// ValidateCollectionName rejects empty and overlong names.
func ValidateCollectionName(name string) error {
	if name == "" {
		return goerr.Wrap(ErrInvalidCollectionName, "collection name is empty")
	}
	if len(name) > MaxCollectionNameLength {
		return goerr.Wrap(ErrInvalidCollectionName, "collection name is too long",
			goerr.V("length", len(name)),
			goerr.V("max", MaxCollectionNameLength))
	}
	return nil
}

// DimensionMismatch builds the error returned when a vector does not match
// the dimension a collection was created with.
func DimensionMismatch(collection string, want, got int) error {
	return goerr.Wrap(ErrDimensionMismatch, "vector does not match collection dimension",
		goerr.V("collection", collection),
		goerr.V("want", want),
		goerr.V("got", got))
}

// providerError keeps both ErrEmbeddingProvider and the provider's own cause
// reachable through errors.Is.
func providerError(err error) error {
	return fmt.Errorf("%w: %w", ErrEmbeddingProvider, err)
}

// aborted wraps the context error when ctx is done, otherwise returns nil.
func aborted(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "operation cancelled", goerr.V("op", op))
	}
	return nil
}
