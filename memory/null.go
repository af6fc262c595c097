package memory

import (
	"context"
	"iter"
)

// NullMemory satisfies SemanticTextMemory without storing anything.
// Saves report an empty key, lookups report absence and searches are empty.
type NullMemory struct{}

// Null is the shared NullMemory instance.
var Null SemanticTextMemory = NullMemory{}

func (NullMemory) SaveInformation(context.Context, string, string, string, ...SaveOption) (string, error) {
	return "", nil
}

func (NullMemory) SaveReference(context.Context, string, string, string, string, ...SaveOption) (string, error) {
	return "", nil
}

func (NullMemory) Get(context.Context, string, string, bool) (*MemoryQueryResult, error) {
	return nil, nil
}

func (NullMemory) Remove(context.Context, string, string) error {
	return nil
}

func (NullMemory) Search(context.Context, string, string, ...SearchOption) iter.Seq2[*MemoryQueryResult, error] {
	return func(func(*MemoryQueryResult, error) bool) {}
}

func (NullMemory) ListCollections(context.Context) ([]string, error) {
	return []string{}, nil
}
