package store

import (
	"errors"
	"fmt"
)

// ErrVectorStore wraps every storage failure.
var ErrVectorStore = errors.New("vector store error")

// Sentinel errors for store operations. Each also matches ErrVectorStore.
var (
	// ErrDimensionMismatch indicates a vector whose size differs from the store's dimension.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrVectorStore)

	// ErrInvalidRecord indicates a record that fails validation.
	ErrInvalidRecord = fmt.Errorf("%w: invalid record", ErrVectorStore)

	// ErrInvalidVector indicates a query vector that cannot be scored,
	// such as a zero vector under cosine distance.
	ErrInvalidVector = fmt.Errorf("%w: invalid vector", ErrVectorStore)

	// ErrConfigMismatch indicates a store reopened with a different metric or dimension.
	ErrConfigMismatch = fmt.Errorf("%w: configuration mismatch", ErrVectorStore)
)

func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVectorStore) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrVectorStore, op, err)
}
