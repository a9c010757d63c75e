package embedding

import (
	"errors"
	"fmt"
)

// ErrService marks every failure to obtain embeddings from a provider.
var ErrService = errors.New("embedding service error")

// ErrDimensionMismatch is returned when a provider yields vectors of the wrong size.
var ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrService)
