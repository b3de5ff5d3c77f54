package decoder

import "github.com/pkg/errors"

// Precondition failures. Decode wraps one of these with the offending
// values; match them with errors.Is.
var (
	// ErrShapeMismatch is returned when the raw feature map's shape is
	// inconsistent with the anchors and class count.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrInvalidAnchor is returned when an anchor dimension is not positive.
	ErrInvalidAnchor = errors.New("invalid anchor")

	// ErrDivisibility is returned when the input dimension is not a positive
	// multiple of the grid size.
	ErrDivisibility = errors.New("input dimension not divisible by grid size")
)
