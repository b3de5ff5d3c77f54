package compute

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Device is the execution context the decoder dispatches its array work to.
//
// Every elementwise primitive operates in place on a contiguous float32
// tensor of shape (batch, box, attribute) and touches only the attribute
// columns it is given. Operands passed to AddRows and MulRows have shape
// (box, k) and are broadcast across the batch axis.
//
// Implementations must be safe for concurrent use and must produce the same
// values, up to floating-point rounding, for the same inputs.
type Device interface {
	// Backend returns the backend the device dispatches to.
	Backend() Backend

	// New allocates a zeroed float32 tensor owned by the device's engine.
	New(shape ...int) *tensor.Dense

	// Place copies src into a new tensor owned by the device's engine.
	Place(src *tensor.Dense) (*tensor.Dense, error)

	// Sigmoid applies the logistic function to columns [lo, hi).
	Sigmoid(x *tensor.Dense, lo, hi int) error

	// Exp applies the natural exponential to columns [lo, hi).
	Exp(x *tensor.Dense, lo, hi int) error

	// AddRows adds operand row i to columns [lo, lo+k) of box i in every batch.
	AddRows(x, operand *tensor.Dense, lo int) error

	// MulRows multiplies columns [lo, lo+k) of box i in every batch by operand row i.
	MulRows(x, operand *tensor.Dense, lo int) error

	// Scale multiplies columns [lo, hi) by s.
	Scale(x *tensor.Dense, lo, hi int, s float32) error
}

// block is the validated view of a (batch, box, attribute) tensor.
type block struct {
	data  []float32
	batch int
	boxes int
	attrs int
}

// rows returns the number of (batch, box) rows in the block.
func (b block) rows() int { return b.batch * b.boxes }

// row returns the attribute slice of flat row r.
func (b block) row(r int) []float32 {
	return b.data[r*b.attrs : (r+1)*b.attrs]
}

// viewBlock validates x and exposes its backing storage.
func viewBlock(x *tensor.Dense) (block, error) {
	if x == nil {
		return block{}, errors.New("tensor is nil")
	}
	if x.Dtype() != tensor.Float32 {
		return block{}, errors.Errorf("expected a float32 tensor, got %v", x.Dtype())
	}
	if x.IsMaterializable() {
		return block{}, errors.New("tensor must be contiguous, materialize views and transposes first")
	}

	shp := x.Shape()
	if shp.Dims() != 3 {
		return block{}, errors.Errorf("expected a (batch, box, attribute) tensor, got shape %v", shp)
	}

	return block{
		data:  x.Float32s(),
		batch: shp[0],
		boxes: shp[1],
		attrs: shp[2],
	}, nil
}

// columns validates an attribute range against the block width.
func (b block) columns(lo, hi int) error {
	if lo < 0 || hi > b.attrs || lo > hi {
		return errors.Errorf("attribute range [%d, %d) out of bounds for width %d", lo, hi, b.attrs)
	}
	return nil
}

// viewOperand validates a (box, k) broadcast operand against the block and
// returns its backing storage and width.
func (b block) viewOperand(operand *tensor.Dense, lo int) ([]float32, int, error) {
	if operand == nil {
		return nil, 0, errors.New("operand is nil")
	}
	if operand.Dtype() != tensor.Float32 {
		return nil, 0, errors.Errorf("expected a float32 operand, got %v", operand.Dtype())
	}
	if operand.IsMaterializable() {
		return nil, 0, errors.New("operand must be contiguous")
	}

	shp := operand.Shape()
	if shp.Dims() != 2 || shp[0] != b.boxes {
		return nil, 0, errors.Errorf("operand shape %v does not broadcast over %d boxes", shp, b.boxes)
	}

	k := shp[1]
	if err := b.columns(lo, lo+k); err != nil {
		return nil, 0, err
	}
	return operand.Float32s(), k, nil
}

// place copies src into dst, which must have the same number of elements.
func place(dst, src *tensor.Dense) (*tensor.Dense, error) {
	if src.Dtype() != tensor.Float32 {
		return nil, errors.Errorf("expected a float32 tensor, got %v", src.Dtype())
	}

	if src.IsMaterializable() {
		src = tensor.Materialize(src).(*tensor.Dense)
	}
	copy(dst.Float32s(), src.Float32s())
	return dst, nil
}
