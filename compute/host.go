package compute

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Host runs every primitive sequentially on the calling goroutine.
type Host struct{}

// NewHost creates a CPU device.
func NewHost() *Host {
	return &Host{}
}

// Backend returns BackendCPU.
func (h *Host) Backend() Backend { return BackendCPU }

// New allocates a zeroed float32 tensor on the standard engine.
func (h *Host) New(shape ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(shape...), tensor.WithEngine(tensor.StdEng{}))
}

// Place copies src into a new host tensor.
func (h *Host) Place(src *tensor.Dense) (*tensor.Dense, error) {
	if src == nil {
		return nil, errors.New("tensor is nil")
	}
	return place(h.New(src.Shape().Clone()...), src)
}

// Sigmoid applies the logistic function to columns [lo, hi).
func (h *Host) Sigmoid(x *tensor.Dense, lo, hi int) error {
	b, err := viewBlock(x)
	if err != nil {
		return err
	}
	if err = b.columns(lo, hi); err != nil {
		return err
	}

	for r := 0; r < b.rows(); r++ {
		row := b.row(r)
		for j := lo; j < hi; j++ {
			row[j] = Sigmoid(row[j])
		}
	}
	return nil
}

// Exp applies the natural exponential to columns [lo, hi).
func (h *Host) Exp(x *tensor.Dense, lo, hi int) error {
	b, err := viewBlock(x)
	if err != nil {
		return err
	}
	if err = b.columns(lo, hi); err != nil {
		return err
	}

	for r := 0; r < b.rows(); r++ {
		row := b.row(r)
		for j := lo; j < hi; j++ {
			row[j] = math32.Exp(row[j])
		}
	}
	return nil
}

// AddRows adds operand row i to columns [lo, lo+k) of box i in every batch.
func (h *Host) AddRows(x, operand *tensor.Dense, lo int) error {
	b, err := viewBlock(x)
	if err != nil {
		return err
	}
	op, k, err := b.viewOperand(operand, lo)
	if err != nil {
		return err
	}

	for r := 0; r < b.rows(); r++ {
		row := b.row(r)
		src := op[(r%b.boxes)*k:]
		for j := 0; j < k; j++ {
			row[lo+j] += src[j]
		}
	}
	return nil
}

// MulRows multiplies columns [lo, lo+k) of box i in every batch by operand row i.
func (h *Host) MulRows(x, operand *tensor.Dense, lo int) error {
	b, err := viewBlock(x)
	if err != nil {
		return err
	}
	op, k, err := b.viewOperand(operand, lo)
	if err != nil {
		return err
	}

	for r := 0; r < b.rows(); r++ {
		row := b.row(r)
		src := op[(r%b.boxes)*k:]
		for j := 0; j < k; j++ {
			row[lo+j] *= src[j]
		}
	}
	return nil
}

// Scale multiplies columns [lo, hi) by s.
func (h *Host) Scale(x *tensor.Dense, lo, hi int, s float32) error {
	b, err := viewBlock(x)
	if err != nil {
		return err
	}
	if err = b.columns(lo, hi); err != nil {
		return err
	}

	for r := 0; r < b.rows(); r++ {
		row := b.row(r)
		for j := lo; j < hi; j++ {
			row[j] *= s
		}
	}
	return nil
}
