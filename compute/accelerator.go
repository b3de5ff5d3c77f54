package compute

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// minRowsPerWorker keeps tiny heads from paying goroutine overhead.
const minRowsPerWorker = 64

// Accelerator dispatches each primitive across a pool of workers. Tensors it
// allocates use the float32-only engine, and every contiguous attribute
// segment is processed with vecf32 kernels.
type Accelerator struct {
	workers int
}

// NewAccelerator creates an accelerator device.
//
// Arguments:
//   - workers: The number of goroutines a primitive may fan out to. Values
//     below 1 are treated as 1.
//
// Returns:
//   - *Accelerator: The device.
func NewAccelerator(workers int) *Accelerator {
	if workers < 1 {
		workers = 1
	}
	return &Accelerator{workers: workers}
}

// Backend returns BackendAccelerator.
func (a *Accelerator) Backend() Backend { return BackendAccelerator }

// Workers returns the size of the worker pool.
func (a *Accelerator) Workers() int { return a.workers }

// New allocates a zeroed float32 tensor on the float32 engine.
func (a *Accelerator) New(shape ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(shape...), tensor.WithEngine(tensor.Float32Engine{}))
}

// Place copies src into a new accelerator tensor.
func (a *Accelerator) Place(src *tensor.Dense) (*tensor.Dense, error) {
	if src == nil {
		return nil, errors.New("tensor is nil")
	}
	return place(a.New(src.Shape().Clone()...), src)
}

// Sigmoid applies the logistic function to columns [lo, hi).
func (a *Accelerator) Sigmoid(x *tensor.Dense, lo, hi int) error {
	return a.columnwise(x, lo, hi, func(seg []float32) {
		vecf32.Scale(seg, -1)
		expInPlace(seg)
		vecf32.Trans(seg, 1)
		vecf32.ScaleInvR(seg, 1)
	})
}

// Exp applies the natural exponential to columns [lo, hi).
func (a *Accelerator) Exp(x *tensor.Dense, lo, hi int) error {
	return a.columnwise(x, lo, hi, expInPlace)
}

// Scale multiplies columns [lo, hi) by s.
func (a *Accelerator) Scale(x *tensor.Dense, lo, hi int, s float32) error {
	return a.columnwise(x, lo, hi, func(seg []float32) {
		vecf32.Scale(seg, s)
	})
}

// AddRows adds operand row i to columns [lo, lo+k) of box i in every batch.
func (a *Accelerator) AddRows(x, operand *tensor.Dense, lo int) error {
	return a.rowwise(x, operand, lo, vecf32.Add)
}

// MulRows multiplies columns [lo, lo+k) of box i in every batch by operand row i.
func (a *Accelerator) MulRows(x, operand *tensor.Dense, lo int) error {
	return a.rowwise(x, operand, lo, vecf32.Mul)
}

// columnwise runs kernel over the [lo, hi) segment of every row.
func (a *Accelerator) columnwise(x *tensor.Dense, lo, hi int, kernel func(seg []float32)) error {
	b, err := viewBlock(x)
	if err != nil {
		return err
	}
	if err = b.columns(lo, hi); err != nil {
		return err
	}
	if lo == hi {
		return nil
	}

	a.parallel(b.rows(), func(start, end int) {
		for r := start; r < end; r++ {
			kernel(b.row(r)[lo:hi])
		}
	})
	return nil
}

// rowwise runs kernel over the [lo, lo+k) segment of every row, paired with
// the operand row of the same box.
func (a *Accelerator) rowwise(x, operand *tensor.Dense, lo int, kernel func(dst, src []float32)) error {
	b, err := viewBlock(x)
	if err != nil {
		return err
	}
	op, k, err := b.viewOperand(operand, lo)
	if err != nil {
		return err
	}
	if k == 0 {
		return nil
	}

	a.parallel(b.rows(), func(start, end int) {
		for r := start; r < end; r++ {
			box := r % b.boxes
			kernel(b.row(r)[lo:lo+k], op[box*k:(box+1)*k])
		}
	})
	return nil
}

// parallel splits [0, n) into contiguous chunks and runs fn on each chunk,
// returning once every chunk has finished.
func (a *Accelerator) parallel(n int, fn func(start, end int)) {
	workers := a.workers
	if limit := (n + minRowsPerWorker - 1) / minRowsPerWorker; limit < workers {
		workers = limit
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

func expInPlace(seg []float32) {
	for i, v := range seg {
		seg[i] = math32.Exp(v)
	}
}
