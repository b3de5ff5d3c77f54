package decoder

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Concat joins decoded heads along the box axis so a multi-head model yields
// one (batch, totalBoxes, attrs) array. Heads are kept in argument order.
//
// Arguments:
//   - preds: Decoded heads sharing the same batch size and attribute width.
//
// Returns:
//   - *tensor.Dense: The joined predictions.
//   - error: ErrShapeMismatch when the heads cannot be joined.
func Concat(preds ...*tensor.Dense) (*tensor.Dense, error) {
	if len(preds) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "no predictions to concatenate")
	}

	var batch, attrs int
	for i, p := range preds {
		if p == nil {
			return nil, errors.Wrapf(ErrShapeMismatch, "prediction %d is nil", i)
		}

		shp := p.Shape()
		if shp.Dims() != 3 {
			return nil, errors.Wrapf(ErrShapeMismatch, "prediction %d must be (batch, box, attribute), got %v", i, shp)
		}
		if i == 0 {
			batch, attrs = shp[0], shp[2]
			continue
		}
		if shp[0] != batch || shp[2] != attrs {
			return nil, errors.Wrapf(ErrShapeMismatch, "prediction %d has shape %v, expected (%d, *, %d)", i, shp, batch, attrs)
		}
	}

	if len(preds) == 1 {
		return preds[0], nil
	}

	out, err := preds[0].Concat(1, preds[1:]...)
	if err != nil {
		return nil, errors.Wrap(err, "concatenating predictions")
	}
	return out, nil
}
