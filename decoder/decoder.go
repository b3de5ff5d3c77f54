// Package decoder turns raw YOLO detection-head feature maps into flat,
// pixel-space box predictions.
//
// A head emits a (batch, numAnchors·(5+numClasses), gridSize, gridSize)
// feature map. Decoding produces a (batch, gridSize²·numAnchors, 5+numClasses)
// array whose rows are
//
//	[centerX, centerY, width, height, objectness, class_0 ... class_{C-1}]
//
// with the first four attributes in input-image pixels and the rest in [0, 1].
// Rows enumerate grid cells row-major with anchors varying fastest; see
// BoxIndex and CellOf.
//
// Class scores are independent sigmoids, not a softmax: a box may score
// highly for several classes at once and the scores need not sum to one.
package decoder

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/yolo-decode/compute"
	"github.com/nvr-ai/yolo-decode/config"
)

// Decoder decodes detection heads on a single device. It holds no per-call
// state and is safe for concurrent use.
type Decoder struct {
	device compute.Device
}

// New creates a decoder that dispatches its array work to device.
func New(device compute.Device) *Decoder {
	return &Decoder{device: device}
}

// Device returns the device the decoder runs on.
func (d *Decoder) Device() compute.Device { return d.device }

// Decode decodes one detection head, choosing the device from the
// useAccelerator flag. The flag only affects placement; both devices produce
// the same values up to floating-point rounding.
//
// Arguments:
//   - raw: The head output, shape (batch, len(anchors)·(5+numClasses), G, G).
//   - inputDimension: The square model input resolution, a multiple of G.
//   - anchors: The head's anchors in input pixels, in channel-packing order.
//   - numClasses: The number of class scores per box.
//   - useAccelerator: Whether to run on the accelerator device.
//
// Returns:
//   - *tensor.Dense: The decoded predictions, shape (batch, G·G·len(anchors), 5+numClasses).
//   - error: ErrShapeMismatch, ErrInvalidAnchor or ErrDivisibility when a
//     precondition fails.
func Decode(raw *tensor.Dense, inputDimension int, anchors []config.Anchor, numClasses int, useAccelerator bool) (*tensor.Dense, error) {
	device, err := compute.NewDevice(compute.Config{UseAccelerator: useAccelerator})
	if err != nil {
		return nil, err
	}
	return New(device).Decode(raw, inputDimension, anchors, numClasses)
}

// Decode decodes one detection head. raw is never modified.
//
// Arguments:
//   - raw: The head output, shape (batch, len(anchors)·(5+numClasses), G, G).
//   - inputDimension: The square model input resolution, a multiple of G.
//   - anchors: The head's anchors in input pixels, in channel-packing order.
//   - numClasses: The number of class scores per box.
//
// Returns:
//   - *tensor.Dense: The decoded predictions, shape (batch, G·G·len(anchors), 5+numClasses).
//   - error: ErrShapeMismatch, ErrInvalidAnchor or ErrDivisibility when a
//     precondition fails.
func (d *Decoder) Decode(raw *tensor.Dense, inputDimension int, anchors []config.Anchor, numClasses int) (*tensor.Dense, error) {
	if err := validate(raw, inputDimension, anchors, numClasses); err != nil {
		return nil, err
	}

	shp := raw.Shape()
	batch, gridSize := shp[0], shp[2]
	numAnchors := len(anchors)
	attrs := AttrClasses + numClasses
	cells := gridSize * gridSize
	stride := float32(inputDimension / gridSize)

	pred, err := d.normalize(raw, batch, numAnchors, attrs, cells)
	if err != nil {
		return nil, err
	}

	offsets := Offsets(d.device, gridSize, numAnchors)
	scaled := ScaledAnchors(d.device, anchors, stride, gridSize)

	dev := d.device
	steps := []struct {
		name string
		run  func() error
	}{
		{"center activation", func() error { return dev.Sigmoid(pred, AttrCenterX, AttrWidth) }},
		{"objectness activation", func() error { return dev.Sigmoid(pred, AttrObjectness, AttrClasses) }},
		{"grid offsets", func() error { return dev.AddRows(pred, offsets, AttrCenterX) }},
		{"size exponent", func() error { return dev.Exp(pred, AttrWidth, AttrObjectness) }},
		{"anchor scaling", func() error { return dev.MulRows(pred, scaled, AttrWidth) }},
		{"class activation", func() error { return dev.Sigmoid(pred, AttrClasses, attrs) }},
		{"pixel rescale", func() error { return dev.Scale(pred, AttrCenterX, AttrObjectness, stride) }},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			return nil, errors.Wrapf(err, "decode: %s", s.name)
		}
	}

	return pred, nil
}

// normalize copies raw onto the device and reorders it from
// (batch, anchors·attrs, G, G) to (batch, G·G·anchors, attrs).
func (d *Decoder) normalize(raw *tensor.Dense, batch, numAnchors, attrs, cells int) (*tensor.Dense, error) {
	pred, err := d.device.Place(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode: placing feature map")
	}

	if err = pred.Reshape(batch, numAnchors*attrs, cells); err != nil {
		return nil, errors.Wrap(err, "decode: flattening grid")
	}

	// With a single cell the channel-major and cell-major orders coincide.
	if cells > 1 {
		if err = pred.T(0, 2, 1); err != nil {
			return nil, errors.Wrap(err, "decode: transposing to cell-major")
		}
		if err = pred.Transpose(); err != nil {
			return nil, errors.Wrap(err, "decode: transposing to cell-major")
		}
	}

	if err = pred.Reshape(batch, cells*numAnchors, attrs); err != nil {
		return nil, errors.Wrap(err, "decode: splitting anchors")
	}
	return pred, nil
}

// validate checks every precondition before any allocation happens.
func validate(raw *tensor.Dense, inputDimension int, anchors []config.Anchor, numClasses int) error {
	if raw == nil {
		return errors.Wrap(ErrShapeMismatch, "raw feature map is nil")
	}
	if raw.Dtype() != tensor.Float32 {
		return errors.Wrapf(ErrShapeMismatch, "raw feature map must be float32, got %v", raw.Dtype())
	}

	shp := raw.Shape()
	if shp.Dims() != 4 {
		return errors.Wrapf(ErrShapeMismatch, "raw feature map must be (batch, channel, row, column), got %v", shp)
	}

	batch, channels, rows, cols := shp[0], shp[1], shp[2], shp[3]
	if batch <= 0 || rows <= 0 {
		return errors.Wrapf(ErrShapeMismatch, "raw feature map %v is empty", shp)
	}
	if rows != cols {
		return errors.Wrapf(ErrShapeMismatch, "grid must be square, got %dx%d", rows, cols)
	}
	if numClasses < 0 {
		return errors.Wrapf(ErrShapeMismatch, "class count must not be negative, got %d", numClasses)
	}
	if len(anchors) == 0 {
		return errors.Wrap(ErrShapeMismatch, "at least one anchor is required")
	}

	for i, a := range anchors {
		if !(a.Width > 0) || !(a.Height > 0) {
			return errors.Wrapf(ErrInvalidAnchor, "anchor %d is %vx%v", i, a.Width, a.Height)
		}
	}

	if want := len(anchors) * (AttrClasses + numClasses); channels != want {
		return errors.Wrapf(ErrShapeMismatch, "raw feature map has %d channels, expected %d anchors x %d attributes = %d",
			channels, len(anchors), AttrClasses+numClasses, want)
	}

	if inputDimension <= 0 || inputDimension%rows != 0 {
		return errors.Wrapf(ErrDivisibility, "input dimension %d, grid size %d", inputDimension, rows)
	}
	return nil
}
