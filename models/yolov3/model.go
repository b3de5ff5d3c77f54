// Package yolov3 - YOLOv3 multi-head model.
package yolov3

import (
	"log"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/yolo-decode/compute"
	"github.com/nvr-ai/yolo-decode/config"
	"github.com/nvr-ai/yolo-decode/decoder"
	"github.com/nvr-ai/yolo-decode/models/postprocess"
)

// YOLOv3 decodes every detection head of a YOLOv3-style model.
type YOLOv3 struct {
	config  *config.Model
	decoder *decoder.Decoder
}

// NewModel creates a new model.
//
// Arguments:
//   - cfg: The model configuration.
//
// Returns:
//   - *YOLOv3: The model.
//   - error: An error if the configuration is invalid.
func NewModel(cfg *config.Model) (*YOLOv3, error) {
	if cfg == nil {
		return nil, errors.New("NewModel requires a config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "NewModel")
	}

	device, err := compute.NewDevice(cfg.Device)
	if err != nil {
		return nil, errors.Wrap(err, "NewModel")
	}

	log.Printf("✅ %s decoder initialized: %d heads, %d classes, %s device",
		cfg.Name, len(cfg.Heads), cfg.NumClasses, device.Backend())

	return &YOLOv3{
		config:  cfg,
		decoder: decoder.New(device),
	}, nil
}

// Config returns the configuration for the model.
func (m *YOLOv3) Config() *config.Model {
	return m.config
}

// Device returns the device the model decodes on.
func (m *YOLOv3) Device() compute.Device {
	return m.decoder.Device()
}

// Decode decodes one raw output per head and joins them along the box axis.
//
// Arguments:
//   - outputs: The raw feature maps, in the same order as the configured heads.
//
// Returns:
//   - *tensor.Dense: The (batch, totalBoxes, 5+numClasses) predictions.
//   - error: An error if the output count is wrong or any head fails to decode.
func (m *YOLOv3) Decode(outputs []*tensor.Dense) (*tensor.Dense, error) {
	if len(outputs) != len(m.config.Heads) {
		return nil, errors.Wrapf(decoder.ErrShapeMismatch, "got %d outputs for %d heads", len(outputs), len(m.config.Heads))
	}

	preds := make([]*tensor.Dense, len(outputs))
	for i, raw := range outputs {
		h := m.config.Heads[i]
		pred, err := m.decoder.Decode(raw, m.config.InputDimension, h.Anchors, m.config.NumClasses)
		if err != nil {
			return nil, errors.Wrapf(err, "head %d (%s)", i, h.Name)
		}
		preds[i] = pred
	}

	return decoder.Concat(preds...)
}

// Boxes returns the number of decoded rows per batch item for a square
// feature map of gridSize cells on each head, in head order.
func (m *YOLOv3) Boxes(gridSizes ...int) int {
	n := 0
	for i, g := range gridSizes {
		if i >= len(m.config.Heads) {
			break
		}
		n += g * g * len(m.config.Heads[i].Anchors)
	}
	return n
}

// Results converts decoded predictions into scored, labelled boxes.
//
// Arguments:
//   - pred: The output of Decode.
//   - threshold: The minimum objectness x class score; a negative value uses
//     the configured confidence threshold.
//
// Returns:
//   - [][]postprocess.Result: The kept results per batch item.
//   - error: An error if pred is malformed.
func (m *YOLOv3) Results(pred *tensor.Dense, threshold float32) ([][]postprocess.Result, error) {
	if threshold < 0 {
		threshold = m.config.ConfidenceThreshold
	}
	return postprocess.FromPredictions(pred, threshold, m.config.Label)
}
