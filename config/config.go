// Package config - Detection head and model configuration.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/yolo-decode/compute"
)

// Family is the family of models.
type Family string

const (
	// FamilyYOLO is the anchor-based YOLO family.
	FamilyYOLO Family = "yolo"
)

// Name is the unique identifier of a model.
type Name string

const (
	// NameYOLOv3 is the three-head YOLOv3 model.
	NameYOLOv3 Name = "yolov3"
	// NameYOLOv3Tiny is the two-head YOLOv3-tiny model.
	NameYOLOv3Tiny Name = "yolov3-tiny"
)

// Anchor is a prior box shape in input-image pixels.
type Anchor struct {
	Width  float32 `json:"width" yaml:"width"`
	Height float32 `json:"height" yaml:"height"`
}

// Head is a single detection head. Anchors are listed in the order the head
// packs them into its channel axis.
type Head struct {
	Name    string   `json:"name" yaml:"name"`
	Anchors []Anchor `json:"anchors" yaml:"anchors"`
}

// Model is the configuration for decoding every head of a model.
type Model struct {
	// Name of the model.
	Name Name `json:"name" yaml:"name"`
	// Family of the model.
	Family Family `json:"family" yaml:"family"`
	// InputDimension is the square input resolution in pixels.
	InputDimension int `json:"input_dimension" yaml:"input_dimension"`
	// NumClasses is the number of class scores per box.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// ConfidenceThreshold is the default minimum objectness x class score
	// for a decoded row to be reported as a result.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// Device selects where the decoder runs.
	Device compute.Config `json:"device" yaml:"device"`
	// Heads are listed in the order the model emits its outputs.
	Heads []Head `json:"heads" yaml:"heads"`
	// Labels optionally names each class index.
	Labels []string `json:"labels" yaml:"labels"`
}

// Load reads and validates a YAML model configuration file.
//
// Arguments:
//   - path: The path to the YAML file.
//
// Returns:
//   - *Model: The parsed configuration.
//   - error: An error if the file cannot be read or is invalid.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading config %s", path)
	}
	return m, nil
}

// Parse decodes and validates a YAML model configuration.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding yaml")
	}
	if m.Family == "" {
		m.Family = FamilyYOLO
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes the configuration as YAML.
func (m *Model) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Validate checks the configuration for values the decoder would reject.
//
// Returns:
//   - error: A description of the first invalid field, or nil.
func (m *Model) Validate() error {
	if m.InputDimension <= 0 {
		return errors.Errorf("input_dimension must be greater than 0, got %d", m.InputDimension)
	}
	if m.NumClasses < 0 {
		return errors.Errorf("num_classes must be greater than or equal to 0, got %d", m.NumClasses)
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence_threshold must be within [0, 1], got %f", m.ConfidenceThreshold)
	}
	if m.Device.Workers < 0 {
		return errors.Errorf("device.workers must be greater than or equal to 0, got %d", m.Device.Workers)
	}
	if len(m.Heads) == 0 {
		return errors.New("at least one head is required")
	}
	for i, h := range m.Heads {
		if len(h.Anchors) == 0 {
			return errors.Errorf("head %d (%s) has no anchors", i, h.Name)
		}
		for j, a := range h.Anchors {
			if !(a.Width > 0) || !(a.Height > 0) {
				return errors.Errorf("head %d (%s) anchor %d must be positive, got %vx%v", i, h.Name, j, a.Width, a.Height)
			}
		}
	}
	if len(m.Labels) != 0 && len(m.Labels) != m.NumClasses {
		return errors.Errorf("labels has %d entries, expected num_classes=%d", len(m.Labels), m.NumClasses)
	}
	return nil
}

// Label returns the name of class index i, or an empty string when the
// configuration has no labels for it.
func (m *Model) Label(i int) string {
	if i < 0 || i >= len(m.Labels) {
		return ""
	}
	return m.Labels[i]
}
