package compute

import (
	"runtime"

	"github.com/pkg/errors"
)

// Config selects and sizes an execution device.
type Config struct {
	// UseAccelerator selects the accelerator backend instead of the CPU.
	UseAccelerator bool `json:"use_accelerator" yaml:"use_accelerator"`

	// Workers is the accelerator's pool size. Zero means runtime.NumCPU().
	Workers int `json:"workers" yaml:"workers"`
}

// NewDevice creates the device described by the configuration.
//
// Arguments:
//   - cfg: The device configuration.
//
// Returns:
//   - Device: The selected device.
//   - error: An error if the configuration is invalid.
func NewDevice(cfg Config) (Device, error) {
	if cfg.Workers < 0 {
		return nil, errors.Errorf("workers must be greater than or equal to 0, got %d", cfg.Workers)
	}

	if !cfg.UseAccelerator {
		return NewHost(), nil
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	return NewAccelerator(workers), nil
}

// MustDevice is like NewDevice but panics on an invalid configuration.
func MustDevice(cfg Config) Device {
	d, err := NewDevice(cfg)
	if err != nil {
		panic(err)
	}
	return d
}
