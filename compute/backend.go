// Package compute - Execution devices for the elementwise stages of head decoding.
package compute

// Backend identifies where array operations are dispatched.
type Backend string

const (
	// BackendCPU runs every operation sequentially on the calling goroutine.
	BackendCPU Backend = "cpu"

	// BackendAccelerator splits row blocks across a worker pool and runs
	// vectorised kernels over each contiguous attribute segment.
	BackendAccelerator Backend = "accelerator"
)

// Backends is a list of all supported backends.
var Backends = []Backend{BackendCPU, BackendAccelerator}

// String returns the backend name.
func (b Backend) String() string { return string(b) }
