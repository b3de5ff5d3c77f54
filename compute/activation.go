package compute

import "github.com/chewxy/math32"

// Sigmoid is the logistic function 1 / (1 + e^-x).
//
// It saturates to 0 and 1 for large magnitudes instead of producing NaN.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
