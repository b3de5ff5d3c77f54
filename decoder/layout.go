package decoder

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/yolo-decode/compute"
	"github.com/nvr-ai/yolo-decode/config"
)

// Attribute positions within a decoded row.
const (
	AttrCenterX = iota
	AttrCenterY
	AttrWidth
	AttrHeight
	AttrObjectness
	// AttrClasses is the position of the first class score.
	AttrClasses
)

// BoxIndex returns the row of a decoded head that holds the given grid cell
// and anchor. Cells are enumerated row-major and anchors vary fastest.
func BoxIndex(row, col, anchor, gridSize, numAnchors int) int {
	return (row*gridSize+col)*numAnchors + anchor
}

// CellOf is the inverse of BoxIndex.
func CellOf(boxIndex, gridSize, numAnchors int) (row, col, anchor int) {
	cell := boxIndex / numAnchors
	return cell / gridSize, cell % gridSize, boxIndex % numAnchors
}

// Offsets builds the (gridSize²·numAnchors, 2) grid operand whose row i is
// the (col, row) of the cell box i belongs to.
//
// Arguments:
//   - device: The device the operand is allocated on.
//   - gridSize: The number of cells along each side of the feature map.
//   - numAnchors: The number of anchors per cell.
//
// Returns:
//   - *tensor.Dense: The offset operand.
func Offsets(device compute.Device, gridSize, numAnchors int) *tensor.Dense {
	t := device.New(gridSize*gridSize*numAnchors, 2)
	data := t.Float32s()

	i := 0
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			for a := 0; a < numAnchors; a++ {
				data[i] = float32(col)
				data[i+1] = float32(row)
				i += 2
			}
		}
	}
	return t
}

// ScaledAnchors builds the (gridSize²·len(anchors), 2) anchor operand in
// grid-cell units: every anchor divided by stride, repeated once per cell.
//
// Arguments:
//   - device: The device the operand is allocated on.
//   - anchors: The head's anchors in input-image pixels.
//   - stride: The number of input pixels per grid cell.
//   - gridSize: The number of cells along each side of the feature map.
//
// Returns:
//   - *tensor.Dense: The anchor operand.
func ScaledAnchors(device compute.Device, anchors []config.Anchor, stride float32, gridSize int) *tensor.Dense {
	cells := gridSize * gridSize
	t := device.New(cells*len(anchors), 2)
	data := t.Float32s()

	i := 0
	for c := 0; c < cells; c++ {
		for _, a := range anchors {
			data[i] = a.Width / stride
			data[i+1] = a.Height / stride
			i += 2
		}
	}
	return t
}
