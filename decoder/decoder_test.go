package decoder

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/yolo-decode/compute"
	"github.com/nvr-ai/yolo-decode/config"
)

// head describes a synthetic detection head.
type head struct {
	batch      int
	grid       int
	inputDim   int
	numClasses int
	anchors    []config.Anchor
}

func (h head) attrs() int    { return AttrClasses + h.numClasses }
func (h head) channels() int { return len(h.anchors) * h.attrs() }
func (h head) boxes() int    { return h.grid * h.grid * len(h.anchors) }
func (h head) stride() int   { return h.inputDim / h.grid }

// rawIndex addresses element (b, ch, r, c) of a (batch, channel, row, column) buffer.
func (h head) rawIndex(b, ch, r, c int) int {
	return ((b*h.channels()+ch)*h.grid+r)*h.grid + c
}

// raw builds the head's feature map with fill(b, ch, r, c).
func (h head) raw(fill func(b, ch, r, c int) float32) *tensor.Dense {
	data := make([]float32, h.batch*h.channels()*h.grid*h.grid)
	for b := 0; b < h.batch; b++ {
		for ch := 0; ch < h.channels(); ch++ {
			for r := 0; r < h.grid; r++ {
				for c := 0; c < h.grid; c++ {
					data[h.rawIndex(b, ch, r, c)] = fill(b, ch, r, c)
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(h.batch, h.channels(), h.grid, h.grid), tensor.WithBacking(data))
}

// random builds a feature map with logits uniformly drawn from [-4, 4).
func (h head) random(seed int64) *tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	return h.raw(func(int, int, int, int) float32 { return rng.Float32()*8 - 4 })
}

// reference decodes raw with straightforward float64 loops over the
// channel-major layout.
func (h head) reference(raw []float32) []float64 {
	sig := func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	stride := float64(h.stride())
	attrs := h.attrs()

	out := make([]float64, h.batch*h.boxes()*attrs)
	for b := 0; b < h.batch; b++ {
		for r := 0; r < h.grid; r++ {
			for c := 0; c < h.grid; c++ {
				for a, anchor := range h.anchors {
					at := func(attr int) float64 {
						return float64(raw[h.rawIndex(b, a*attrs+attr, r, c)])
					}

					base := (b*h.boxes() + BoxIndex(r, c, a, h.grid, len(h.anchors))) * attrs
					out[base+AttrCenterX] = (sig(at(AttrCenterX)) + float64(c)) * stride
					out[base+AttrCenterY] = (sig(at(AttrCenterY)) + float64(r)) * stride
					out[base+AttrWidth] = math.Exp(at(AttrWidth)) * float64(anchor.Width)
					out[base+AttrHeight] = math.Exp(at(AttrHeight)) * float64(anchor.Height)
					out[base+AttrObjectness] = sig(at(AttrObjectness))
					for k := 0; k < h.numClasses; k++ {
						out[base+AttrClasses+k] = sig(at(AttrClasses + k))
					}
				}
			}
		}
	}
	return out
}

// assertClose compares with a tolerance relative to magnitudes above one.
func assertClose(t *testing.T, want []float64, got []float32, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		diff := math.Abs(want[i] - float64(got[i]))
		if diff > tol*math.Max(1, math.Abs(want[i])) {
			t.Fatalf("element %d: want %v, got %v", i, want[i], got[i])
		}
	}
}

func devices() []compute.Device {
	return []compute.Device{compute.NewHost(), compute.NewAccelerator(4)}
}

var coarse = head{
	batch:      2,
	grid:       13,
	inputDim:   416,
	numClasses: 3,
	anchors:    []config.Anchor{{Width: 116, Height: 90}, {Width: 156, Height: 198}, {Width: 373, Height: 326}},
}

func TestDecodeScenario(t *testing.T) {
	h := head{batch: 1, grid: 2, inputDim: 64, numClasses: 1, anchors: []config.Anchor{{Width: 32, Height: 32}}}

	for _, accel := range []bool{false, true} {
		pred, err := Decode(h.raw(func(int, int, int, int) float32 { return 0 }), h.inputDim, h.anchors, h.numClasses, accel)
		require.NoError(t, err)
		require.Equal(t, []int{1, 4, 6}, []int(pred.Shape()))

		want := []float32{
			16, 16, 32, 32, 0.5, 0.5,
			48, 16, 32, 32, 0.5, 0.5,
			16, 48, 32, 32, 0.5, 0.5,
			48, 48, 32, 32, 0.5, 0.5,
		}
		assert.InDeltaSlice(t, want, pred.Float32s(), 1e-5, "accelerator=%v", accel)
	}
}

func TestDecodeShapeLaw(t *testing.T) {
	heads := []head{
		{batch: 1, grid: 1, inputDim: 32, numClasses: 0, anchors: []config.Anchor{{Width: 10, Height: 10}}},
		{batch: 3, grid: 4, inputDim: 128, numClasses: 2, anchors: []config.Anchor{{Width: 8, Height: 8}, {Width: 16, Height: 4}}},
		{batch: 1, grid: 26, inputDim: 416, numClasses: 80, anchors: []config.Anchor{{Width: 30, Height: 61}, {Width: 62, Height: 45}, {Width: 59, Height: 119}}},
		{batch: 2, grid: 7, inputDim: 224, numClasses: 20, anchors: []config.Anchor{{Width: 1, Height: 2}, {Width: 3, Height: 4}, {Width: 5, Height: 6}, {Width: 7, Height: 8}, {Width: 9, Height: 10}}},
	}

	for _, d := range devices() {
		dec := New(d)
		for _, h := range heads {
			pred, err := dec.Decode(h.random(1), h.inputDim, h.anchors, h.numClasses)
			require.NoError(t, err)
			assert.Equal(t, []int{h.batch, h.boxes(), h.attrs()}, []int(pred.Shape()))
			assert.Len(t, pred.Float32s(), h.batch*h.boxes()*h.attrs())
		}
	}
}

func TestDecodeMatchesReference(t *testing.T) {
	heads := []head{
		coarse,
		{batch: 1, grid: 1, inputDim: 32, numClasses: 2, anchors: []config.Anchor{{Width: 10, Height: 13}, {Width: 16, Height: 30}}},
		{batch: 3, grid: 5, inputDim: 80, numClasses: 0, anchors: []config.Anchor{{Width: 12, Height: 20}}},
		{batch: 1, grid: 6, inputDim: 96, numClasses: 4, anchors: []config.Anchor{{Width: 8, Height: 9}, {Width: 20, Height: 11}, {Width: 3, Height: 30}, {Width: 44, Height: 44}}},
	}

	for _, d := range devices() {
		t.Run(d.Backend().String(), func(t *testing.T) {
			for i, h := range heads {
				raw := h.random(int64(i + 1))
				pred, err := New(d).Decode(raw, h.inputDim, h.anchors, h.numClasses)
				require.NoError(t, err)
				assertClose(t, h.reference(raw.Float32s()), pred.Float32s(), 1e-5)
			}
		})
	}
}

func TestDecodeRangeLaw(t *testing.T) {
	h := coarse
	for _, d := range devices() {
		pred, err := New(d).Decode(h.random(3), h.inputDim, h.anchors, h.numClasses)
		require.NoError(t, err)

		data := pred.Float32s()
		for row := 0; row < h.batch*h.boxes(); row++ {
			attrs := data[row*h.attrs() : (row+1)*h.attrs()]

			assert.GreaterOrEqual(t, attrs[AttrCenterX], float32(0))
			assert.Less(t, attrs[AttrCenterX], float32(h.inputDim))
			assert.GreaterOrEqual(t, attrs[AttrCenterY], float32(0))
			assert.Less(t, attrs[AttrCenterY], float32(h.inputDim))
			assert.GreaterOrEqual(t, attrs[AttrWidth], float32(0))
			assert.GreaterOrEqual(t, attrs[AttrHeight], float32(0))

			for _, p := range attrs[AttrObjectness:] {
				assert.GreaterOrEqual(t, p, float32(0))
				assert.LessOrEqual(t, p, float32(1))
			}
		}
	}
}

func TestDecodeGridCoverage(t *testing.T) {
	h := head{batch: 1, grid: 8, inputDim: 256, numClasses: 1, anchors: []config.Anchor{{Width: 10, Height: 10}, {Width: 20, Height: 20}, {Width: 40, Height: 40}}}
	pred, err := New(compute.NewHost()).Decode(h.random(4), h.inputDim, h.anchors, h.numClasses)
	require.NoError(t, err)

	stride := float32(h.stride())
	counts := make(map[[2]int]int)
	data := pred.Float32s()
	for i := 0; i < h.boxes(); i++ {
		row := data[i*h.attrs():]
		col := int(math32.Floor(row[AttrCenterX] / stride))
		r := int(math32.Floor(row[AttrCenterY] / stride))
		counts[[2]int{r, col}]++
	}

	assert.Len(t, counts, h.grid*h.grid)
	for cell, n := range counts {
		assert.Equal(t, len(h.anchors), n, "cell %v", cell)
	}
}

func TestDecodeLayoutBijection(t *testing.T) {
	h := head{batch: 2, grid: 5, inputDim: 160, numClasses: 2, anchors: []config.Anchor{{Width: 11, Height: 7}, {Width: 23, Height: 41}, {Width: 64, Height: 3}}}
	// Zero size logits make every width/height equal its anchor, identifying
	// the anchor of each row.
	rng := rand.New(rand.NewSource(5))
	raw := h.raw(func(_, ch, _, _ int) float32 {
		switch ch % h.attrs() {
		case AttrWidth, AttrHeight:
			return 0
		default:
			return rng.Float32()*6 - 3
		}
	})

	pred, err := New(compute.NewAccelerator(3)).Decode(raw, h.inputDim, h.anchors, h.numClasses)
	require.NoError(t, err)

	stride := float32(h.stride())
	data := pred.Float32s()
	for b := 0; b < h.batch; b++ {
		for i := 0; i < h.boxes(); i++ {
			r, c, a := CellOf(i, h.grid, len(h.anchors))
			require.Equal(t, i, BoxIndex(r, c, a, h.grid, len(h.anchors)))

			row := data[(b*h.boxes()+i)*h.attrs():]
			assert.Equal(t, c, int(math32.Floor(row[AttrCenterX]/stride)), "box %d column", i)
			assert.Equal(t, r, int(math32.Floor(row[AttrCenterY]/stride)), "box %d row", i)
			assert.InDelta(t, h.anchors[a].Width, row[AttrWidth], 1e-4, "box %d anchor width", i)
			assert.InDelta(t, h.anchors[a].Height, row[AttrHeight], 1e-4, "box %d anchor height", i)
		}
	}
}

func TestDecodeAnchorPassthrough(t *testing.T) {
	h := head{batch: 1, grid: 13, inputDim: 416, numClasses: 0, anchors: []config.Anchor{{Width: 37, Height: 58}, {Width: 81, Height: 82}}}
	for _, d := range devices() {
		pred, err := New(d).Decode(h.raw(func(int, int, int, int) float32 { return 0 }), h.inputDim, h.anchors, h.numClasses)
		require.NoError(t, err)

		data := pred.Float32s()
		for a, anchor := range h.anchors {
			row := data[BoxIndex(0, 0, a, h.grid, len(h.anchors))*h.attrs():]
			assert.InDelta(t, anchor.Width, row[AttrWidth], 1e-4)
			assert.InDelta(t, anchor.Height, row[AttrHeight], 1e-4)
			assert.InDelta(t, 16, row[AttrCenterX], 1e-4)
			assert.InDelta(t, 16, row[AttrCenterY], 1e-4)
		}
	}
}

func TestDecodeDeviceInvariance(t *testing.T) {
	h := head{batch: 2, grid: 26, inputDim: 416, numClasses: 80, anchors: []config.Anchor{{Width: 30, Height: 61}, {Width: 62, Height: 45}, {Width: 59, Height: 119}}}
	raw := h.random(6)

	cpu, err := Decode(raw, h.inputDim, h.anchors, h.numClasses, false)
	require.NoError(t, err)
	accel, err := Decode(raw, h.inputDim, h.anchors, h.numClasses, true)
	require.NoError(t, err)

	assert.Equal(t, cpu.Shape(), accel.Shape())
	assertClose(t, float32sTo64(cpu.Float32s()), accel.Float32s(), 1e-4)
}

func TestDecodeLeavesRawUntouched(t *testing.T) {
	raw := coarse.random(7)
	before := append([]float32(nil), raw.Float32s()...)
	shape := raw.Shape().Clone()

	for _, d := range devices() {
		_, err := New(d).Decode(raw, coarse.inputDim, coarse.anchors, coarse.numClasses)
		require.NoError(t, err)
	}

	assert.Equal(t, before, raw.Float32s())
	assert.Equal(t, shape, raw.Shape())
}

func TestDecodeMultiLabel(t *testing.T) {
	h := head{batch: 1, grid: 1, inputDim: 32, numClasses: 3, anchors: []config.Anchor{{Width: 16, Height: 16}}}
	logits := []float32{0, 0, 0, 0, 2, 3, 3, -3}
	pred, err := Decode(h.raw(func(_, ch, _, _ int) float32 { return logits[ch] }), h.inputDim, h.anchors, h.numClasses, false)
	require.NoError(t, err)

	classes := pred.Float32s()[AttrClasses:]
	assert.InDelta(t, compute.Sigmoid(3), classes[0], 1e-6)
	assert.InDelta(t, compute.Sigmoid(3), classes[1], 1e-6)
	assert.InDelta(t, compute.Sigmoid(-3), classes[2], 1e-6)
	assert.Greater(t, classes[0]+classes[1]+classes[2], float32(1), "class scores are independent, not normalised")
}

func TestDecodeSaturation(t *testing.T) {
	h := head{batch: 1, grid: 1, inputDim: 32, numClasses: 2, anchors: []config.Anchor{{Width: 16, Height: 16}}}
	logits := []float32{200, -200, 200, 0, -200, 200, -200}

	for _, d := range devices() {
		pred, err := New(d).Decode(h.raw(func(_, ch, _, _ int) float32 { return logits[ch] }), h.inputDim, h.anchors, h.numClasses)
		require.NoError(t, err)

		row := pred.Float32s()
		assert.InDelta(t, 32, row[AttrCenterX], 1e-4)
		assert.InDelta(t, 0, row[AttrCenterY], 1e-4)
		assert.True(t, math32.IsInf(row[AttrWidth], 1), "size logits are not clipped")
		assert.InDelta(t, 16, row[AttrHeight], 1e-4)
		assert.InDelta(t, 0, row[AttrObjectness], 1e-6)
		assert.InDelta(t, 1, row[AttrClasses], 1e-6)
		assert.InDelta(t, 0, row[AttrClasses+1], 1e-6)
		for _, v := range row {
			assert.False(t, math32.IsNaN(v))
		}
	}
}

func TestDecodeBatchIndependence(t *testing.T) {
	h := head{batch: 2, grid: 3, inputDim: 96, numClasses: 2, anchors: []config.Anchor{{Width: 5, Height: 9}, {Width: 17, Height: 12}}}
	rng := rand.New(rand.NewSource(8))
	single := make(map[[3]int]float32)
	raw := h.raw(func(_, ch, r, c int) float32 {
		k := [3]int{ch, r, c}
		if v, ok := single[k]; ok {
			return v
		}
		single[k] = rng.Float32()*4 - 2
		return single[k]
	})

	pred, err := New(compute.NewAccelerator(2)).Decode(raw, h.inputDim, h.anchors, h.numClasses)
	require.NoError(t, err)

	data := pred.Float32s()
	half := len(data) / 2
	assert.Equal(t, data[:half], data[half:])
}

func TestDecodeErrors(t *testing.T) {
	valid := head{batch: 1, grid: 4, inputDim: 64, numClasses: 2, anchors: []config.Anchor{{Width: 8, Height: 8}, {Width: 16, Height: 16}}}
	zeros := func(int, int, int, int) float32 { return 0 }

	tests := []struct {
		name       string
		raw        *tensor.Dense
		inputDim   int
		anchors    []config.Anchor
		numClasses int
		want       error
	}{
		{
			name:       "nil raw",
			inputDim:   64,
			anchors:    valid.anchors,
			numClasses: 2,
			want:       ErrShapeMismatch,
		},
		{
			name:       "channel count disagrees with classes",
			raw:        valid.raw(zeros),
			inputDim:   64,
			anchors:    valid.anchors,
			numClasses: 3,
			want:       ErrShapeMismatch,
		},
		{
			name:       "channel count disagrees with anchors",
			raw:        valid.raw(zeros),
			inputDim:   64,
			anchors:    []config.Anchor{{Width: 8, Height: 8}, {Width: 16, Height: 16}, {Width: 32, Height: 32}},
			numClasses: 2,
			want:       ErrShapeMismatch,
		},
		{
			name:       "no anchors",
			raw:        valid.raw(zeros),
			inputDim:   64,
			numClasses: 2,
			want:       ErrShapeMismatch,
		},
		{
			name:       "negative class count",
			raw:        valid.raw(zeros),
			inputDim:   64,
			anchors:    valid.anchors,
			numClasses: -1,
			want:       ErrShapeMismatch,
		},
		{
			name:       "non-square grid",
			raw:        tensor.New(tensor.WithShape(1, 14, 4, 5), tensor.Of(tensor.Float32)),
			inputDim:   64,
			anchors:    valid.anchors,
			numClasses: 2,
			want:       ErrShapeMismatch,
		},
		{
			name:       "three dimensional raw",
			raw:        tensor.New(tensor.WithShape(14, 4, 4), tensor.Of(tensor.Float32)),
			inputDim:   64,
			anchors:    valid.anchors,
			numClasses: 2,
			want:       ErrShapeMismatch,
		},
		{
			name:       "float64 raw",
			raw:        tensor.New(tensor.WithShape(1, 14, 4, 4), tensor.Of(tensor.Float64)),
			inputDim:   64,
			anchors:    valid.anchors,
			numClasses: 2,
			want:       ErrShapeMismatch,
		},
		{
			name:       "input dimension not a multiple of grid",
			raw:        valid.raw(zeros),
			inputDim:   66,
			anchors:    valid.anchors,
			numClasses: 2,
			want:       ErrDivisibility,
		},
		{
			name:       "zero input dimension",
			raw:        valid.raw(zeros),
			inputDim:   0,
			anchors:    valid.anchors,
			numClasses: 2,
			want:       ErrDivisibility,
		},
		{
			name:       "zero anchor width",
			raw:        valid.raw(zeros),
			inputDim:   64,
			anchors:    []config.Anchor{{Width: 8, Height: 8}, {Width: 0, Height: 16}},
			numClasses: 2,
			want:       ErrInvalidAnchor,
		},
		{
			name:       "negative anchor height",
			raw:        valid.raw(zeros),
			inputDim:   64,
			anchors:    []config.Anchor{{Width: 8, Height: -1}, {Width: 16, Height: 16}},
			numClasses: 2,
			want:       ErrInvalidAnchor,
		},
		{
			name:       "NaN anchor",
			raw:        valid.raw(zeros),
			inputDim:   64,
			anchors:    []config.Anchor{{Width: 8, Height: 8}, {Width: math32.NaN(), Height: 16}},
			numClasses: 2,
			want:       ErrInvalidAnchor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, accel := range []bool{false, true} {
				pred, err := Decode(tt.raw, tt.inputDim, tt.anchors, tt.numClasses, accel)
				require.Error(t, err)
				assert.Nil(t, pred)
				assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeConcurrent(t *testing.T) {
	dec := New(compute.NewAccelerator(4))
	raw := coarse.random(9)
	want := coarse.reference(raw.Float32s())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	results := make([]*tensor.Dense, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pred, err := dec.Decode(raw, coarse.inputDim, coarse.anchors, coarse.numClasses)
			if err != nil {
				errs <- err
				return
			}
			results[i] = pred
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for _, pred := range results {
		assertClose(t, want, pred.Float32s(), 1e-5)
	}
}

func float32sTo64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
