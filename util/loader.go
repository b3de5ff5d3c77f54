package util

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// FeatureMapFile represents a raw head output dumped to disk.
type FeatureMapFile struct {
	// Path is the path to the dump.
	Path string
	// Head is the head index parsed from the file name.
	Head int
}

// LoadDirectoryFeatureMaps lists head-<n>.bin dumps in a directory, ordered
// by head index.
//
// Arguments:
// - dir: Directory path containing the dumps.
//
// Returns:
// - []FeatureMapFile: The dumps, ordered by head index.
// - error: Error if listing fails or a file name has no valid head index.
func LoadDirectoryFeatureMaps(dir string) ([]FeatureMapFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var maps []FeatureMapFile
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".bin" {
			continue
		}

		name := strings.TrimSuffix(file.Name(), ".bin")
		if !strings.HasPrefix(name, "head-") {
			continue
		}
		head, err := strconv.Atoi(strings.TrimPrefix(name, "head-"))
		if err != nil {
			return nil, errors.Wrapf(err, "parsing head index of %s", file.Name())
		}
		maps = append(maps, FeatureMapFile{
			Path: filepath.Join(dir, file.Name()),
			Head: head,
		})
	}

	sort.Slice(maps, func(i, j int) bool {
		return maps[i].Head < maps[j].Head
	})

	return maps, nil
}

// ReadFeatureMap reads little-endian float32 values into a tensor of the
// given shape.
//
// Arguments:
// - r: The source of the values.
// - shape: The shape of the tensor; the source must hold exactly that many values.
//
// Returns:
// - *tensor.Dense: The feature map.
// - error: Error if reading fails or the value count does not match the shape.
func ReadFeatureMap(r io.Reader, shape ...int) (*tensor.Dense, error) {
	size := tensor.Shape(shape).TotalSize()
	if len(shape) == 0 || size <= 0 {
		return nil, errors.Errorf("invalid feature map shape %v", shape)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading feature map")
	}
	if len(raw) != size*4 {
		return nil, errors.Errorf("feature map holds %d bytes, shape %v needs %d", len(raw), shape, size*4)
	}

	data := make([]float32, size)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// LoadFeatureMap reads a dump from disk. See ReadFeatureMap.
func LoadFeatureMap(path string, shape ...int) (*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadFeatureMap(f, shape...)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return t, nil
}

// WriteFeatureMap writes the values of a float32 tensor as little-endian
// float32s, the format ReadFeatureMap expects.
func WriteFeatureMap(w io.Writer, t *tensor.Dense) error {
	if t == nil || t.Dtype() != tensor.Float32 {
		return errors.New("expected a float32 tensor")
	}
	if t.IsMaterializable() {
		t = tensor.Materialize(t).(*tensor.Dense)
	}

	data := t.Float32s()
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}
