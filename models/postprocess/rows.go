package postprocess

import (
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Labeler names a class index.
type Labeler func(class int) string

// FromPredictions converts decoded (batch, box, 5+numClasses) rows into
// results, one slice per batch item. A row is kept when objectness times its
// best class score reaches threshold; rows without class scores use
// objectness alone. Each slice is sorted by descending score, ready for an
// external suppression stage.
//
// Arguments:
//   - pred: The decoded predictions.
//   - threshold: The minimum score to keep.
//   - labels: Optional class namer; nil leaves labels empty.
//
// Returns:
//   - [][]Result: The kept results per batch item.
//   - error: An error if pred is not a float32 (batch, box, attribute) tensor.
func FromPredictions(pred *tensor.Dense, threshold float32, labels Labeler) ([][]Result, error) {
	if pred == nil {
		return nil, errors.New("predictions are nil")
	}
	if pred.Dtype() != tensor.Float32 {
		return nil, errors.Errorf("expected float32 predictions, got %v", pred.Dtype())
	}

	shp := pred.Shape()
	if shp.Dims() != 3 || shp[2] < 5 {
		return nil, errors.Errorf("expected (batch, box, 5+classes) predictions, got %v", shp)
	}
	if pred.IsMaterializable() {
		pred = tensor.Materialize(pred).(*tensor.Dense)
	}

	batch, boxes, numCols := shp[0], shp[1], shp[2]
	data := pred.Float32s()
	out := make([][]Result, batch)

	for b := 0; b < batch; b++ {
		results := make([]Result, 0)
		for i := 0; i < boxes; i++ {
			offset := (b*boxes + i) * numCols
			objConf := data[offset+4]
			if objConf < threshold {
				continue
			}

			classID := -1
			maxScore := float32(1)
			if numCols > 5 {
				classID = 0
				maxScore = data[offset+5]
				for j := 6; j < numCols; j++ {
					if score := data[offset+j]; score > maxScore {
						maxScore = score
						classID = j - 5
					}
				}
			}

			finalScore := objConf * maxScore
			if finalScore < threshold {
				continue
			}

			cx, cy := data[offset+0], data[offset+1]
			w, h := data[offset+2], data[offset+3]

			r := Result{
				Box: Box{
					X1: cx - w/2,
					Y1: cy - h/2,
					X2: cx + w/2,
					Y2: cy + h/2,
				},
				Objectness: objConf,
				Score:      finalScore,
				Class:      classID,
				Index:      i,
			}
			if labels != nil && classID >= 0 {
				r.Label = labels(classID)
			}
			results = append(results, r)
		}

		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
		out[b] = results
	}

	return out, nil
}
