package main

import (
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/yolo-decode/config"
	"github.com/nvr-ai/yolo-decode/decoder"
	"github.com/nvr-ai/yolo-decode/models/yolov3"
	"github.com/nvr-ai/yolo-decode/util"
)

var (
	configPath  = flag.String("config", "", "YAML model config, see config/testdata (default: built-in YOLOv3 COCO preset)")
	mapsDir     = flag.String("maps", "", "directory of head-<n>.bin float32 dumps (default: random logits)")
	batch       = flag.Int("batch", 1, "batch size of the feature maps")
	accelerator = flag.Bool("accelerator", false, "decode on the accelerator device")
	threshold   = flag.Float64("threshold", -1, "score threshold (default: the config's)")
	seed        = flag.Int64("seed", 1, "seed for random logits")
)

// strides are the per-head strides of the YOLOv3 family, coarsest first.
var strides = []int{32, 16, 8}

func main() {
	flag.Parse()

	cfg := config.YOLOv3COCO()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Can't load config due the error: %s", err)
		}
	}
	if *accelerator {
		cfg.Device.UseAccelerator = true
	}

	model, err := yolov3.NewModel(cfg)
	if err != nil {
		log.Fatalf("Can't prepare model due the error: %s", err)
	}

	outputs, err := featureMaps(cfg)
	if err != nil {
		log.Fatalf("Can't prepare feature maps due the error: %s", err)
	}

	st := time.Now()
	pred, err := model.Decode(outputs)
	if err != nil {
		log.Fatalf("Can't decode due the error: %s", err)
	}
	duration := time.Since(st)

	results, err := model.Results(pred, float32(*threshold))
	if err != nil {
		log.Fatalf("Can't collect results due the error: %s", err)
	}

	shp := pred.Shape()
	objectness := column(pred, decoder.AttrObjectness)
	log.Printf("📊 predictions=%v boxes=%d time=%dµs device=%s", shp, shp[0]*shp[1], duration.Microseconds(), model.Device().Backend())
	log.Printf("🎯 objectness mean=%.4f max=%.4f", stat.Mean(objectness, nil), floats.Max(objectness))
	for b, rs := range results {
		log.Printf("🔍 batch %d: %d results", b, len(rs))
		for i, r := range rs {
			if i == 5 {
				break
			}
			log.Printf("   %s", r)
		}
	}
}

// featureMaps loads one raw map per head from -maps or synthesizes random
// logits with the standard YOLOv3 strides.
func featureMaps(cfg *config.Model) ([]*tensor.Dense, error) {
	outputs := make([]*tensor.Dense, len(cfg.Heads))

	var files []util.FeatureMapFile
	if *mapsDir != "" {
		var err error
		if files, err = util.LoadDirectoryFeatureMaps(*mapsDir); err != nil {
			return nil, err
		}
		if len(files) != len(cfg.Heads) {
			return nil, errors.Errorf("found %d feature maps for %d heads in %s", len(files), len(cfg.Heads), *mapsDir)
		}
	}

	rng := rand.New(rand.NewSource(*seed))
	for i, h := range cfg.Heads {
		stride := strides[i%len(strides)]
		grid := cfg.InputDimension / stride
		channels := len(h.Anchors) * (decoder.AttrClasses + cfg.NumClasses)

		if files != nil {
			t, err := util.LoadFeatureMap(files[i].Path, *batch, channels, grid, grid)
			if err != nil {
				return nil, err
			}
			outputs[i] = t
			continue
		}

		data := make([]float32, *batch*channels*grid*grid)
		for j := range data {
			data[j] = float32(rng.NormFloat64())
		}
		outputs[i] = tensor.New(tensor.WithShape(*batch, channels, grid, grid), tensor.WithBacking(data))
		log.Printf("📋 head %d (%s): synthesized %v", i, h.Name, outputs[i].Shape())
	}

	return outputs, nil
}

// column copies one attribute of every decoded row.
func column(pred *tensor.Dense, attr int) []float64 {
	shp := pred.Shape()
	data := pred.Float32s()
	out := make([]float64, 0, shp[0]*shp[1])
	for i := attr; i < len(data); i += shp[2] {
		out = append(out, float64(data[i]))
	}
	return out
}
