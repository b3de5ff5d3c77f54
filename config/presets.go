package config

// COCOLabels are the 80 COCO class names in the order YOLO models emit them.
var COCOLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// YOLOv3COCO returns the configuration for a YOLOv3 model trained on COCO
// at 416x416:
//   - Stride 32: (116x90), (156x198), (373x326)
//   - Stride 16: (30x61), (62x45), (59x119)
//   - Stride 8: (10x13), (16x30), (33x23)
func YOLOv3COCO() *Model {
	return &Model{
		Name:                NameYOLOv3,
		Family:              FamilyYOLO,
		InputDimension:      416,
		NumClasses:          len(COCOLabels),
		ConfidenceThreshold: 0.5,
		Heads: []Head{
			{Name: "large", Anchors: []Anchor{{116, 90}, {156, 198}, {373, 326}}},
			{Name: "medium", Anchors: []Anchor{{30, 61}, {62, 45}, {59, 119}}},
			{Name: "small", Anchors: []Anchor{{10, 13}, {16, 30}, {33, 23}}},
		},
		Labels: append([]string(nil), COCOLabels...),
	}
}

// YOLOv3TinyCOCO returns the configuration for a YOLOv3-tiny model trained
// on COCO at 416x416:
//   - Stride 32: (81x82), (135x169), (344x319)
//   - Stride 16: (10x14), (23x27), (37x58)
func YOLOv3TinyCOCO() *Model {
	return &Model{
		Name:                NameYOLOv3Tiny,
		Family:              FamilyYOLO,
		InputDimension:      416,
		NumClasses:          len(COCOLabels),
		ConfidenceThreshold: 0.5,
		Heads: []Head{
			{Name: "large", Anchors: []Anchor{{81, 82}, {135, 169}, {344, 319}}},
			{Name: "small", Anchors: []Anchor{{10, 14}, {23, 27}, {37, 58}}},
		},
		Labels: append([]string(nil), COCOLabels...),
	}
}
