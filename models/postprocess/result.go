// Package postprocess - Conversion of decoded prediction rows into scored boxes.
package postprocess

import (
	"fmt"
	"image"
)

// Box is a corner-form bounding box in input-image pixels.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Center returns the center point of the box.
func (b Box) Center() (x, y float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Rect converts the box to an image.Rectangle.
//
// This loses fractional pixels around the edges.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result.
	Box Box
	// The objectness probability of the box.
	Objectness float32
	// The confidence score of the result: objectness times the best class score.
	Score float32
	// The predicted class index of the result.
	Class int
	// The class name, empty when no labels are configured.
	Label string
	// The row of the decoded predictions this result came from.
	Index int
}

func (r Result) String() string {
	return fmt.Sprintf("Object %s (class %d, score %f): (%.2f, %.2f), (%.2f, %.2f)",
		r.Label, r.Class, r.Score, r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2)
}
