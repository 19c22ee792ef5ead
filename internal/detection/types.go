// Package detection provides the detector contract used by the PPE pipeline.
// Models are external collaborators: an image goes in, detections come out.
package detection

import (
	"context"
	"image"
)

// DefaultMinConfidence is the confidence threshold applied to every inference call
const DefaultMinConfidence = 0.5

// Box is a bounding box in pixel coordinates of the source frame
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width
func (b Box) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the box height
func (b Box) Height() float64 {
	return b.Y2 - b.Y1
}

// Area returns the area of the bounding box
func (b Box) Area() float64 {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// Rect converts the box to an integer rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// IoU calculates Intersection over Union with another box
func (b Box) IoU(other Box) float64 {
	x1 := max(b.X1, other.X1)
	y1 := max(b.Y1, other.Y1)
	x2 := min(b.X2, other.X2)
	y2 := min(b.Y2, other.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b.Area() + other.Area() - intersection

	if union == 0 {
		return 0
	}

	return intersection / union
}

// Detection is one labeled, confidence-scored box produced for one frame
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Detector runs inference on a single frame.
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// DetectorFunc adapts a function to the Detector interface
type DetectorFunc func(ctx context.Context, img image.Image) ([]Detection, error)

// Detect calls f(ctx, img)
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return f(ctx, img)
}

// ScoreFilter drops detections below the given confidence
func ScoreFilter(in []Detection, minConfidence float64) []Detection {
	out := make([]Detection, 0, len(in))
	for _, d := range in {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out
}
