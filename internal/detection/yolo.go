package detection

import (
	"fmt"
	"sort"
)

// YOLOOutput describes a raw YOLOv8 output tensor of shape [1, 4+classes, anchors].
// Rows are attributes: cx, cy, w, h followed by one score per class.
type YOLOOutput struct {
	Data       []float32
	NumClasses int
	NumAnchors int
}

// DecodeOptions controls how raw YOLO output is turned into detections
type DecodeOptions struct {
	Classes       []string
	MinConfidence float64
	IoUThreshold  float64
	// ScaleX and ScaleY map model input coordinates back to the source frame
	ScaleX float64
	ScaleY float64
}

// DecodeYOLOv8 converts a YOLOv8 output tensor into detections with per-class NMS applied
func DecodeYOLOv8(out YOLOOutput, opts DecodeOptions) ([]Detection, error) {
	rows := 4 + out.NumClasses
	if out.NumClasses <= 0 || out.NumAnchors <= 0 {
		return nil, fmt.Errorf("invalid output shape: classes=%d anchors=%d", out.NumClasses, out.NumAnchors)
	}
	if len(out.Data) < rows*out.NumAnchors {
		return nil, fmt.Errorf("output too short: got %d values, need %d", len(out.Data), rows*out.NumAnchors)
	}
	if opts.ScaleX == 0 {
		opts.ScaleX = 1
	}
	if opts.ScaleY == 0 {
		opts.ScaleY = 1
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.IoUThreshold <= 0 {
		opts.IoUThreshold = 0.45
	}

	at := func(row, anchor int) float64 {
		return float64(out.Data[row*out.NumAnchors+anchor])
	}

	var candidates []Detection
	classIdx := make([]int, 0)
	for i := 0; i < out.NumAnchors; i++ {
		best, bestScore := -1, 0.0
		for c := 0; c < out.NumClasses; c++ {
			if s := at(4+c, i); s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < opts.MinConfidence {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		candidates = append(candidates, Detection{
			ClassName:  className(opts.Classes, best),
			Confidence: bestScore,
			Box: Box{
				X1: (cx - w/2) * opts.ScaleX,
				Y1: (cy - h/2) * opts.ScaleY,
				X2: (cx + w/2) * opts.ScaleX,
				Y2: (cy + h/2) * opts.ScaleY,
			},
		})
		classIdx = append(classIdx, best)
	}

	return nonMaxSuppression(candidates, classIdx, opts.IoUThreshold), nil
}

// nonMaxSuppression keeps the highest scoring box among overlapping boxes of the same class
func nonMaxSuppression(dets []Detection, classIdx []int, iouThreshold float64) []Detection {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Confidence > dets[order[b]].Confidence
	})

	suppressed := make([]bool, len(dets))
	kept := make([]Detection, 0, len(dets))
	for oi, i := range order {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for _, j := range order[oi+1:] {
			if suppressed[j] || classIdx[j] != classIdx[i] {
				continue
			}
			if dets[i].Box.IoU(dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func className(classes []string, idx int) string {
	if idx >= 0 && idx < len(classes) {
		return classes[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}
