// Package annotate draws detection boxes and labels onto frames.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Spatial-NVR/PPEGuard/internal/detection"
)

// DefaultJPEGQuality is used when encoding annotated frames
const DefaultJPEGQuality = 90

var (
	// ComplianceColor outlines detections that are not violations
	ComplianceColor = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	// ViolationColor outlines missing-PPE detections
	ViolationColor = color.RGBA{R: 230, G: 30, B: 30, A: 255}
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Options controls how detections are drawn
type Options struct {
	LineWidth float64
	FontSize  float64
}

// DefaultOptions returns the drawing options used by the live stream
func DefaultOptions() Options {
	return Options{LineWidth: 2, FontSize: 14}
}

// Draw renders boxes and "class confidence" labels onto a copy of img.
// The input frame is never modified.
func Draw(img image.Image, dets []detection.Detection, opts Options) image.Image {
	if opts.LineWidth <= 0 {
		opts.LineWidth = 2
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 14
	}

	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: opts.FontSize}))

	origin := img.Bounds().Min
	for _, d := range dets {
		c := color.Color(ComplianceColor)
		if detection.IsViolation(d.ClassName) {
			c = ViolationColor
		}

		r := d.Box.Rect().Sub(origin)
		drawRectangle(dc, r, c, opts.LineWidth)
		drawLabel(dc, Label(d), r.Min, c, opts.FontSize)
	}

	return dc.Image()
}

// Label returns the text drawn above a detection box
func Label(d detection.Detection) string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}

func drawRectangle(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// drawLabel paints the label on a filled tab sitting on top of the box
func drawLabel(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	w, h := dc.MeasureString(text)
	pad := 2.0

	x := float64(p.X)
	y := float64(p.Y) - h - 2*pad
	if y < 0 {
		y = float64(p.Y)
	}

	dc.SetColor(c)
	dc.DrawRectangle(x, y, w+2*pad, h+2*pad)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x+pad, y+pad, 0, 1)
}

// EncodeJPEG encodes a frame for the MJPEG stream or a snapshot file
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
