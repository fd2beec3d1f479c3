package facedetect

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
)

const (
	defaultMinFaceSize  = 20
	defaultMaxFaceSize  = 1000
	defaultShiftFactor  = 0.1
	defaultScaleFactor  = 1.1
	defaultIoUThreshold = 0.2
	defaultQuality      = 5.0
)

// PigoLocator detects faces with a pigo cascade classifier. Pure Go, no
// external runtime dependencies.
type PigoLocator struct {
	classifier *pigo.Pigo
	quality    float32
}

// NewPigoLocator loads and unpacks the binary cascade file.
func NewPigoLocator(cascadePath string) (*PigoLocator, error) {
	cascade, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("read cascade file: %w", err)
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade file: %w", err)
	}

	return &PigoLocator{classifier: classifier, quality: defaultQuality}, nil
}

// Detect runs the cascade over the image and returns the detected face
// boxes in the classifier's reported order.
func (l *PigoLocator) Detect(ctx context.Context, img image.Image) ([]BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := pigo.ImgToNRGBA(img)
	pixels := pigo.RgbToGrayscale(src)
	cols, rows := src.Bounds().Max.X, src.Bounds().Max.Y

	maxSize := defaultMaxFaceSize
	if cols < maxSize {
		maxSize = cols
	}
	if rows < maxSize {
		maxSize = rows
	}

	params := pigo.CascadeParams{
		MinSize:     defaultMinFaceSize,
		MaxSize:     maxSize,
		ShiftFactor: defaultShiftFactor,
		ScaleFactor: defaultScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := l.classifier.RunCascade(params, 0.0)
	dets = l.classifier.ClusterDetections(dets, defaultIoUThreshold)

	var boxes []BoundingBox
	for _, det := range dets {
		if det.Q < l.quality {
			continue
		}
		boxes = append(boxes, BoundingBox{
			Left:   det.Col - det.Scale/2,
			Top:    det.Row - det.Scale/2,
			Width:  det.Scale,
			Height: det.Scale,
		})
	}

	return boxes, nil
}
