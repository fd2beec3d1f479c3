package facedetect

import (
	"context"
	"image"
)

// BoundingBox is a face region in the coordinate space of the source image.
type BoundingBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Clamp restricts the box to [0,imageWidth) x [0,imageHeight). A box that
// lies entirely outside the image collapses to an empty box on the nearest
// edge.
func (b BoundingBox) Clamp(imageWidth, imageHeight int) BoundingBox {
	right := clampAxis(b.Left+b.Width, imageWidth)
	bottom := clampAxis(b.Top+b.Height, imageHeight)
	b.Left = clampAxis(b.Left, imageWidth)
	b.Top = clampAxis(b.Top, imageHeight)

	b.Width = right - b.Left
	b.Height = bottom - b.Top
	if b.Width < 0 {
		b.Width = 0
	}
	if b.Height < 0 {
		b.Height = 0
	}
	return b
}

func clampAxis(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Rect converts the box to a stdlib image rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Left+b.Width, b.Top+b.Height)
}

// Locator detects zero or more face bounding boxes in an image. The order of
// the returned boxes is the detector's reported order; callers that need a
// single face take the first one.
type Locator interface {
	Detect(ctx context.Context, img image.Image) ([]BoundingBox, error)
}
