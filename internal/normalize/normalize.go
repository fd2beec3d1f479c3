// Package normalize turns a raw captured photo into a canonical,
// correctly-oriented, optionally face-cropped image file.
package normalize

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"github.com/example/facegate/internal/facedetect"
)

// ErrDecode marks an unreadable or unsupported image file.
var ErrDecode = errors.New("image decode failed")

const jpegQuality = 90

// CapturedImage is an in-memory pixel buffer decoded from a file on disk.
type CapturedImage struct {
	Path   string
	Width  int
	Height int
	Img    image.Image
}

// Decode reads and decodes the image file at path.
func Decode(path string) (*CapturedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	return &CapturedImage{
		Path:   path,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Img:    img,
	}, nil
}

// NormalizeOrientation bakes the EXIF orientation tag into the pixel order
// and rewrites the file in place, so downstream consumers never special-case
// orientation. The rewrite is destructive: the original file content does not
// survive. Files without an orientation tag (including files this function
// already rewrote) are left untouched, which makes the operation idempotent.
func NormalizeOrientation(path string) error {
	orientation, err := readOrientation(path)
	if err != nil {
		return err
	}
	if orientation <= 1 {
		return nil
	}

	captured, err := Decode(path)
	if err != nil {
		return err
	}

	oriented := applyOrientation(captured.Img, orientation)
	if err := imaging.Save(oriented, path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("rewrite oriented image: %w", err)
	}
	return nil
}

// CropToFace clamps the box to the image bounds, crops, and writes the result
// to a derived path next to the original. The original file is not mutated.
func CropToFace(path string, box facedetect.BoundingBox) (string, error) {
	captured, err := Decode(path)
	if err != nil {
		return "", err
	}

	clamped := box.Clamp(captured.Width, captured.Height)
	if clamped.Empty() {
		return "", fmt.Errorf("face box %+v has no overlap with %dx%d image", box, captured.Width, captured.Height)
	}

	cropped := imaging.Crop(captured.Img, clamped.Rect())

	out := CroppedPath(path)
	if err := imaging.Save(cropped, out, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("write cropped image: %w", err)
	}
	return out, nil
}

// CroppedSuffix marks files produced by CropToFace.
const CroppedSuffix = "_cropped"

// CroppedPath derives the output path for a face crop of the given file.
func CroppedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + CroppedSuffix + ".jpg"
}

func readOrientation(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	meta, err := exif.Decode(f)
	if err != nil {
		// No EXIF block means default orientation.
		return 1, nil
	}

	tag, err := meta.Get(exif.Orientation)
	if err != nil {
		return 1, nil
	}

	orientation, err := tag.Int(0)
	if err != nil || orientation < 1 || orientation > 8 {
		return 1, nil
	}
	return orientation, nil
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transverse(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transpose(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
