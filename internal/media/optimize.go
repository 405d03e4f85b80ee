package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/disintegration/imaging"

	// Register additional image formats
	_ "golang.org/x/image/webp"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

// Quality levels to try (descending order)
var qualityLevels = []int{85, 75, 65, 55, 45, 35}

// Dimension levels to try if resizing needed (descending order)
var dimensionLevels = []int{2560, 2048, 1600, 1280, 1024, 800}

// Load reads an image from disk and returns it ready for upload, recompressing
// it when it exceeds the photo limits.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := Optimize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(img.Data) != len(data) {
		L_debug("media: image recompressed", "path", path, "from", len(data), "to", len(img.Data), "width", img.Width, "height", img.Height)
	}
	return img, nil
}

// Optimize resizes and compresses an image to meet the photo limits.
// Images already within limits are returned unchanged.
func Optimize(data []byte) (*Image, error) {
	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	orig := &Image{Data: data, MimeType: mimeType, Width: cfg.Width, Height: cfg.Height}
	if orig.IsWithinLimits() {
		return orig, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return optimizeWithGridSearch(img, format)
}

// optimizeWithGridSearch walks dimensions and qualities from large to small
// and returns the first encoding under MaxBytes.
func optimizeWithGridSearch(img image.Image, format string) (*Image, error) {
	bounds := img.Bounds()
	maxDim := max(bounds.Dx(), bounds.Dy())

	dimensions := []int{min(maxDim, MaxDimension)}
	for _, d := range dimensionLevels {
		if d < dimensions[0] {
			dimensions = append(dimensions, d)
		}
	}

	var smallest *Image
	for _, targetDim := range dimensions {
		resized := img
		if bounds.Dx() > targetDim || bounds.Dy() > targetDim {
			resized = imaging.Fit(img, targetDim, targetDim, imaging.Lanczos)
		}
		rb := resized.Bounds()

		for _, quality := range qualityLevels {
			encoded, mimeType, err := encodeImage(resized, format, quality)
			if err != nil {
				continue
			}
			candidate := &Image{Data: encoded, MimeType: mimeType, Width: rb.Dx(), Height: rb.Dy()}
			if smallest == nil || len(encoded) < len(smallest.Data) {
				smallest = candidate
			}
			if len(encoded) <= MaxBytes {
				return candidate, nil
			}
			// lossless formats encode the same at every quality
			if mimeType != "image/jpeg" {
				break
			}
		}
	}

	if smallest != nil {
		return nil, fmt.Errorf("image could not be reduced below %dMB (got %.2fMB)",
			MaxBytes/(1024*1024), float64(len(smallest.Data))/(1024*1024))
	}
	return nil, fmt.Errorf("failed to optimize image")
}

// encodeImage encodes an image in the specified format with given quality
func encodeImage(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err

	case "gif":
		err := gif.Encode(&buf, img, nil)
		return buf.Bytes(), "image/gif", err

	default:
		// jpeg, and webp which the x/image package can only decode
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		return buf.Bytes(), "image/jpeg", err
	}
}
