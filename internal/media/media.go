// Package media prepares report images for upload to the messaging channels.
// It detects the MIME type from magic bytes and recompresses pictures that
// exceed what the channels accept for inline photos.
package media

import (
	"github.com/gabriel-vasile/mimetype"
)

// Inline photo limits shared by WhatsApp and Telegram.
const (
	MaxDimension = 2560            // Max width or height in pixels
	MaxBytes     = 5 * 1024 * 1024 // 5MB, the WhatsApp image cap
	MaxQuality   = 85              // Starting JPEG quality
)

// SupportedMIMETypes lists the formats that can be sent as photos.
var SupportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Image is an encoded picture ready for upload.
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Size returns the size in bytes
func (img *Image) Size() int {
	return len(img.Data)
}

// Extension returns the file extension matching the MIME type, including the dot.
func (img *Image) Extension() string {
	return mimetype.Lookup(img.MimeType).Extension()
}

// IsWithinLimits reports whether the image can be sent without recompression.
func (img *Image) IsWithinLimits() bool {
	return img.Width <= MaxDimension &&
		img.Height <= MaxDimension &&
		len(img.Data) <= MaxBytes
}

// DetectMIME returns the MIME type from magic bytes (not file extension)
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported returns true if the MIME type can be sent as a photo
func IsSupported(mimeType string) bool {
	return SupportedMIMETypes[mimeType]
}
