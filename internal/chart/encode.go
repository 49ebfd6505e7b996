package chart

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
)

// Format is an output image encoding.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
)

// ParseFormat accepts png, jpeg and jpg in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "png":
		return PNG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	default:
		return "", fmt.Errorf("invalid image format: %s", s)
	}
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format Format) error {
	switch format {
	case PNG:
		return png.Encode(w, img)
	case JPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 98})
	default:
		return fmt.Errorf("invalid image format: %s", format)
	}
}
