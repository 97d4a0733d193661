package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
)

const thumbnailQuality = 80

// DefaultMaxPixels bounds the decoded size of an upload when the store is
// configured without a limit.
const DefaultMaxPixels = 40_000_000

// allowedTypes maps accepted upload content types to object key extensions.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Sniff returns the detected content type and the key extension for an
// accepted image, or a validation error.
func Sniff(data []byte) (contentType, ext string, err error) {
	if len(data) == 0 {
		return "", "", apperr.Validation("storage.Sniff", "image is empty")
	}
	contentType = http.DetectContentType(data)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", "", apperr.Validation("storage.Sniff", "unsupported image type %q", contentType)
	}
	return contentType, ext, nil
}

// Thumbnail decodes data and returns a JPEG scaled so its longer side is at
// most maxSide, together with the original dimensions. Images already within
// bounds are re-encoded without scaling. The header is checked first: images
// declaring more than maxPixels pixels are rejected before any pixel data is
// decoded.
func Thumbnail(data []byte, maxSide, maxPixels int) (thumb []byte, width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, apperr.Validation("storage.Thumbnail", "decode image header: %v", err)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, 0, 0, apperr.Validation("storage.Thumbnail",
			"image dimensions %dx%d exceed the %d pixel limit", cfg.Width, cfg.Height, maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, apperr.Validation("storage.Thumbnail", "decode image: %v", err)
	}

	bounds := src.Bounds()
	width, height = bounds.Dx(), bounds.Dy()
	tw, th := fitWithin(width, height, maxSide)

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), width, height, nil
}

// fitWithin scales (w, h) down, preserving aspect ratio, so neither side
// exceeds max. Sides never drop below 1.
func fitWithin(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}
