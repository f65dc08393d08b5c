// Package imaging provides the pure image preprocessing applied to user
// uploads before they are submitted to the backend: a deterministic,
// aspect-preserving downscale to a maximum dimension bound.
package imaging

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"  // register decoders for common chat attachments
	_ "image/jpeg" //
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// ErrUnsupportedFormat is returned when the input bytes are not a decodable
// image (PNG, JPEG, or GIF).
var ErrUnsupportedFormat = errors.New("imaging: unsupported image format")

// Dimensions reports the pixel size of an encoded image without decoding the
// full pixel data.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, ErrUnsupportedFormat
	}
	return cfg.Width, cfg.Height, nil
}

// Resize scales the encoded image down so that its longer side equals
// maxDim, preserving aspect ratio. Images already within the bound are
// returned unchanged, byte for byte. The output is PNG-encoded.
func Resize(data []byte, maxDim int) ([]byte, error) {
	if maxDim <= 0 {
		return nil, errors.New("imaging: maxDim must be positive")
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, ErrUnsupportedFormat
	}
	if cfg.Width <= maxDim && cfg.Height <= maxDim {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrUnsupportedFormat
	}

	w, h := scaled(cfg.Width, cfg.Height, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scaled computes the target size with the longer side pinned to maxDim and
// the shorter side rounded to the nearest pixel (never below 1).
func scaled(w, h, maxDim int) (int, int) {
	if w >= h {
		nh := (h*maxDim + w/2) / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := (w*maxDim + h/2) / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}
