// Package imagecodec shrinks images to a byte budget before they are sent
// as data URIs.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	_ "image/gif"
	_ "image/png"

	"github.com/h2non/filetype"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// MaxDimension caps the longer side of the output.
	MaxDimension = 800
	// DefaultTargetKB is the budget used for chat images.
	DefaultTargetKB = 300

	startQuality = 80
	minQuality   = 10
	qualityStep  = 10

	dataURIPrefix = "data:image/jpeg;base64,"
)

// ErrDecode is returned when the input is not a decodable image. It is
// distinct from transport errors so callers can ask for another image.
var ErrDecode = errors.New("image cannot be decoded")

type Result struct {
	DataURI string
	Quality int
	Width   int
	Height  int
	// Size is the estimated decoded byte size of DataURI.
	Size int
}

// EstimatedSize estimates the byte size of a base64 data URI of length n.
func EstimatedSize(n int) int {
	return (n*3 + 3) / 4
}

// Compress decodes r, downscales it to MaxDimension and re-encodes it as
// JPEG, lowering quality until the result fits targetKB. When the quality
// floor is reached the oversize result is returned.
func Compress(r io.Reader, targetKB int) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read image: %w", err)
	}
	return CompressBytes(data, targetKB)
}

func CompressBytes(data []byte, targetKB int) (Result, error) {
	if targetKB <= 0 {
		targetKB = DefaultTargetKB
	}
	if !filetype.IsImage(data) {
		return Result{}, ErrDecode
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img := fit(src)
	budget := targetKB * 1024

	var res Result
	for quality := startQuality; quality >= minQuality; quality -= qualityStep {
		uri, err := encode(img, quality)
		if err != nil {
			return Result{}, err
		}
		b := img.Bounds()
		res = Result{
			DataURI: uri,
			Quality: quality,
			Width:   b.Dx(),
			Height:  b.Dy(),
			Size:    EstimatedSize(len(uri)),
		}
		if res.Size <= budget {
			break
		}
	}
	return res, nil
}

// fit scales img down so its longer side is MaxDimension. Smaller images
// are only copied onto an opaque canvas.
func fit(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > MaxDimension || h > MaxDimension {
		if w >= h {
			h = max(1, h*MaxDimension/w)
			w = MaxDimension
		} else {
			w = max(1, w*MaxDimension/h)
			h = MaxDimension
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; transparent areas become black as on a canvas.
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encode(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURI returns the raw bytes of a base64 image data URI.
func DecodeDataURI(uri string) ([]byte, error) {
	_, payload, ok := bytes.Cut([]byte(uri), []byte(";base64,"))
	if !ok {
		return nil, fmt.Errorf("%w: not a base64 data uri", ErrDecode)
	}
	out, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}
