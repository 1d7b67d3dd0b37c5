package input

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// CursorSource is the external XFIXES cursor-change collaborator
// (spec.md §1): something that can report the current cursor image
// whenever it changes. This module only consumes the image.
type CursorSource interface {
	// Next blocks until the cursor image changes and returns it cropped
	// to its bounding box, or an error if the watch failed.
	Next() (image.Image, error)
}

// cursorPayload is the JSON body broadcast as "cursor,<json>".
type cursorPayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	PNG    string `json:"png"`
}

// maxCursorBaseSize is the un-scaled cap; the effective cap is
// maxCursorBaseSize * dpiScale, per §4.6.
const maxCursorBaseSize = 32

// EncodeCursorFrame downscales img if needed for the given DPI scale,
// PNG-encodes and base64s it, and returns the "cursor,<json>" wire text.
func EncodeCursorFrame(img image.Image, dpiScale float64) (string, error) {
	cap := int(float64(maxCursorBaseSize) * dpiScale)
	if cap < 1 {
		cap = 1
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > cap || h > cap {
		scale := float64(cap) / float64(w)
		if hs := float64(cap) / float64(h); hs < scale {
			scale = hs
		}
		nw, nh := int(float64(w)*scale), int(float64(h)*scale)
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
		w, h = nw, nh
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}

	payload := cursorPayload{
		Width:  w,
		Height: h,
		PNG:    base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	j, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return "cursor," + string(j), nil
}
