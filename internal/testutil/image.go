package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// PNG returns a w x h PNG with a diagonal stripe.
func PNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w && x < h; x++ {
		img.Set(x, x, color.NRGBA{B: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
