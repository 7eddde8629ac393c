package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	return cfg.Width, cfg.Height
}

func TestDerive_Downscales(t *testing.T) {
	d := New(nil)
	out, ok := d.Derive(bytes.NewReader(encodePNG(t, 400, 300)), "image/png")
	require.True(t, ok)

	w, h := decodeSize(t, out)
	assert.Equal(t, 200, w)
	assert.Equal(t, 150, h)
}

func TestDerive_Portrait(t *testing.T) {
	d := New(nil)
	out, ok := d.Derive(bytes.NewReader(encodePNG(t, 100, 1000)), "image/png")
	require.True(t, ok)

	w, h := decodeSize(t, out)
	assert.Equal(t, 20, w)
	assert.Equal(t, 200, h)
}

func TestDerive_NoUpscale(t *testing.T) {
	d := New(nil)
	out, ok := d.Derive(bytes.NewReader(encodePNG(t, 50, 40)), "image/png")
	require.True(t, ok)

	w, h := decodeSize(t, out)
	assert.Equal(t, 50, w)
	assert.Equal(t, 40, h)
}

func TestDerive_JPEGBecomesPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 300, 300)), nil))

	out, ok := New(nil).Derive(&buf, "image/jpeg")
	require.True(t, ok)
	w, h := decodeSize(t, out)
	assert.Equal(t, 200, w)
	assert.Equal(t, 200, h)
}

func TestDerive_Skips(t *testing.T) {
	d := New(nil)

	out, ok := d.Derive(strings.NewReader("%PDF-1.7"), "application/pdf")
	assert.False(t, ok)
	assert.Nil(t, out)

	out, ok = d.Derive(strings.NewReader("definitely not pixels"), "image/png")
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestFit(t *testing.T) {
	cases := []struct{ w, h, ww, wh int }{
		{400, 300, 200, 150},
		{200, 200, 200, 200},
		{1000, 1, 200, 1},
		{10, 10, 10, 10},
	}
	for _, c := range cases {
		w, h := fit(c.w, c.h, MaxSide)
		assert.Equal(t, c.ww, w, "%dx%d", c.w, c.h)
		assert.Equal(t, c.wh, h, "%dx%d", c.w, c.h)
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "thumb-art.png", Name("art.jpg"))
	assert.Equal(t, "thumb-design.v2.png", Name("../x/design.v2.webp"))
	assert.Equal(t, "thumb-file.png", Name(""))
	assert.True(t, IsImage("Image/PNG"))
	assert.False(t, IsImage("text/plain"))
}
