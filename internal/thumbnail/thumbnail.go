// Package thumbnail derives small PNG previews from uploaded images.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// MaxSide is the longest side of a derived thumbnail, in pixels.
	MaxSide = 200
	// maxPixels bounds the decoded size of a source image.
	maxPixels = 12000 * 12000
)

// Deriver produces thumbnails. The zero value is not usable; call New.
type Deriver struct {
	maxSide int
	logger  *slog.Logger
}

// New returns a Deriver that logs skipped derivations to logger.
func New(logger *slog.Logger) *Deriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deriver{maxSide: MaxSide, logger: logger}
}

// IsImage reports whether mediaType names an image type.
func IsImage(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// Name returns the object name of the thumbnail of an asset called name.
func Name(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "file"
	}
	return "thumb-" + base + ".png"
}

// Derive returns a PNG thumbnail of the image read from r whose longest side
// is at most 200 pixels. Images already that small keep their size. ok is
// false when mediaType is not an image or the content cannot be decoded;
// Derive never fails the caller.
func (d *Deriver) Derive(r io.Reader, mediaType string) (thumb []byte, ok bool) {
	if !IsImage(mediaType) {
		return nil, false
	}
	defer func() {
		if p := recover(); p != nil {
			d.logger.Warn("thumbnail decoder panicked", "media_type", mediaType, "panic", p)
			thumb, ok = nil, false
		}
	}()

	out, err := d.derive(r)
	if err != nil {
		d.logger.Warn("thumbnail skipped", "media_type", mediaType, "err", err)
		return nil, false
	}
	return out, true
}

func (d *Deriver) derive(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("unsupported dimensions %dx%d", cfg.Width, cfg.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), d.maxSide)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w x h to fit in a limit x limit box, preserving aspect ratio and
// never enlarging.
func fit(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		nh := h * limit / w
		return limit, clampMin(nh)
	}
	nw := w * limit / h
	return clampMin(nw), limit
}

func clampMin(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
