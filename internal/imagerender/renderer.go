package imagerender

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// Renderer turns a whole PDF into JPEG page images at a fixed DPI and quality.
type Renderer struct {
	DPI     int
	Quality int
	Color   ColorMode
}

func New(dpi, quality int, color ColorMode) *Renderer {
	if dpi <= 0 {
		dpi = 150
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if color == "" {
		color = ColorRGB
	}
	return &Renderer{DPI: dpi, Quality: quality, Color: color}
}

// RenderAll renders every page, in order. The result index i holds page i+1.
// A document without pages yields an empty slice.
func (r *Renderer) RenderAll(ctx context.Context, pdf []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n < 0 {
		return nil, fmt.Errorf("failed to count pages")
	}
	pages := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// go-fitz uses 0-based indexing
		img, err := doc.ImageDPI(i, float64(r.DPI))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		jpegBytes, err := r.encode(img)
		if err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		log.Debug().
			Int("page", i+1).
			Int("width", img.Bounds().Dx()).
			Int("height", img.Bounds().Dy()).
			Int("jpeg_size", len(jpegBytes)).
			Str("color", string(r.Color)).
			Msg("rendered page")
		pages = append(pages, jpegBytes)
	}
	return pages, nil
}

func (r *Renderer) encode(img image.Image) ([]byte, error) {
	var final image.Image = img
	if r.Color == ColorGray {
		final = imaging.Grayscale(img)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, final, imaging.JPEG, imaging.JPEGQuality(r.Quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
