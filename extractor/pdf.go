package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kpc/logger"
)

// TextLayer reads the embedded text of a PDF
type TextLayer interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// Rasterizer renders PDF pages to images
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte, dpi int) ([][]byte, error)
}

// Recognizer maps an image to recognized text
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// pass is one way of getting text out of a PDF
type pass struct {
	name string
	run  func(ctx context.Context, data []byte) (string, error)
}

// PDFExtractor runs the text layer first and falls back to rendering plus OCR
// when the text layer yields too few items
type PDFExtractor struct {
	passes   []pass
	minItems int
	log      *logger.Logger
}

// NewPDFExtractor builds the pass chain from whatever capabilities are available.
// A nil capability removes its pass.
func NewPDFExtractor(text TextLayer, raster Rasterizer, rec Recognizer, dpi, minItems int, log *logger.Logger) *PDFExtractor {
	if dpi <= 0 {
		dpi = 200
	}
	if minItems <= 0 {
		minItems = 5
	}
	if log == nil {
		log = logger.Nop()
	}
	e := &PDFExtractor{minItems: minItems, log: log}
	if text != nil {
		e.passes = append(e.passes, pass{name: "text_layer", run: text.ExtractText})
	}
	if raster != nil && rec != nil {
		e.passes = append(e.passes, pass{name: "ocr", run: func(ctx context.Context, data []byte) (string, error) {
			return ocrPages(ctx, raster, rec, data, dpi)
		}})
	}
	return e
}

// Extract returns the result of the pass that produced the most items.
// Passes stop as soon as one yields at least minItems.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (Result, error) {
	if len(e.passes) == 0 {
		return Result{}, errors.New("no pdf extraction pass available")
	}

	var (
		best    Result
		found   bool
		lastErr error
	)
	for _, p := range e.passes {
		text, err := p.run(ctx, data)
		if err != nil {
			e.log.Warn("pdf pass failed", "pass", p.name, "error", err)
			lastErr = err
			continue
		}
		res := ParseText(text)
		e.log.Debug("pdf pass finished", "pass", p.name, "items", len(res.Items))
		if !found || len(res.Items) > len(best.Items) {
			best, found = res, true
		}
		if len(res.Items) >= e.minItems {
			break
		}
	}
	if !found {
		return Result{}, fmt.Errorf("all pdf passes failed: %w", lastErr)
	}
	return best, nil
}

func ocrPages(ctx context.Context, raster Rasterizer, rec Recognizer, data []byte, dpi int) (string, error) {
	pages, err := raster.Rasterize(ctx, data, dpi)
	if err != nil {
		return "", fmt.Errorf("failed to rasterize pdf: %w", err)
	}
	texts := make([]string, 0, len(pages))
	for i, page := range pages {
		text, err := rec.Recognize(ctx, page)
		if err != nil {
			return "", fmt.Errorf("failed to ocr page %d: %w", i+1, err)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n"), nil
}

// ExtractImage runs OCR over one image and parses the recognized text
func ExtractImage(ctx context.Context, rec Recognizer, image []byte) (Result, string, error) {
	text, err := rec.Recognize(ctx, image)
	if err != nil {
		return Result{}, "", err
	}
	return ParseText(text), text, nil
}
