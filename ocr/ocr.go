package ocr

import (
	"context"
	"fmt"

	"kpc/config"
	"kpc/logger"
	"kpc/models"
)

// Engine maps a rasterized image to recognized text
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Name() string
}

// New builds the OCR engine selected by configuration. The "none" backend
// returns models.ErrMissingConfig so photo and OCR-dependent sources can be disabled.
func New(ctx context.Context, cfg config.OCRConfig, log *logger.Logger) (Engine, error) {
	switch cfg.Backend {
	case "http":
		return NewHTTPClient(cfg.ServiceURL, cfg.Lang, cfg.FallbackLang, cfg.Timeout, log), nil
	case "vision":
		v, err := NewVisionClient(ctx, cfg.CredentialsFile, cfg.Lang, log)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "tesseract":
		t, err := NewTesseract(cfg.TesseractPath, cfg.Lang, cfg.FallbackLang, cfg.PSM, cfg.OEM, cfg.Timeout, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrMissingConfig, err)
		}
		return t, nil
	case "none", "":
		return nil, fmt.Errorf("ocr backend disabled: %w", models.ErrMissingConfig)
	}
	return nil, fmt.Errorf("unknown ocr backend %q: %w", cfg.Backend, models.ErrMissingConfig)
}
