package scraper

import (
	"context"
	"fmt"

	"kpc/browser"
	"kpc/config"
	"kpc/extractor"
	"kpc/logger"
	"kpc/models"
	"kpc/pdf"
)

// Social pages of the photo-flyer stores
var SocialPages = map[string]string{
	"interex": "InterexKs",
	"albi":    "AlbiMarket",
}

// Order is the order sources are registered and reported in
var Order = []string{"maxi", "vivafresh", "interex", "albi", "spar-flyer", "etc-flyer", "spar-wolt"}

// Deps are the capabilities harvesters are built from. Launcher, Recognizer
// and PDF may be nil; sources that cannot run without them are reported
// as unavailable.
type Deps struct {
	Fetcher    *Fetcher
	Launcher   browser.Launcher
	Recognizer extractor.Recognizer
	PDF        *pdf.Tools
}

// Build returns the enabled harvesters in registration order. A source whose
// dependencies are missing is kept as an Unavailable placeholder so every
// cycle reports it as skipped.
func Build(cfg *config.Config, deps Deps, log *logger.Logger) []Harvester {
	if log == nil {
		log = logger.Nop()
	}
	if deps.Fetcher == nil {
		deps.Fetcher = NewFetcher(cfg.Harvest, log)
	}

	desktop := browser.Options{
		UserAgent: cfg.Harvest.UserAgent,
		Width:     1366,
		Height:    900,
		DPR:       1,
		Timeout:   cfg.Browser.Timeout,
	}

	var harvesters []Harvester
	for _, slug := range Order {
		if !cfg.Sources.Enabled(slug) {
			continue
		}
		h, reason := build(slug, cfg, deps, desktop, log)
		if h == nil {
			log.Warn("Source disabled", "source", slug, "reason", reason)
			h = Unavailable(slug, reason)
		}
		harvesters = append(harvesters, h)
	}
	return harvesters
}

func build(slug string, cfg *config.Config, deps Deps, desktop browser.Options, log *logger.Logger) (Harvester, string) {
	switch slug {
	case "maxi":
		return NewMaxiHarvester(deps.Fetcher, log), ""
	case "vivafresh":
		if deps.Launcher == nil {
			return nil, "rendered browser unavailable"
		}
		return NewVivaFreshHarvester(deps.Launcher, desktop, log), ""
	case "interex", "albi":
		if deps.Recognizer == nil {
			return nil, "ocr backend unavailable"
		}
		return NewSocialHarvester(slug, SocialPages[slug], cfg.Harvest, deps.Fetcher, deps.Launcher, deps.Recognizer, log), ""
	case "spar-flyer":
		parser := flyerParser(cfg, deps, log)
		if parser == nil {
			return nil, "no pdf extraction tooling"
		}
		return NewSparFlyerHarvester(deps.Fetcher, parser, log), ""
	case "etc-flyer":
		parser := flyerParser(cfg, deps, log)
		if parser == nil {
			return nil, "no pdf extraction tooling"
		}
		return NewEtcFlyerHarvester(cfg.Harvest.EtcListing, deps.Fetcher, deps.Launcher, desktop, parser, log), ""
	case "spar-wolt":
		return NewWoltHarvester(deps.Fetcher, deps.Launcher, desktop, log), ""
	}
	return nil, "unknown source"
}

// flyerParser assembles the text-layer and OCR passes that are available
func flyerParser(cfg *config.Config, deps Deps, log *logger.Logger) PDFParser {
	if deps.PDF == nil {
		return nil
	}
	if err := deps.PDF.AssertReady(); err != nil {
		log.Warn("PDF tooling missing", "error", err)
		return nil
	}
	return extractor.NewPDFExtractor(deps.PDF, deps.PDF, deps.Recognizer, cfg.PDF.DPI, cfg.PDF.MinTextItems, log)
}

type unavailable struct {
	slug   string
	reason string
}

// Unavailable returns a harvester that always fails with models.ErrMissingConfig
func Unavailable(slug, reason string) Harvester {
	return unavailable{slug: slug, reason: reason}
}

func (u unavailable) Slug() string { return u.slug }

func (u unavailable) Harvest(ctx context.Context, hc *Context) ([]models.RawOffer, error) {
	return nil, fmt.Errorf("%w: %s", models.ErrMissingConfig, u.reason)
}
