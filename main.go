package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"kpc/browser"
	"kpc/cache"
	"kpc/compare"
	"kpc/config"
	"kpc/database"
	"kpc/extractor"
	"kpc/handlers"
	"kpc/ingest"
	"kpc/logger"
	"kpc/matching"
	"kpc/middleware"
	"kpc/models"
	"kpc/ocr"
	"kpc/pdf"
	"kpc/repository"
	"kpc/scheduler"
	"kpc/scraper"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion cycle and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger, *once); err != nil {
		appLogger.Error("Service stopped with error", "error", err)
		appLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, appLogger *logger.Logger, once bool) error {
	db, err := database.Connect(ctx, cfg.Database, appLogger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.CreateTables(ctx, db.DB); err != nil {
		return err
	}
	store := repository.NewPostgresStore(db.DB, appLogger)

	compareCache, err := cache.New(ctx, cfg.Cache, appLogger)
	if err != nil {
		return err
	}
	defer compareCache.Close()

	launcher := browser.NewRodLauncher(cfg.Browser.Bin, cfg.Browser.Headless, cfg.Browser.NoSandbox, cfg.Browser.Timeout, appLogger)
	defer launcher.Close()

	var recognizer extractor.Recognizer
	engine, err := ocr.New(ctx, cfg.OCR, appLogger)
	switch {
	case errors.Is(err, models.ErrMissingConfig):
		appLogger.Warn("OCR disabled", "reason", err)
	case err != nil:
		return fmt.Errorf("failed to initialize OCR: %w", err)
	default:
		appLogger.Info("OCR backend ready", "backend", engine.Name())
		recognizer = engine
	}

	harvesters := scraper.Build(cfg, scraper.Deps{
		Fetcher:    scraper.NewFetcher(cfg.Harvest, appLogger),
		Launcher:   launcher,
		Recognizer: recognizer,
		PDF:        pdf.NewTools(cfg.PDF.PdftotextPath, cfg.PDF.PdftoppmPath, cfg.PDF.Timeout, appLogger),
	}, appLogger)

	scorer, err := matching.NewScorer(cfg.Matching)
	if err != nil {
		return err
	}
	matcher := matching.NewEngine(scorer, cfg.Matching.Threshold, appLogger.With("component", "matching"))

	orchestrator := ingest.New(store, harvesters, matcher, compareCache, ingest.Options{
		City:        cfg.Harvest.City,
		Concurrency: cfg.Harvest.Concurrency,
	}, appLogger.With("component", "ingest"))
	runs := scheduler.NewRunManager(ctx, orchestrator.Run, appLogger)

	if once {
		cycle, err := runs.RunNow(ctx, "cli")
		if err != nil {
			return err
		}
		appLogger.Info("Single cycle finished", "run_id", cycle.ID, "offers", cycle.TotalOffers(), "mappings_created", cycle.MappingsCreated)
		return nil
	}

	if cfg.Schedule.Enabled {
		sched, err := scheduler.NewIngestScheduler(runs, cfg.Schedule, appLogger.With("component", "scheduler"))
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	h := handlers.NewHandlers(store, compare.NewEngine(store, cfg.Compare.RecentDays, appLogger), compareCache, cfg.Cache.TTL, runs, appLogger)

	r := mux.NewRouter()
	r.Use(middleware.Recovery(appLogger))
	r.Use(middleware.Logging(appLogger))
	r.Use(middleware.RateLimit(cfg.Server.RateLimitRPS))
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	h.Register(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("Server starting", "addr", srv.Addr, "sources", orchestrator.Sources())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Server shutdown failed", "error", err)
	}
	runs.Wait()
	return nil
}
