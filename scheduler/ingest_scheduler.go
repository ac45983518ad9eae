package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"kpc/config"
	"kpc/logger"
	"kpc/models"
)

// IngestScheduler starts ingestion cycles on cron specs with seconds
// precision, e.g. "0 15 3 * * *" for 03:15 every day
type IngestScheduler struct {
	cron   *cron.Cron
	runs   *RunManager
	cfg    config.ScheduleConfig
	logger *logger.Logger
}

// NewIngestScheduler registers every configured spec
func NewIngestScheduler(runs *RunManager, cfg config.ScheduleConfig, log *logger.Logger) (*IngestScheduler, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &IngestScheduler{
		cron:   cron.New(cron.WithSeconds()),
		runs:   runs,
		cfg:    cfg,
		logger: log,
	}
	for _, spec := range cfg.Specs {
		if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
	}
	return s, nil
}

// Start starts the cron loop, optionally kicking off a cycle right away
func (s *IngestScheduler) Start() {
	if s.cfg.RunOnStart {
		s.trigger("startup")
	}
	s.cron.Start()
	s.logger.Info("Ingestion scheduled", "specs", s.cfg.Specs, "jobs", len(s.cron.Entries()))
}

// Stop stops the cron loop. The returned context is done once running jobs
// have returned.
func (s *IngestScheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *IngestScheduler) tick() {
	s.trigger("schedule")
}

func (s *IngestScheduler) trigger(reason string) {
	err := s.runs.Trigger(reason)
	switch {
	case errors.Is(err, models.ErrCycleRunning):
		s.logger.Info("Skipping scheduled cycle, previous one still running", "trigger", reason)
	case err != nil:
		s.logger.Error("Failed to trigger cycle", "trigger", reason, "error", err)
	}
}
