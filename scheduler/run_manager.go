package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kpc/logger"
	"kpc/models"
)

// CycleFunc runs one ingestion cycle
type CycleFunc func(ctx context.Context, trigger string) (*models.CycleRun, error)

// RunManager makes sure at most one ingestion cycle runs at a time, whether
// it was started by the scheduler or by hand
type RunManager struct {
	ctx    context.Context
	cycle  CycleFunc
	logger *logger.Logger

	mu      sync.RWMutex
	running bool
	last    *models.CycleRun
	wg      sync.WaitGroup
}

// NewRunManager creates a run manager. Async cycles run under ctx; cancel it
// to abort them on shutdown.
func NewRunManager(ctx context.Context, cycle CycleFunc, log *logger.Logger) *RunManager {
	if log == nil {
		log = logger.Nop()
	}
	return &RunManager{ctx: ctx, cycle: cycle, logger: log}
}

func (m *RunManager) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return models.ErrCycleRunning
	}
	m.running = true
	return nil
}

func (m *RunManager) release(run *models.CycleRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if run != nil {
		m.last = run
	}
}

// Trigger starts a cycle in the background. It returns models.ErrCycleRunning
// when one is already in progress.
func (m *RunManager) Trigger(trigger string) error {
	if err := m.acquire(); err != nil {
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.execute(m.ctx, trigger)
	}()
	m.logger.Info("Ingestion cycle triggered", "trigger", trigger)
	return nil
}

// RunNow runs a cycle and waits for it to finish
func (m *RunManager) RunNow(ctx context.Context, trigger string) (*models.CycleRun, error) {
	if err := m.acquire(); err != nil {
		return nil, err
	}
	return m.execute(ctx, trigger)
}

func (m *RunManager) execute(ctx context.Context, trigger string) (run *models.CycleRun, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion cycle panicked: %v", r)
			run = models.NewCycleRun("", trigger)
			run.Fail(err)
			m.logger.Error("Ingestion cycle panicked", "panic", r)
		}
		m.release(run)
	}()

	run, err = m.cycle(ctx, trigger)
	if err != nil {
		m.logger.Error("Ingestion cycle failed", "trigger", trigger, "error", err, "duration", time.Since(start))
	}
	return run, err
}

// Running reports whether a cycle is in progress
func (m *RunManager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastRun returns a copy of the most recent finished cycle, or nil
func (m *RunManager) LastRun() *models.CycleRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return nil
	}
	out := *m.last
	out.Sources = append([]models.SourceResult(nil), m.last.Sources...)
	return &out
}

// Wait blocks until background cycles have returned
func (m *RunManager) Wait() {
	m.wg.Wait()
}
