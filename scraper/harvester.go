package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kpc/freshness"
	"kpc/logger"
	"kpc/models"
)

// Harvester extracts raw offers from one source. Chain-specific assumptions
// stay inside the implementation.
type Harvester interface {
	// Slug is the store slug the offers belong to
	Slug() string
	Harvest(ctx context.Context, hc *Context) ([]models.RawOffer, error)
}

// Context carries the per-cycle state a harvester may use. A new one is
// created for every cycle so nothing leaks between runs.
type Context struct {
	RunID  string
	City   string
	Now    time.Time
	Logger *logger.Logger

	mu   sync.Mutex
	seen map[string]*freshness.Seen
}

// NewContext creates the state for one cycle stamped with the cycle clock. A
// zero now means the current time.
func NewContext(runID, city string, now time.Time, log *logger.Logger) *Context {
	if log == nil {
		log = logger.Nop()
	}
	if now.IsZero() {
		now = time.Now()
	}
	return &Context{
		RunID:  runID,
		City:   city,
		Now:    now.UTC(),
		Logger: log,
		seen:   make(map[string]*freshness.Seen),
	}
}

// Seen returns the dedup set of a source for this cycle
func (c *Context) Seen(slug string) *freshness.Seen {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]*freshness.Seen)
	}
	s, ok := c.seen[slug]
	if !ok {
		s = freshness.NewSeen(nil)
		c.seen[slug] = s
	}
	return s
}

// Strategy is one way of obtaining results, tried as part of a chain
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) ([]T, error)
}

// FirstOf runs strategies in order and returns the first non-empty result.
// Failed or empty strategies are logged and the next one is tried. When all
// of them come back empty the error wraps models.ErrNoContent together with
// the failures seen on the way.
func FirstOf[T any](ctx context.Context, log *logger.Logger, strategies ...Strategy[T]) ([]T, string, error) {
	if log == nil {
		log = logger.Nop()
	}
	var errs []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		out, err := s.Run(ctx)
		if err != nil {
			log.Debug("Strategy failed", "strategy", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		if len(out) == 0 {
			log.Debug("Strategy came back empty", "strategy", s.Name)
			continue
		}
		return out, s.Name, nil
	}
	return nil, "", errors.Join(append([]error{models.ErrNoContent}, errs...)...)
}
