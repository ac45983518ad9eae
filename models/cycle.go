package models

import (
	"time"
)

// CycleStatus represents the status of an ingestion cycle
type CycleStatus string

const (
	CycleStatusRunning   CycleStatus = "running"
	CycleStatusCompleted CycleStatus = "completed"
	CycleStatusFailed    CycleStatus = "failed"
)

// SourceResult summarises what one source contributed to a cycle
type SourceResult struct {
	Source   string        `json:"source"`
	Offers   int           `json:"offers"`
	Dropped  int           `json:"dropped"`
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Skipped  bool          `json:"skipped"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CycleRun records one invocation of the ingestion pipeline
type CycleRun struct {
	ID              string         `json:"id"`
	Trigger         string         `json:"trigger"`
	Status          CycleStatus    `json:"status"`
	Sources         []SourceResult `json:"sources"`
	MappingsCreated int            `json:"mappings_created"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// NewCycleRun creates a running cycle record
func NewCycleRun(id, trigger string) *CycleRun {
	return &CycleRun{
		ID:        id,
		Trigger:   trigger,
		Status:    CycleStatusRunning,
		StartedAt: time.Now(),
	}
}

// Complete marks the cycle as completed
func (c *CycleRun) Complete() {
	c.Status = CycleStatusCompleted
	now := time.Now()
	c.CompletedAt = &now
}

// Fail marks the cycle as failed with error
func (c *CycleRun) Fail(err error) {
	c.Status = CycleStatusFailed
	if err != nil {
		c.Error = err.Error()
	}
	now := time.Now()
	c.CompletedAt = &now
}

// IsCompleted returns true if the cycle is in a final state
func (c *CycleRun) IsCompleted() bool {
	return c.Status == CycleStatusCompleted || c.Status == CycleStatusFailed
}

// Duration returns the duration of the cycle
func (c *CycleRun) Duration() time.Duration {
	endTime := time.Now()
	if c.CompletedAt != nil {
		endTime = *c.CompletedAt
	}
	return endTime.Sub(c.StartedAt)
}

// TotalOffers returns the number of offers harvested across all sources
func (c *CycleRun) TotalOffers() int {
	total := 0
	for _, s := range c.Sources {
		total += s.Offers
	}
	return total
}

// FailedSources returns the names of sources that errored this cycle
func (c *CycleRun) FailedSources() []string {
	var failed []string
	for _, s := range c.Sources {
		if s.Error != "" && !s.Skipped {
			failed = append(failed, s.Source)
		}
	}
	return failed
}
