package models

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrSourceBlocked is returned when a source answers with a bot or login wall
	ErrSourceBlocked = errors.New("source blocked")
	// ErrNoContent is returned when a strategy ran but produced nothing usable
	ErrNoContent = errors.New("no content")
	// ErrMissingConfig is returned when a feature lacks required external configuration
	ErrMissingConfig = errors.New("missing configuration")
	// ErrCycleRunning is returned when an ingestion cycle is already in progress
	ErrCycleRunning = errors.New("ingestion cycle already running")
	// ErrValueTooLong is returned when a field does not fit its column
	ErrValueTooLong = errors.New("value too long")
)
