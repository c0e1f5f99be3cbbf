package model

import "time"

// Shared defaults used by both the service and TUI binaries.
const (
	DefaultBackendURL     = "http://localhost:9000"
	DefaultPollInterval   = 1 * time.Second
	DefaultUpdateInterval = 500 * time.Millisecond
	DefaultDialTimeout    = 10 * time.Second
	DefaultSeriesWindow   = 60
	DefaultFeedWindow     = 1000

	// StatsInterval is the fixed aggregation cadence of rate samples.
	StatsInterval = time.Second

	// ThrottleStepMS and ThrottleMaxMS bound the interval presets offered by
	// interactive front ends. The core accepts any non-negative interval.
	ThrottleStepMS = 500
	ThrottleMaxMS  = 5000

	// MaxColors is the size of the per-query colour palette.
	MaxColors = 8
)
