package config

import (
	"fmt"
	"time"
)

// GCConfig defines the parameters for the background active expiration
type GCConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`          // how often to run the background check
	SamplesPerCheck int           `mapstructure:"samples_per_check"` // how many keys to check per shard and database
	MatchThreshold  float64       `mapstructure:"match_threshold"`   // 0.0-1.0. if expired/scanned > threshold, repeat immediately
	MaxRounds       int           `mapstructure:"max_rounds"`        // repeats allowed within one tick
}

func DefaultGCConfig() GCConfig {
	return GCConfig{
		Enabled:         true,
		Interval:        100 * time.Millisecond,
		SamplesPerCheck: 20,
		MatchThreshold:  0.25,
		MaxRounds:       16,
	}
}

func (c GCConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return fmt.Errorf("gc.interval must be positive, got %s", c.Interval)
	}
	if c.SamplesPerCheck <= 0 {
		return fmt.Errorf("gc.samples_per_check must be positive, got %d", c.SamplesPerCheck)
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("gc.match_threshold must be within [0, 1], got %v", c.MatchThreshold)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("gc.max_rounds must be at least 1, got %d", c.MaxRounds)
	}
	return nil
}
