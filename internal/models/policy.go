package models

import (
	"errors"
	"fmt"
	"time"
)

// Policy is the frozen set of thresholds and switches consumed by one cycle.
type Policy struct {
	ActiveTimespan          time.Duration `yaml:"activeTimespan"`
	ActivePointResolution   int           `yaml:"activePointResolution"`
	BaselineTimespan        time.Duration `yaml:"baselineTimespan"`
	BaselinePointResolution int           `yaml:"baselinePointResolution"`

	ActiveInvocationsThreshold   int64   `yaml:"activeInvocationsThreshold"`
	BaselineInvocationsThreshold int64   `yaml:"baselineInvocationsThreshold"`
	MinDeltaThresholdMs          float64 `yaml:"minDeltaThresholdMs"`
	MinDeltaThresholdPercentage  float64 `yaml:"minDeltaThresholdPercentage"`
	OverAvgSlowingPercentage     float64 `yaml:"overAvgSlowingPercentage"`
	OverAvgCriticalPercentage    float64 `yaml:"overAvgCriticalPercentage"`
	StdDevFactor                 float64 `yaml:"stdDevFactor"`

	TimerStdDevFactor     float64 `yaml:"timerStdDevFactor"`
	MinTimerThresholdMs   int64   `yaml:"minTimerThresholdMs"`
	TimerAlwaysOn         bool    `yaml:"timerAlwaysOn"`
	MonitorOKTransactions bool    `yaml:"monitorOkTransactions"`
}

// DefaultPolicy returns the policy defaults applied before user overrides.
func DefaultPolicy() Policy {
	return Policy{
		ActiveTimespan:               time.Hour,
		ActivePointResolution:        12,
		BaselineTimespan:             7 * 24 * time.Hour,
		BaselinePointResolution:      24,
		ActiveInvocationsThreshold:   50,
		BaselineInvocationsThreshold: 50,
		MinDeltaThresholdMs:          5,
		MinDeltaThresholdPercentage:  0.20,
		OverAvgSlowingPercentage:     0.30,
		OverAvgCriticalPercentage:    0.60,
		StdDevFactor:                 1.5,
		TimerStdDevFactor:            1.0,
		MinTimerThresholdMs:          50,
	}
}

// Validate reports every out-of-range field.
func (p Policy) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(p.ActiveTimespan <= 0, "'activeTimespan' must be positive")
	check(p.BaselineTimespan <= 0, "'baselineTimespan' must be positive")
	check(p.BaselineTimespan > 0 && p.BaselineTimespan <= p.ActiveTimespan,
		"'baselineTimespan' must be larger than 'activeTimespan'")
	check(p.ActivePointResolution <= 0, "'activePointResolution' must be positive")
	check(p.BaselinePointResolution <= 0, "'baselinePointResolution' must be positive")
	check(p.ActiveInvocationsThreshold <= 0, "'activeInvocationsThreshold' must be positive")
	check(p.BaselineInvocationsThreshold <= 0, "'baselineInvocationsThreshold' must be positive")
	check(p.MinDeltaThresholdMs < 0, "'minDeltaThresholdMs' can't be negative")
	check(p.MinDeltaThresholdPercentage < 0, "'minDeltaThresholdPercentage' can't be negative")
	check(p.OverAvgSlowingPercentage <= 0 || p.OverAvgSlowingPercentage > 1,
		"'overAvgSlowingPercentage' must be in (0, 1], got %v", p.OverAvgSlowingPercentage)
	check(p.OverAvgCriticalPercentage <= 0 || p.OverAvgCriticalPercentage > 1,
		"'overAvgCriticalPercentage' must be in (0, 1], got %v", p.OverAvgCriticalPercentage)
	check(p.OverAvgCriticalPercentage <= p.OverAvgSlowingPercentage,
		"'overAvgCriticalPercentage' must be larger than 'overAvgSlowingPercentage'")
	check(p.StdDevFactor <= 0, "'stdDevFactor' must be positive")
	check(p.TimerStdDevFactor < 0, "'timerStdDevFactor' can't be negative")
	check(p.MinTimerThresholdMs <= 0, "'minTimerThresholdMs' must be positive")

	return errors.Join(errs...)
}
