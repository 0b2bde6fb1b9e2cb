package scaling

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when advisor configuration fails validation.
var ErrInvalidConfig = errors.New("invalid scaling configuration")

// Config controls the advisor's window, triggers and cooldown.
type Config struct {
	// WindowSize is how many recent samples a trigger must hold across
	// before it is considered sustained.
	WindowSize int

	// AnalysisInterval is the period between recommendations when the
	// advisor runs on its own timer.
	AnalysisInterval time.Duration

	// ScaleUpQueueThreshold is the request-queue depth above which a
	// sustained window triggers a scale-up.
	ScaleUpQueueThreshold int

	// ScaleDownIdleThreshold is how long the cluster must stay idle before
	// a scale-down is recommended.
	ScaleDownIdleThreshold time.Duration

	// IdleUtilizationFloor is the CPU utilization below which a sample
	// counts as idle, provided the queue is empty.
	IdleUtilizationFloor float64

	// RebalanceUtilizationSpread is the max-min per-node utilization gap
	// that triggers a rebalance.
	RebalanceUtilizationSpread float64

	// CooldownPeriod is the minimum gap between non-trivial recommendations.
	CooldownPeriod time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:                 6,
		AnalysisInterval:           30 * time.Second,
		ScaleUpQueueThreshold:      50,
		ScaleDownIdleThreshold:     10 * time.Minute,
		IdleUtilizationFloor:       0.10,
		RebalanceUtilizationSpread: 0.40,
		CooldownPeriod:             5 * time.Minute,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: window size must be at least 1", ErrInvalidConfig)
	}
	if c.AnalysisInterval <= 0 {
		return fmt.Errorf("%w: analysis interval must be positive", ErrInvalidConfig)
	}
	if c.ScaleUpQueueThreshold < 1 {
		return fmt.Errorf("%w: scale-up queue threshold must be at least 1", ErrInvalidConfig)
	}
	if c.ScaleDownIdleThreshold <= 0 {
		return fmt.Errorf("%w: scale-down idle threshold must be positive", ErrInvalidConfig)
	}
	if c.IdleUtilizationFloor < 0 || c.IdleUtilizationFloor > 1 {
		return fmt.Errorf("%w: idle utilization floor must be in [0,1]", ErrInvalidConfig)
	}
	if c.RebalanceUtilizationSpread <= 0 || c.RebalanceUtilizationSpread > 1 {
		return fmt.Errorf("%w: rebalance spread must be in (0,1]", ErrInvalidConfig)
	}
	if c.CooldownPeriod <= 0 {
		return fmt.Errorf("%w: cooldown period must be positive", ErrInvalidConfig)
	}
	return nil
}
