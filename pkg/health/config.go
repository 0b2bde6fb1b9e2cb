package health

import (
	"fmt"
	"time"
)

// AlertThreshold sets the utilization bounds for health classification.
// Warning marks the onset of Degraded, Critical the onset of Unhealthy.
type AlertThreshold struct {
	CPUWarning     float64 `yaml:"cpu_warning" validate:"gte=0,lte=1"`
	CPUCritical    float64 `yaml:"cpu_critical" validate:"gte=0,lte=1"`
	MemoryWarning  float64 `yaml:"memory_warning" validate:"gte=0,lte=1"`
	MemoryCritical float64 `yaml:"memory_critical" validate:"gte=0,lte=1"`
	QueueWarning   int     `yaml:"queue_warning" validate:"gte=0"`
	QueueCritical  int     `yaml:"queue_critical" validate:"gte=0"`
}

// Config controls the health monitor's sweep cadence and classification.
type Config struct {
	// CheckInterval is the period between monitoring sweeps. A node whose
	// heartbeat is older than three intervals is classified Unhealthy.
	CheckInterval time.Duration

	// ProbeTimeout bounds each remote probe round-trip.
	ProbeTimeout time.Duration

	// Thresholds hold the warning and critical classification bounds.
	Thresholds AlertThreshold

	// MinUnhealthyForCritical is the unhealthy-node count at which a
	// cluster-wide critical alert is raised.
	MinUnhealthyForCritical int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 10 * time.Second,
		ProbeTimeout:  2 * time.Second,
		Thresholds: AlertThreshold{
			CPUWarning:     0.75,
			CPUCritical:    0.90,
			MemoryWarning:  0.80,
			MemoryCritical: 0.95,
			QueueWarning:   100,
			QueueCritical:  500,
		},
		MinUnhealthyForCritical: 2,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: check interval must be positive", ErrInvalidThreshold)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("%w: probe timeout must be positive", ErrInvalidThreshold)
	}
	t := c.Thresholds
	if t.CPUWarning > t.CPUCritical {
		return fmt.Errorf("%w: cpu warning above critical", ErrInvalidThreshold)
	}
	if t.MemoryWarning > t.MemoryCritical {
		return fmt.Errorf("%w: memory warning above critical", ErrInvalidThreshold)
	}
	if t.QueueWarning > t.QueueCritical {
		return fmt.Errorf("%w: queue warning above critical", ErrInvalidThreshold)
	}
	if c.MinUnhealthyForCritical < 1 {
		return fmt.Errorf("%w: min unhealthy for critical must be at least 1", ErrInvalidThreshold)
	}
	return nil
}
