// Package config loads and validates the node's YAML configuration.
// Intervals are expressed in milliseconds and converted to durations for
// the packages that consume them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/swarmcoord/swarmcoord/pkg/health"
	"github.com/swarmcoord/swarmcoord/pkg/partition"
	"github.com/swarmcoord/swarmcoord/pkg/scaling"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// NodeConfig identifies the local node.
type NodeConfig struct {
	ID      string   `yaml:"id" validate:"required"`
	Address string   `yaml:"address" validate:"required"`
	Port    int      `yaml:"port" validate:"gte=1,lte=65535"`
	Roles   []string `yaml:"roles"`
}

// SeedNode is a peer contacted at startup.
type SeedNode struct {
	ID      string `yaml:"id" validate:"required"`
	Address string `yaml:"address" validate:"required"`
}

// ClusterConfig bounds membership.
type ClusterConfig struct {
	SeedNodes      []SeedNode `yaml:"seed_nodes" validate:"dive"`
	MinClusterSize int        `yaml:"min_cluster_size" validate:"gte=1"`
	MaxClusterSize int        `yaml:"max_cluster_size" validate:"gte=0"`
}

// TransportConfig controls the wire transport.
type TransportConfig struct {
	ListenAddr     string `yaml:"listen_addr" validate:"required"`
	RecvDeadlineMs int    `yaml:"recv_deadline_ms" validate:"gte=0"`
	SendDeadlineMs int    `yaml:"send_deadline_ms" validate:"gte=0"`
}

// HealthConfig is the YAML shape of the health monitor's settings.
type HealthConfig struct {
	CheckIntervalMs         int                   `yaml:"check_interval_ms" validate:"gte=1"`
	ProbeTimeoutMs          int                   `yaml:"probe_timeout_ms" validate:"gte=1"`
	Thresholds              health.AlertThreshold `yaml:"thresholds"`
	MinUnhealthyForCritical int                   `yaml:"min_unhealthy_for_critical" validate:"gte=1"`
}

// ToMonitor converts to the health package's configuration.
func (c HealthConfig) ToMonitor() health.Config {
	return health.Config{
		CheckInterval:           time.Duration(c.CheckIntervalMs) * time.Millisecond,
		ProbeTimeout:            time.Duration(c.ProbeTimeoutMs) * time.Millisecond,
		Thresholds:              c.Thresholds,
		MinUnhealthyForCritical: c.MinUnhealthyForCritical,
	}
}

// ScalingConfig is the YAML shape of the advisor's settings.
type ScalingConfig struct {
	WindowSize                 int     `yaml:"window_size" validate:"gte=1"`
	AnalysisIntervalMs         int     `yaml:"analysis_interval_ms" validate:"gte=1"`
	ScaleUpQueueThreshold      int     `yaml:"scale_up_queue_threshold" validate:"gte=1"`
	ScaleDownIdleThresholdMs   int     `yaml:"scale_down_idle_threshold_ms" validate:"gte=1"`
	IdleUtilizationFloor       float64 `yaml:"idle_utilization_floor" validate:"gte=0,lte=1"`
	RebalanceUtilizationSpread float64 `yaml:"rebalance_utilization_spread" validate:"gt=0,lte=1"`
	CooldownPeriodMs           int     `yaml:"cooldown_period_ms" validate:"gte=1"`
}

// ToAdvisor converts to the scaling package's configuration.
func (c ScalingConfig) ToAdvisor() scaling.Config {
	return scaling.Config{
		WindowSize:                 c.WindowSize,
		AnalysisInterval:           time.Duration(c.AnalysisIntervalMs) * time.Millisecond,
		ScaleUpQueueThreshold:      c.ScaleUpQueueThreshold,
		ScaleDownIdleThreshold:     time.Duration(c.ScaleDownIdleThresholdMs) * time.Millisecond,
		IdleUtilizationFloor:       c.IdleUtilizationFloor,
		RebalanceUtilizationSpread: c.RebalanceUtilizationSpread,
		CooldownPeriod:             time.Duration(c.CooldownPeriodMs) * time.Millisecond,
	}
}

// PartitionConfig selects the split-brain policy.
type PartitionConfig struct {
	Strategy string `yaml:"strategy" validate:"oneof=keep-majority keep-oldest keep-all stop-all"`
}

// HistoryConfig selects where metrics samples are kept. An empty DSN keeps
// samples in memory only.
type HistoryConfig struct {
	PostgresDSN    string `yaml:"postgres_dsn"`
	MemoryCapacity int    `yaml:"memory_capacity" validate:"gte=0"`
}

// Config is the full configuration surface of one coordination node.
type Config struct {
	Node        NodeConfig      `yaml:"node"`
	Cluster     ClusterConfig   `yaml:"cluster"`
	Transport   TransportConfig `yaml:"transport"`
	Health      HealthConfig    `yaml:"health"`
	Scaling     ScalingConfig   `yaml:"scaling"`
	Partition   PartitionConfig `yaml:"partition"`
	History     HistoryConfig   `yaml:"history"`
	LogLevel    string          `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	MetricsAddr string          `yaml:"metrics_addr"`
}

// Default returns the documented defaults. Node identity has no default and
// must be supplied.
func Default() Config {
	healthDefaults := health.DefaultConfig()
	scalingDefaults := scaling.DefaultConfig()
	return Config{
		Cluster: ClusterConfig{
			MinClusterSize: 1,
		},
		Transport: TransportConfig{
			ListenAddr:     "tcp://0.0.0.0:7946",
			RecvDeadlineMs: 5000,
			SendDeadlineMs: 5000,
		},
		Health: HealthConfig{
			CheckIntervalMs:         int(healthDefaults.CheckInterval / time.Millisecond),
			ProbeTimeoutMs:          int(healthDefaults.ProbeTimeout / time.Millisecond),
			Thresholds:              healthDefaults.Thresholds,
			MinUnhealthyForCritical: healthDefaults.MinUnhealthyForCritical,
		},
		Scaling: ScalingConfig{
			WindowSize:                 scalingDefaults.WindowSize,
			AnalysisIntervalMs:         int(scalingDefaults.AnalysisInterval / time.Millisecond),
			ScaleUpQueueThreshold:      scalingDefaults.ScaleUpQueueThreshold,
			ScaleDownIdleThresholdMs:   int(scalingDefaults.ScaleDownIdleThreshold / time.Millisecond),
			IdleUtilizationFloor:       scalingDefaults.IdleUtilizationFloor,
			RebalanceUtilizationSpread: scalingDefaults.RebalanceUtilizationSpread,
			CooldownPeriodMs:           int(scalingDefaults.CooldownPeriod / time.Millisecond),
		},
		Partition: PartitionConfig{
			Strategy: partition.KeepMajority.String(),
		},
		History: HistoryConfig{
			MemoryCapacity: 4096,
		},
		LogLevel:    "info",
		MetricsAddr: ":9464",
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags plus the cross-field constraints the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("%w: field %s failed %q validation",
				ErrInvalidConfig, first.Namespace(), first.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Cluster.MaxClusterSize > 0 && c.Cluster.MaxClusterSize < c.Cluster.MinClusterSize {
		return fmt.Errorf("%w: max cluster size below min cluster size", ErrInvalidConfig)
	}
	if err := c.Health.ToMonitor().Validate(); err != nil {
		return fmt.Errorf("%w: health: %v", ErrInvalidConfig, err)
	}
	if err := c.Scaling.ToAdvisor().Validate(); err != nil {
		return fmt.Errorf("%w: scaling: %v", ErrInvalidConfig, err)
	}
	if _, err := partition.ParseStrategy(c.Partition.Strategy); err != nil {
		return fmt.Errorf("%w: partition: %v", ErrInvalidConfig, err)
	}
	for _, seed := range c.Cluster.SeedNodes {
		if seed.ID == c.Node.ID {
			return fmt.Errorf("%w: seed list contains the local node %s", ErrInvalidConfig, seed.ID)
		}
	}
	return nil
}

// PartitionStrategy returns the parsed strategy. Validate must have passed.
func (c *Config) PartitionStrategy() partition.Strategy {
	strategy, _ := partition.ParseStrategy(c.Partition.Strategy)
	return strategy
}
