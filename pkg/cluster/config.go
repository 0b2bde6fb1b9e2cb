package cluster

// Config defines the coordinator's view of the local node and quorum policy.
type Config struct {
	// Local node identity
	LocalID string
	Address string
	Port    int
	Roles   []string

	// MinClusterSize is the reachable member count required for quorum
	MinClusterSize int
	// MaxClusterSize caps admissions; 0 means unbounded
	MaxClusterSize int

	// CommandQueueSize bounds the event loop's inbox
	CommandQueueSize int
}

// DefaultConfig returns a safe single-node default configuration.
func DefaultConfig() Config {
	return Config{
		MinClusterSize:   1,
		MaxClusterSize:   0,
		CommandQueueSize: 256,
	}
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.LocalID == "" {
		return ErrInvalidNodeID
	}
	if c.Address == "" {
		return ErrInvalidNodeAddress
	}
	if c.MinClusterSize < 1 {
		return ErrInvalidClusterSize
	}
	return nil
}
