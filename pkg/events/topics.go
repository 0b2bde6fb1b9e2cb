package events

// Topics carried by the coordination event bus. Payload types are owned by
// the publishing packages (cluster, health, scaling, partition).
const (
	// TopicMembership carries cluster.MembershipChanged events
	TopicMembership = "membership"
	// TopicHealth carries health.NodeHealthChanged events
	TopicHealth = "health"
	// TopicScaling carries scaling.ScalingRecommended events
	TopicScaling = "scaling"
	// TopicPartition carries partition.NetworkPartitionDetected events
	TopicPartition = "partition"
	// TopicAlert carries health.CriticalAlertRaised events
	TopicAlert = "alert"
)
