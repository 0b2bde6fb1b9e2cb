package scaling

import (
	"sync"
	"time"

	"github.com/swarmcoord/swarmcoord/pkg/events"
	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
)

// ReasonCooldownActive marks a recommendation coalesced into no-action
// because a previous one was emitted inside the cooldown window.
const ReasonCooldownActive = "cooldown-active"

// Advisor turns a rolling window of cluster metrics into scaling
// recommendations. Triggers must hold across the whole window; non-trivial
// recommendations are rate-limited by a cooldown and coalesced, not dropped.
type Advisor struct {
	cfg Config

	mu          sync.Mutex
	window      []ClusterMetrics
	head        int
	size        int
	lastBusy    time.Time
	lastEmitted time.Time

	bus     *events.Bus
	logger  logging.Logger
	metrics *metrics.Registry

	runningMu sync.Mutex
	running   bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewAdvisor creates an advisor. bus may be nil when recommendations are
// only pulled, never published.
func NewAdvisor(cfg Config, bus *events.Bus, reg *metrics.Registry, logger logging.Logger) (*Advisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Advisor{
		cfg:      cfg,
		window:   make([]ClusterMetrics, cfg.WindowSize),
		lastBusy: time.Now(),
		bus:      bus,
		logger:   logger.With(logging.Component("scaling")),
		metrics:  reg,
		stopCh:   make(chan struct{}),
	}, nil
}

// Observe appends one sample to the rolling window.
func (a *Advisor) Observe(sample ClusterMetrics) {
	if sample.At.IsZero() {
		sample.At = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.window[a.head] = sample
	a.head = (a.head + 1) % len(a.window)
	if a.size < len(a.window) {
		a.size++
	}
	if sample.QueueDepth > 0 || sample.CPUUtilization > a.cfg.IdleUtilizationFloor {
		a.lastBusy = sample.At
	}
}

// Start runs periodic analysis, feeding the window from source and
// publishing each verdict.
func (a *Advisor) Start(source func() ClusterMetrics) error {
	a.runningMu.Lock()
	defer a.runningMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.cfg.AnalysisInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if source != nil {
					a.Observe(source())
				}
				a.Recommend()
			case <-a.stopCh:
				return
			}
		}
	}()
	a.logger.Info("scaling advisor started",
		logging.Duration("interval", a.cfg.AnalysisInterval))
	return nil
}

// Stop halts periodic analysis.
func (a *Advisor) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

// Recommend evaluates the current window and returns a verdict. A trigger
// firing inside the cooldown window yields no-action with a cooldown reason.
func (a *Advisor) Recommend() Recommendation {
	now := time.Now()

	a.mu.Lock()
	rec := a.evaluate(now)
	if rec.Action != ActionNone {
		if now.Sub(a.lastEmitted) < a.cfg.CooldownPeriod {
			coalesced := Recommendation{
				Action:      ActionNone,
				Reason:      ReasonCooldownActive,
				GeneratedAt: now,
			}
			a.mu.Unlock()
			if a.metrics != nil {
				a.metrics.CooldownCoalescedTotal.Inc()
			}
			a.publish(coalesced)
			return coalesced
		}
		a.lastEmitted = now
	}
	a.mu.Unlock()

	a.publish(rec)
	return rec
}

// evaluate applies the triggers in priority order: sustained queue pressure,
// utilization spread, then idleness. Caller holds the lock.
func (a *Advisor) evaluate(now time.Time) Recommendation {
	rec := Recommendation{Action: ActionNone, Reason: "within thresholds", GeneratedAt: now}
	if a.size == 0 {
		rec.Reason = "no samples observed"
		return rec
	}

	if a.size == len(a.window) {
		sustained := true
		queueSum := 0
		for _, sample := range a.window {
			if sample.QueueDepth <= a.cfg.ScaleUpQueueThreshold {
				sustained = false
				break
			}
			queueSum += sample.QueueDepth
		}
		if sustained {
			avgQueue := float64(queueSum) / float64(a.size)
			threshold := float64(a.cfg.ScaleUpQueueThreshold)
			rec.Action = ActionScaleUp
			rec.NodeCountChange = 1
			rec.Reason = "request queue above threshold for the full window"
			rec.Confidence = clamp01((avgQueue - threshold) / threshold)
			rec.Urgency = UrgencyNormal
			if avgQueue >= 2*threshold {
				rec.Urgency = UrgencyHigh
			}
			rec.ExpectedImpact = ExpectedImpact{
				QueueDelta:       -int(avgQueue - threshold),
				UtilizationDelta: -a.latest().CPUUtilization / float64(a.size),
			}
			return rec
		}
	}

	if spread, ok := a.utilizationSpread(); ok && spread > a.cfg.RebalanceUtilizationSpread {
		rec.Action = ActionRebalance
		rec.NodeCountChange = 0
		rec.Reason = "per-node utilization spread above configured limit"
		rec.Confidence = clamp01((spread - a.cfg.RebalanceUtilizationSpread) / a.cfg.RebalanceUtilizationSpread)
		rec.Urgency = UrgencyNormal
		rec.ExpectedImpact = ExpectedImpact{UtilizationDelta: -spread / 2}
		return rec
	}

	if idle := now.Sub(a.lastBusy); idle > a.cfg.ScaleDownIdleThreshold {
		rec.Action = ActionScaleDown
		rec.NodeCountChange = -1
		rec.Reason = "cluster idle beyond scale-down threshold"
		rec.Confidence = clamp01(float64(idle-a.cfg.ScaleDownIdleThreshold) / float64(a.cfg.ScaleDownIdleThreshold))
		rec.Urgency = UrgencyLow
		rec.ExpectedImpact = ExpectedImpact{UtilizationDelta: a.latest().CPUUtilization}
		return rec
	}

	return rec
}

// utilizationSpread computes max-min per-node utilization from the most
// recent sample. Caller holds the lock.
func (a *Advisor) utilizationSpread() (float64, bool) {
	latest := a.latest()
	if len(latest.NodeUtilization) < 2 {
		return 0, false
	}
	first := true
	var min, max float64
	for _, u := range latest.NodeUtilization {
		if first {
			min, max = u, u
			first = false
			continue
		}
		if u < min {
			min = u
		}
		if u > max {
			max = u
		}
	}
	return max - min, true
}

// latest returns the most recently observed sample. Caller holds the lock.
func (a *Advisor) latest() ClusterMetrics {
	if a.size == 0 {
		return ClusterMetrics{}
	}
	return a.window[(a.head-1+len(a.window))%len(a.window)]
}

func (a *Advisor) publish(rec Recommendation) {
	if a.metrics != nil {
		a.metrics.RecommendationsTotal.WithLabelValues(rec.Action.String()).Inc()
		a.metrics.RecommendationConfidence.Set(rec.Confidence)
	}
	if rec.Action != ActionNone {
		a.logger.Info("scaling recommended",
			logging.String("action", rec.Action.String()),
			logging.Int("node_count_change", rec.NodeCountChange),
			logging.Float64("confidence", rec.Confidence),
			logging.String("reason", rec.Reason))
	}
	if a.bus != nil {
		a.bus.Publish(events.TopicScaling, ScalingRecommended{
			Recommendation: rec,
			At:             rec.GeneratedAt,
		})
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
