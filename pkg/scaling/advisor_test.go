package scaling

import (
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WindowSize = 3
	cfg.ScaleUpQueueThreshold = 10
	cfg.CooldownPeriod = time.Hour
	return cfg
}

func newTestAdvisor(t *testing.T, cfg Config) *Advisor {
	t.Helper()
	a, err := NewAdvisor(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewAdvisor failed: %v", err)
	}
	return a
}

func fillQueueWindow(a *Advisor, depths ...int) {
	for _, depth := range depths {
		a.Observe(ClusterMetrics{QueueDepth: depth, CPUUtilization: 0.5})
	}
}

func TestRecommendNoSamples(t *testing.T) {
	a := newTestAdvisor(t, testConfig())
	rec := a.Recommend()
	if rec.Action != ActionNone {
		t.Errorf("Expected no action with empty window, got %s", rec.Action)
	}
}

func TestScaleUpSustainedQueue(t *testing.T) {
	a := newTestAdvisor(t, testConfig())
	fillQueueWindow(a, 20, 25, 30)

	rec := a.Recommend()
	if rec.Action != ActionScaleUp {
		t.Fatalf("Expected scale-up, got %s (%s)", rec.Action, rec.Reason)
	}
	if rec.NodeCountChange != 1 {
		t.Errorf("Expected node count change +1, got %d", rec.NodeCountChange)
	}
	if rec.Confidence <= 0 || rec.Confidence > 1 {
		t.Errorf("Confidence out of range: %v", rec.Confidence)
	}
	if rec.Urgency != UrgencyHigh {
		t.Errorf("Average queue 25 is over twice the threshold, expected high urgency, got %s", rec.Urgency)
	}
}

func TestScaleUpRequiresSustainedWindow(t *testing.T) {
	a := newTestAdvisor(t, testConfig())

	// One sample below the threshold breaks the streak
	fillQueueWindow(a, 20, 5, 30)
	if rec := a.Recommend(); rec.Action == ActionScaleUp {
		t.Errorf("Scale-up must require the whole window above threshold")
	}

	// A partially filled window never triggers
	b := newTestAdvisor(t, testConfig())
	fillQueueWindow(b, 20, 25)
	if rec := b.Recommend(); rec.Action == ActionScaleUp {
		t.Errorf("Scale-up must wait for a full window")
	}
}

func TestConfidenceMonotonicInExcess(t *testing.T) {
	mild := newTestAdvisor(t, testConfig())
	fillQueueWindow(mild, 12, 12, 12)
	severe := newTestAdvisor(t, testConfig())
	fillQueueWindow(severe, 18, 18, 18)

	mildRec := mild.Recommend()
	severeRec := severe.Recommend()
	if mildRec.Action != ActionScaleUp || severeRec.Action != ActionScaleUp {
		t.Fatalf("Expected both to scale up, got %s / %s", mildRec.Action, severeRec.Action)
	}
	if severeRec.Confidence <= mildRec.Confidence {
		t.Errorf("Confidence must grow with the excess: mild=%v severe=%v",
			mildRec.Confidence, severeRec.Confidence)
	}
}

func TestRebalanceOnUtilizationSpread(t *testing.T) {
	cfg := testConfig()
	cfg.RebalanceUtilizationSpread = 0.30
	a := newTestAdvisor(t, cfg)

	a.Observe(ClusterMetrics{
		CPUUtilization: 0.5,
		QueueDepth:     1,
		NodeUtilization: map[string]float64{
			"node-1": 0.90,
			"node-2": 0.20,
			"node-3": 0.45,
		},
	})

	rec := a.Recommend()
	if rec.Action != ActionRebalance {
		t.Fatalf("Expected rebalance, got %s (%s)", rec.Action, rec.Reason)
	}
	if rec.NodeCountChange != 0 {
		t.Errorf("Rebalance must not change node count, got %d", rec.NodeCountChange)
	}
}

func TestScaleDownWhenIdle(t *testing.T) {
	cfg := testConfig()
	cfg.ScaleDownIdleThreshold = 20 * time.Millisecond
	a := newTestAdvisor(t, cfg)

	a.Observe(ClusterMetrics{QueueDepth: 0, CPUUtilization: 0.02})
	time.Sleep(50 * time.Millisecond)

	rec := a.Recommend()
	if rec.Action != ActionScaleDown {
		t.Fatalf("Expected scale-down, got %s (%s)", rec.Action, rec.Reason)
	}
	if rec.NodeCountChange != -1 {
		t.Errorf("Expected node count change -1, got %d", rec.NodeCountChange)
	}
	if rec.Urgency != UrgencyLow {
		t.Errorf("Idle scale-down should be low urgency, got %s", rec.Urgency)
	}
}

func TestBusySampleResetsIdleClock(t *testing.T) {
	cfg := testConfig()
	cfg.ScaleDownIdleThreshold = 40 * time.Millisecond
	a := newTestAdvisor(t, cfg)

	time.Sleep(20 * time.Millisecond)
	a.Observe(ClusterMetrics{QueueDepth: 3, CPUUtilization: 0.5})
	time.Sleep(20 * time.Millisecond)

	if rec := a.Recommend(); rec.Action == ActionScaleDown {
		t.Error("Recent busy sample must reset the idle clock")
	}
}

func TestCooldownCoalescesToNoAction(t *testing.T) {
	a := newTestAdvisor(t, testConfig())
	fillQueueWindow(a, 20, 25, 30)

	first := a.Recommend()
	if first.Action != ActionScaleUp {
		t.Fatalf("Expected scale-up, got %s", first.Action)
	}

	// Still triggering, but inside the cooldown window
	second := a.Recommend()
	if second.Action != ActionNone {
		t.Fatalf("Expected no-action inside cooldown, got %s", second.Action)
	}
	if second.Reason != ReasonCooldownActive {
		t.Errorf("Coalesced recommendation must say so, got %q", second.Reason)
	}
}

// TestCooldownWindowInvariant drives repeated evaluations against a
// persistently triggering window and checks that no two non-trivial
// recommendations land closer together than the cooldown period.
func TestCooldownWindowInvariant(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownPeriod = 60 * time.Millisecond
	a := newTestAdvisor(t, cfg)
	fillQueueWindow(a, 20, 25, 30)

	var emitted []time.Time
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if rec := a.Recommend(); rec.Action != ActionNone {
			emitted = append(emitted, rec.GeneratedAt)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(emitted) < 2 {
		t.Fatalf("Expected multiple recommendations across the run, got %d", len(emitted))
	}
	for i := 1; i < len(emitted); i++ {
		if gap := emitted[i].Sub(emitted[i-1]); gap < cfg.CooldownPeriod {
			t.Errorf("Recommendations %d and %d only %s apart, cooldown is %s",
				i-1, i, gap, cfg.CooldownPeriod)
		}
	}
}
