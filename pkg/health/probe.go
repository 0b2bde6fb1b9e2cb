package health

import (
	"runtime"
	"sync"
)

// LocalProbe measures the local node directly. Memory comes from the Go
// runtime; CPU utilization and queue depth are supplied by the host
// application through samplers, since the core has no view of either.
type LocalProbe struct {
	mu           sync.RWMutex
	cpuSampler   func() float64
	queueSampler func() int
}

// NewLocalProbe creates a probe with no samplers attached. Missing samplers
// report zero, which classifies as healthy on those axes.
func NewLocalProbe() *LocalProbe {
	return &LocalProbe{}
}

// SetCPUSampler installs the CPU utilization source, a fraction in [0,1].
func (p *LocalProbe) SetCPUSampler(fn func() float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cpuSampler = fn
}

// SetQueueSampler installs the request-queue depth source.
func (p *LocalProbe) SetQueueSampler(fn func() int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queueSampler = fn
}

// Collect measures the local node.
func (p *LocalProbe) Collect() NodeMetrics {
	p.mu.RLock()
	cpuFn, queueFn := p.cpuSampler, p.queueSampler
	p.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := NodeMetrics{
		HeapBytes:  memStats.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
	}
	if memStats.Sys > 0 {
		metrics.MemoryUtilization = float64(memStats.HeapAlloc) / float64(memStats.Sys)
	}
	if cpuFn != nil {
		metrics.CPUUtilization = clamp01(cpuFn())
	}
	if queueFn != nil {
		metrics.QueueDepth = queueFn()
	}
	return metrics
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
