// Package throttle gates resource imports on host load.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mantonx/viewra-importer/internal/config"
)

// SystemMetrics is one sample of host load.
type SystemMetrics struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	LoadAverage   float64   `json:"load_average"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Sampler reads the current host load.
type Sampler interface {
	Sample(ctx context.Context) (SystemMetrics, error)
}

// HostSampler samples the host with gopsutil.
type HostSampler struct {
	// Interval is the CPU measurement window.
	Interval time.Duration
}

func (s HostSampler) Sample(ctx context.Context) (SystemMetrics, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	metrics := SystemMetrics{SampledAt: time.Now()}

	cpuPercents, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return metrics, err
	}
	if len(cpuPercents) > 0 {
		metrics.CPUPercent = cpuPercents[0]
	}

	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return metrics, err
	}
	metrics.MemoryPercent = memStats.UsedPercent

	// Load average is informational and unavailable on some platforms.
	if loadStats, err := load.AvgWithContext(ctx); err == nil {
		metrics.LoadAverage = loadStats.Load1
	}
	return metrics, nil
}

// Throttle blocks imports while CPU or memory use is above the configured
// thresholds. It never blocks longer than MaxWait for a single resource.
type Throttle struct {
	cfg     config.ThrottleConfig
	sampler Sampler
	logger  hclog.Logger

	mu        sync.RWMutex
	last      SystemMetrics
	throttled int64
}

// New creates a throttle sampling the host.
func New(cfg config.ThrottleConfig, logger hclog.Logger) *Throttle {
	return NewWithSampler(cfg, HostSampler{}, logger)
}

// NewWithSampler creates a throttle reading load from sampler.
func NewWithSampler(cfg config.ThrottleConfig, sampler Sampler, logger hclog.Logger) *Throttle {
	return &Throttle{
		cfg:     cfg,
		sampler: sampler,
		logger:  logger.Named("throttle"),
	}
}

// Wait returns once the host is below the thresholds, MaxWait has passed,
// or ctx is done. Only the latter returns an error.
func (t *Throttle) Wait(ctx context.Context) error {
	if !t.cfg.Enabled {
		return nil
	}

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		metrics, err := t.sampler.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Debug("failed to sample system load", "error", err)
			return nil
		}
		t.record(metrics)

		if !t.overloaded(metrics) {
			return nil
		}

		if t.cfg.MaxWait > 0 && time.Since(start) >= t.cfg.MaxWait {
			t.logger.Warn("system still busy, continuing import",
				"cpu_percent", metrics.CPUPercent,
				"memory_percent", metrics.MemoryPercent,
				"waited", time.Since(start))
			return nil
		}

		t.mu.Lock()
		t.throttled++
		t.mu.Unlock()
		t.logger.Debug("throttling import",
			"cpu_percent", metrics.CPUPercent,
			"memory_percent", metrics.MemoryPercent,
			"load_average", metrics.LoadAverage)

		timer := time.NewTimer(t.cfg.Pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Throttle) overloaded(m SystemMetrics) bool {
	return m.CPUPercent > t.cfg.CPUThreshold || m.MemoryPercent > t.cfg.MemoryThreshold
}

func (t *Throttle) record(m SystemMetrics) {
	t.mu.Lock()
	t.last = m
	t.mu.Unlock()
}

// Stats returns the last sample and how many pauses have been taken.
func (t *Throttle) Stats() (SystemMetrics, int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.throttled
}
