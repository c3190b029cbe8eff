// Package memguard watches the process's resident memory on a fixed
// interval for the lifetime of a cleaning session. It is a read-only
// observer: when usage spikes or crosses the ceiling it writes a
// diagnostic dump for post-mortem analysis, but it never pauses, throttles
// or cancels pipeline work.
package memguard

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/config"
	"github.com/edudata/quantize/pkg/logger"
)

// DumpEvent describes one emergency dump.
type DumpEvent struct {
	Reason    string
	Path      string
	CurrentMB float64
	PeakMB    float64
	At        time.Time
}

// Guard samples resident memory and writes emergency dumps. Start it once
// per session and stop it on teardown.
type Guard struct {
	cfg  config.MemoryGuardConfig
	proc *process.Process
	log  *zap.Logger

	mu     sync.Mutex
	lastMB float64
	peakMB float64

	events   chan DumpEvent
	stop     chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// New creates a guard for the current process.
func New(cfg config.MemoryGuardConfig) (*Guard, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to process: %w", err)
	}
	return &Guard{
		cfg:    cfg,
		proc:   proc,
		log:    logger.Get().With(zap.String("component", "memguard")),
		events: make(chan DumpEvent, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Events delivers dump notifications. Stop closes the channel once the
// sampler has exited, so ranging over it terminates with the guard.
// Consumers that fall behind lose events rather than blocking the sampler.
func (g *Guard) Events() <-chan DumpEvent {
	return g.events
}

// Usage returns the last and peak sampled usage in megabytes.
func (g *Guard) Usage() (last, peak float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastMB, g.peakMB
}

// Start launches the sampling loop. No-op when disabled or already
// started.
func (g *Guard) Start() {
	if !g.cfg.Enabled || g.started {
		return
	}
	g.started = true
	g.log.Info("memory guard started",
		zap.Duration("interval", g.cfg.Interval),
		zap.Float64("spike_mb", g.cfg.SpikeMB),
		zap.Float64("ceiling_mb", g.cfg.CeilingMB))
	go g.run()
}

// Stop terminates the sampling loop, waits for it to exit and closes the
// event channel. Safe to call repeatedly, and on a guard that was never
// started.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		if g.started {
			close(g.stop)
			<-g.done
		}
		close(g.events)
	})
}

func (g *Guard) run() {
	defer close(g.done)

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sample()
		}
	}
}

func (g *Guard) sample() {
	current, err := g.residentMB()
	if err != nil {
		g.log.Warn("memory sample failed", zap.Error(err))
		return
	}

	g.mu.Lock()
	previous := g.lastMB
	g.lastMB = current
	if current > g.peakMB {
		g.peakMB = current
	}
	peak := g.peakMB
	g.mu.Unlock()

	delta := current - previous
	switch {
	case previous > 0 && delta > g.cfg.SpikeMB:
		g.log.Error("memory spike detected",
			zap.Float64("delta_mb", delta),
			zap.Float64("current_mb", current))
		g.dump(fmt.Sprintf("Memory spike of %.2f MB detected", delta), current, peak)
	case current > g.cfg.CeilingMB:
		g.log.Error("critical memory usage",
			zap.Float64("current_mb", current),
			zap.Float64("ceiling_mb", g.cfg.CeilingMB))
		g.dump(fmt.Sprintf("Critical memory usage: %.2f MB", current), current, peak)
	}
}

func (g *Guard) residentMB() (float64, error) {
	info, err := g.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / 1024 / 1024, nil
}

// dump writes a timestamped diagnostic file with the trigger reason,
// usage figures and every live goroutine's stack.
func (g *Guard) dump(reason string, current, peak float64) {
	now := time.Now()

	if err := os.MkdirAll(g.cfg.DumpDir, 0o755); err != nil {
		g.log.Error("failed to create dump directory",
			zap.String("dir", g.cfg.DumpDir), zap.Error(err))
		return
	}

	path := filepath.Join(g.cfg.DumpDir,
		fmt.Sprintf("emergency_dump_%s.log", now.Format("20060102_150405")))

	stacks := make([]byte, 1<<20)
	stacks = stacks[:runtime.Stack(stacks, true)]

	var b []byte
	b = append(b, "=== EMERGENCY MEMORY DUMP ===\n"...)
	b = append(b, fmt.Sprintf("Time: %s\n", now.Format(time.RFC3339))...)
	b = append(b, fmt.Sprintf("Reason: %s\n", reason)...)
	b = append(b, fmt.Sprintf("Current memory: %.2f MB\n", current)...)
	b = append(b, fmt.Sprintf("Peak memory: %.2f MB\n\n", peak)...)
	b = append(b, "=== STACK TRACE ===\n"...)
	b = append(b, stacks...)

	if err := os.WriteFile(path, b, 0o644); err != nil {
		g.log.Error("failed to write emergency dump",
			zap.String("path", path), zap.Error(err))
		return
	}
	g.log.Info("emergency dump written", zap.String("path", path))

	select {
	case g.events <- DumpEvent{
		Reason:    reason,
		Path:      path,
		CurrentMB: current,
		PeakMB:    peak,
		At:        now,
	}:
	default:
	}
}
