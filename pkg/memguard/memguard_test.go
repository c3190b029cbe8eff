package memguard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edudata/quantize/pkg/config"
)

func testCfg(dir string) config.MemoryGuardConfig {
	cfg := config.Default().MemoryGuard
	cfg.DumpDir = dir
	cfg.Interval = 10 * time.Millisecond
	return cfg
}

func TestGuardSamplesUsage(t *testing.T) {
	g, err := New(testCfg(t.TempDir()))
	require.NoError(t, err)

	g.Start()
	time.Sleep(50 * time.Millisecond)
	g.Stop()

	last, peak := g.Usage()
	assert.Greater(t, last, 0.0)
	assert.GreaterOrEqual(t, peak, last)
}

func TestGuardDisabled(t *testing.T) {
	cfg := testCfg(t.TempDir())
	cfg.Enabled = false

	g, err := New(cfg)
	require.NoError(t, err)
	g.Start()
	g.Stop() // returns immediately, nothing was running

	last, _ := g.Usage()
	assert.Zero(t, last)
}

func TestGuardStopIsIdempotent(t *testing.T) {
	g, err := New(testCfg(t.TempDir()))
	require.NoError(t, err)
	g.Start()
	g.Stop()
	g.Stop()
}

func TestGuardStopWithoutStart(t *testing.T) {
	g, err := New(testCfg(t.TempDir()))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		g.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a guard that was never started")
	}
}

func TestGuardEventsClosedAfterStop(t *testing.T) {
	g, err := New(testCfg(t.TempDir()))
	require.NoError(t, err)
	g.Start()
	g.Stop()

	// a ranging consumer terminates once the guard is stopped
	_, open := <-g.Events()
	assert.False(t, open)
}

func TestDumpArtifact(t *testing.T) {
	dir := t.TempDir()
	g, err := New(testCfg(dir))
	require.NoError(t, err)

	g.dump("Memory spike of 600.00 MB detected", 1200, 1250)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "emergency_dump_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Reason: Memory spike of 600.00 MB detected")
	assert.Contains(t, text, "Current memory: 1200.00 MB")
	assert.Contains(t, text, "Peak memory: 1250.00 MB")
	// every live goroutine's stack is captured
	assert.Contains(t, text, "goroutine")
	assert.Contains(t, text, "TestDumpArtifact")

	// the event is observable without blocking the sampler
	select {
	case ev := <-g.Events():
		assert.Equal(t, 1200.0, ev.CurrentMB)
		assert.NotEmpty(t, ev.Path)
	default:
		t.Fatal("expected a dump event")
	}
}
