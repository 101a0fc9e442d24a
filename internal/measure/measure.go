// Package measure times competing implementations of the same operation
// and reports how each compares with the first one recorded.
package measure

import (
	"log/slog"
	"sync"
	"time"
)

// Timing is one measured call.
type Timing struct {
	Version string
	Args    string
	Elapsed time.Duration

	// Baseline is the first version recorded for Args. Speedup is
	// baseline/elapsed - 1 and zero when Version is the baseline.
	Baseline        string
	BaselineElapsed time.Duration
	Speedup         float64
}

type entry struct {
	version string
	elapsed time.Duration
}

// Recorder keeps timings per argument set. The zero value is not usable;
// create one with New.
type Recorder struct {
	mu      sync.Mutex
	logger  *slog.Logger
	now     func() time.Time
	timings map[string][]entry
}

// New returns an empty Recorder logging to logger. A nil logger discards.
func New(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		logger:  logger,
		now:     time.Now,
		timings: make(map[string][]entry),
	}
}

// Measure runs fn, records its duration under (args, version) and logs it.
// Measuring the same (args, version) again replaces the earlier timing but
// keeps its position, so the baseline never changes. The error from fn is
// returned unchanged.
func (r *Recorder) Measure(version, args string, fn func() error) (Timing, error) {
	start := r.now()
	err := fn()
	elapsed := r.now().Sub(start)

	r.mu.Lock()
	entries := r.timings[args]
	replaced := false
	for i := range entries {
		if entries[i].version == version {
			entries[i].elapsed = elapsed
			replaced = true
		}
	}
	if !replaced {
		entries = append(entries, entry{version: version, elapsed: elapsed})
	}
	r.timings[args] = entries
	base := entries[0]
	r.mu.Unlock()

	t := Timing{
		Version:         version,
		Args:            args,
		Elapsed:         elapsed,
		Baseline:        base.version,
		BaselineElapsed: base.elapsed,
	}
	if base.version != version && elapsed > 0 {
		t.Speedup = float64(base.elapsed)/float64(elapsed) - 1
		r.logger.Info("measured", "version", version, "args", args, "elapsed", elapsed,
			"baseline", base.version, "baseline_elapsed", base.elapsed, "faster", t.Speedup)
	} else {
		r.logger.Info("measured", "version", version, "args", args, "elapsed", elapsed)
	}
	return t, err
}

// Reset forgets every timing.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.timings)
}
