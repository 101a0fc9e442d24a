package segstats

import (
	"log/slog"
	"runtime"
)

// Option configures Extract and ExtractGrid.
type Option func(*options)

type options struct {
	repeat   int
	workers  int
	progress func(done, total int)
	logger   *slog.Logger
}

func defaultOptions() *options {
	return &options{
		repeat:  1,
		workers: 1,
		logger:  slog.New(slog.DiscardHandler),
	}
}

func newOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithRepeat duplicates every statistic row n times. It only applies when
// the source is a single grid; partition chunks are always extracted once.
func WithRepeat(n int) Option {
	return func(o *options) {
		o.repeat = n
	}
}

// WithWorkers extracts up to n partition chunks concurrently. Values below
// 1 use GOMAXPROCS. Result order does not depend on n.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		o.workers = n
	}
}

// WithProgress registers a callback invoked after each top-level chunk of a
// partition completes. Calls are serialized.
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithLogger sets the logger used for debug output such as excluded segments.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
