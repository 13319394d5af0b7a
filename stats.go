package strata

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSlowThreshold is the slow-command warning threshold applied when
// no explicit one is configured.
const DefaultSlowThreshold = 500 * time.Millisecond

// Stats accumulates per-client command counters. All counters are safe for
// concurrent use.
type Stats struct {
	// Queries counts read commands executed.
	Queries atomic.Int64
	// Execs counts write commands executed.
	Execs atomic.Int64
	// Errors counts failed commands.
	Errors atomic.Int64
	// Slow counts commands exceeding the slow threshold.
	Slow atomic.Int64

	log  *slog.Logger
	slow time.Duration
}

func newStats(log *slog.Logger, slow time.Duration) *Stats {
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	return &Stats{log: log, slow: slow}
}

// observe records one finished command and warns when it ran slow.
func (s *Stats) observe(op, command string, start time.Time, err error) {
	d := time.Since(start)
	if op == "query" {
		s.Queries.Add(1)
	} else {
		s.Execs.Add(1)
	}
	if err != nil {
		s.Errors.Add(1)
	}
	if d >= s.slow {
		s.Slow.Add(1)
		s.log.Warn("slow command detected", "duration", d, "op", op, "command", command)
	}
}
