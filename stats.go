package spoon

import (
	"sync/atomic"
	"time"
)

// StatsCollector defines an interface for collecting run statistics.
// Implement this interface to integrate with monitoring systems.
type StatsCollector interface {
	// RecordFit is called after each entity fit. converged is false for
	// flagged entities, duration is the time taken.
	RecordFit(converged bool, duration time.Duration)

	// RecordFlooredCells is called once per entity with the number of
	// observations that received the floor weight.
	RecordFlooredCells(n int)

	// RecordRun is called after a completed run with the total time taken
	// and err set when the run aborted.
	RecordRun(duration time.Duration, err error)
}

// NoopStatsCollector is a no-op implementation of StatsCollector.
// Use this when statistics collection is not needed.
type NoopStatsCollector struct{}

func (NoopStatsCollector) RecordFit(bool, time.Duration)  {}
func (NoopStatsCollector) RecordFlooredCells(int)         {}
func (NoopStatsCollector) RecordRun(time.Duration, error) {}

// BasicStatsCollector provides simple in-memory statistics collection.
// Safe for concurrent use; useful for tests and basic monitoring.
type BasicStatsCollector struct {
	FitCount      atomic.Int64
	FlaggedCount  atomic.Int64
	FitTotalNanos atomic.Int64
	FlooredCells  atomic.Int64
	RunCount      atomic.Int64
	RunErrors     atomic.Int64
	RunTotalNanos atomic.Int64
}

// RecordFit implements StatsCollector.
func (b *BasicStatsCollector) RecordFit(converged bool, duration time.Duration) {
	b.FitCount.Add(1)
	b.FitTotalNanos.Add(duration.Nanoseconds())
	if !converged {
		b.FlaggedCount.Add(1)
	}
}

// RecordFlooredCells implements StatsCollector.
func (b *BasicStatsCollector) RecordFlooredCells(n int) {
	b.FlooredCells.Add(int64(n))
}

// RecordRun implements StatsCollector.
func (b *BasicStatsCollector) RecordRun(duration time.Duration, err error) {
	b.RunCount.Add(1)
	b.RunTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RunErrors.Add(1)
	}
}
