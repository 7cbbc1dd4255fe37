// Package maintenance implements the 2 Hz sweep worker of spec.md
// §4.7: per-stream histogram trimming, global speed aggregation, a CPU
// watch, and optional GC of long-stopped streams. The CPU watch is
// grounded on the adred-codev-ws_poc/nishisan-dev-n-backup
// gopsutil-based metrics-collection loop.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/coachpo/streamkeeper/internal/observability"
	"github.com/coachpo/streamkeeper/internal/streamrec"
)

const (
	sweepInterval              = 500 * time.Millisecond // ~2 Hz
	keepMaxReceivedLastSeconds = 5
	gcSweepInterval            = 60 * time.Second
	gcStopAge                  = 900 * time.Second
	cpuWarnThreshold           = 95.0
	cpuWarnSustain             = 5 * time.Second
)

// StreamSource supplies the set of streams the sweep should visit.
// The Manager owns the authoritative stream table; this interface lets
// the maintenance worker observe it without depending on the manager
// package.
type StreamSource interface {
	// Streams returns every currently tracked (streamID, *Record) pair.
	Streams() map[string]*streamrec.Record
	// RemoveStream drops a stream from the table and its dispatcher
	// sink/buffers; called for GC per spec.md §4.7's last bullet.
	RemoveStream(streamID string)
}

// GlobalStats tracks the process-wide aggregates spec.md §4.7
// describes: the global most-receives-per-second figure and the
// all-time peak receiving speed (bytes/sec).
type GlobalStats struct {
	mostReceivesPerSecond int
	receivingSpeedPeak    int64
}

// MostReceivesPerSecond returns the aggregate receive count of the
// previous full second, as computed by the last sweep.
func (g GlobalStats) MostReceivesPerSecond() int { return g.mostReceivesPerSecond }

// Sweeper runs the maintenance loop.
type Sweeper struct {
	Source                    StreamSource
	AutoCleanupStoppedStreams bool
	Logger                    observability.Logger

	stats   GlobalStats
	statsMu sync.Mutex

	lastGC       time.Time
	cpuHighSince time.Time
}

// NewSweeper builds a Sweeper over source.
func NewSweeper(source StreamSource, autoCleanup bool) *Sweeper {
	logger := observability.Log()
	return &Sweeper{
		Source:                    source,
		AutoCleanupStoppedStreams: autoCleanup,
		Logger:                    logger,
		lastGC:                    time.Now(),
	}
}

// Run drives the sweep loop until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	now := time.Now()
	cutoff := now.Add(-keepMaxReceivedLastSeconds * time.Second).Unix()
	lastSecond := now.Add(-time.Second).Unix()

	streams := s.Source.Streams()

	var globalReceives int
	var globalBytes int64
	for _, rec := range streams {
		rec.TrimHistogramsBefore(cutoff)
		globalReceives += rec.ReceivesInSecond(lastSecond)
		globalBytes += rec.BytesInSecond(lastSecond)
	}

	s.statsMu.Lock()
	s.stats.mostReceivesPerSecond = globalReceives
	if globalBytes > s.stats.receivingSpeedPeak {
		s.stats.receivingSpeedPeak = globalBytes
	}
	s.statsMu.Unlock()

	s.watchCPU(now)

	if s.AutoCleanupStoppedStreams && now.Sub(s.lastGC) >= gcSweepInterval {
		s.lastGC = now
		s.collectStopped(streams, now)
	}
}

func (s *Sweeper) watchCPU(now time.Time) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	usage := percents[0]
	if usage >= cpuWarnThreshold {
		if s.cpuHighSince.IsZero() {
			s.cpuHighSince = now
		} else if now.Sub(s.cpuHighSince) >= cpuWarnSustain {
			s.Logger.Warn("sustained high CPU usage",
				observability.Field{Key: "cpu_percent", Value: usage},
				observability.Field{Key: "sustained_for", Value: now.Sub(s.cpuHighSince).String()})
		}
		return
	}
	s.cpuHighSince = time.Time{}
}

func (s *Sweeper) collectStopped(streams map[string]*streamrec.Record, now time.Time) {
	for id, rec := range streams {
		snap := rec.Snapshot()
		if snap.Status != streamrec.StatusStopped && snap.Status != streamrec.StatusCrashed {
			continue
		}
		if snap.StopTime.IsZero() || now.Sub(snap.StopTime) <= gcStopAge {
			continue
		}
		s.Source.RemoveStream(id)
	}
}

// GlobalSnapshot returns the current global aggregates.
func (s *Sweeper) GlobalSnapshot() GlobalStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
