package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coffersTech/logrelay/internal/model"
)

// SystemStats is the JSON view served on /api/stats.
type SystemStats struct {
	IngestionRate float64          `json:"ingestion_rate"` // records/sec
	TotalRecords  int64            `json:"total_records"`
	ParseErrors   int64            `json:"parse_errors"`
	Skipped       int64            `json:"skipped"`
	LevelDist     map[string]int64 `json:"level_dist"`  // e.g. "INFO": 100
	TopSources    map[string]int64 `json:"top_sources"` // e.g. "order-svc": 50
}

// Recorder accumulates ingest counters in memory. Counts reset on restart.
type Recorder struct {
	mu           sync.RWMutex
	levelCounts  map[model.Level]int64
	sourceCounts map[string]int64
	total        int64
	currentRate  float64

	parseErrors  atomic.Int64
	skipped      atomic.Int64
	writeCounter atomic.Int64
}

func NewRecorder() *Recorder {
	return &Recorder{
		levelCounts:  make(map[model.Level]int64),
		sourceCounts: make(map[string]int64),
	}
}

// Record counts one forwarded record.
func (r *Recorder) Record(rec model.LogRecord) {
	r.mu.Lock()
	r.levelCounts[rec.Level]++
	r.sourceCounts[rec.Source]++
	r.total++
	r.mu.Unlock()

	r.writeCounter.Add(1)
}

func (r *Recorder) ParseError() { r.parseErrors.Add(1) }

func (r *Recorder) Skipped() { r.skipped.Add(1) }

// RunRateTicker recomputes the ingestion rate every interval until ctx is done.
func (r *Recorder) RunRateTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.tick(interval)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recorder) tick(interval time.Duration) {
	count := r.writeCounter.Swap(0)
	rate := float64(count) / interval.Seconds()
	r.mu.Lock()
	r.currentRate = rate
	r.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() SystemStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := SystemStats{
		IngestionRate: r.currentRate,
		TotalRecords:  r.total,
		ParseErrors:   r.parseErrors.Load(),
		Skipped:       r.skipped.Load(),
		LevelDist:     make(map[string]int64, len(model.Levels)),
		TopSources:    make(map[string]int64, len(r.sourceCounts)),
	}
	for _, l := range model.Levels {
		s.LevelDist[l.String()] = r.levelCounts[l]
	}
	for src, n := range r.sourceCounts {
		s.TopSources[src] = n
	}
	return s
}
