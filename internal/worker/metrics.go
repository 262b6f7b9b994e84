package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the three worker counters spec.md §4.7 step 10 names, and
// renders them to a JSON file and/or a Prometheus textfile-collector file
// every MetricsEvery processed messages.
type Metrics struct {
	processedTotal uint64
	dupeTotal      uint64
	redTotal       uint64

	processedCounter prometheus.Counter
	dupeCounter      prometheus.Counter
	redCounter       prometheus.Counter
}

// NewMetrics registers the counters against reg (a *prometheus.Registry, or
// prometheus.DefaultRegisterer's concrete type satisfies the same
// interface).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "magicrune_processed_total",
			Help: "Total spell requests processed by the worker.",
		}),
		dupeCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "magicrune_dupe_total",
			Help: "Total duplicate messages suppressed by the dedupe ring.",
		}),
		redCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "magicrune_red_total",
			Help: "Total red-verdict runs.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processedCounter, m.dupeCounter, m.redCounter)
	}
	return m
}

func (m *Metrics) IncProcessed() {
	atomic.AddUint64(&m.processedTotal, 1)
	m.processedCounter.Inc()
}

func (m *Metrics) IncDupe() {
	atomic.AddUint64(&m.dupeTotal, 1)
	m.dupeCounter.Inc()
}

func (m *Metrics) IncRed() {
	atomic.AddUint64(&m.redTotal, 1)
	m.redCounter.Inc()
}

func (m *Metrics) Processed() uint64 { return atomic.LoadUint64(&m.processedTotal) }
func (m *Metrics) Dupe() uint64      { return atomic.LoadUint64(&m.dupeTotal) }
func (m *Metrics) Red() uint64       { return atomic.LoadUint64(&m.redTotal) }

type metricsSnapshot struct {
	ProcessedTotal uint64 `json:"processed_total"`
	DupeTotal      uint64 `json:"dupe_total"`
	RedTotal       uint64 `json:"red_total"`
}

// Flush writes the current counters to jsonPath and/or textfilePath, each
// via write-to-temp-then-rename so a concurrent node_exporter textfile
// collector scrape never observes a partial file. Either path may be empty
// to skip that rendition.
func (m *Metrics) Flush(jsonPath, textfilePath string) error {
	snap := metricsSnapshot{
		ProcessedTotal: m.Processed(),
		DupeTotal:      m.Dupe(),
		RedTotal:       m.Red(),
	}

	if jsonPath != "" {
		body, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("worker: marshaling metrics: %w", err)
		}
		if err := writeFileAtomic(jsonPath, body); err != nil {
			return err
		}
	}

	if textfilePath != "" {
		body := fmt.Sprintf(
			"# magicrune metrics\nmagicrune_processed_total %d\nmagicrune_dupe_total %d\nmagicrune_red_total %d\n",
			snap.ProcessedTotal, snap.DupeTotal, snap.RedTotal,
		)
		if err := writeFileAtomic(textfilePath, []byte(body)); err != nil {
			return err
		}
	}

	return nil
}

func writeFileAtomic(path string, body []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("worker: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("worker: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}
