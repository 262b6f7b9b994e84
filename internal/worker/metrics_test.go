package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.IncProcessed()
	m.IncProcessed()
	m.IncDupe()
	m.IncRed()

	if m.Processed() != 2 {
		t.Fatalf("Processed() = %d, want 2", m.Processed())
	}
	if m.Dupe() != 1 {
		t.Fatalf("Dupe() = %d, want 1", m.Dupe())
	}
	if m.Red() != 1 {
		t.Fatalf("Red() = %d, want 1", m.Red())
	}
}

func TestMetricsFlush(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "metrics.json")
	textPath := filepath.Join(dir, "metrics.prom")

	m := NewMetrics(prometheus.NewRegistry())
	m.IncProcessed()
	m.IncRed()

	if err := m.Flush(jsonPath, textPath); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	jsonBody, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("reading json metrics: %v", err)
	}
	if !strings.Contains(string(jsonBody), `"processed_total": 1`) {
		t.Fatalf("json metrics missing processed_total: %s", jsonBody)
	}

	textBody, err := os.ReadFile(textPath)
	if err != nil {
		t.Fatalf("reading textfile metrics: %v", err)
	}
	want := "# magicrune metrics\nmagicrune_processed_total 1\nmagicrune_dupe_total 0\nmagicrune_red_total 1\n"
	if string(textBody) != want {
		t.Fatalf("textfile metrics = %q, want %q", textBody, want)
	}
}
