package quarantine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/magicrune/magicrune/internal/schema"
)

func TestPersistUnscoped(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "quarantine"))
	result := &schema.SpellResult{RunID: "r_abc", Verdict: schema.VerdictRed, RiskScore: 90, ExitCode: 20}

	if err := w.Persist("", result, []byte("out"), []byte("err")); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(w.Dir, "result.red.json"))
	if err != nil {
		t.Fatalf("reading result.red.json: %v", err)
	}
	var got schema.SpellResult
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != "r_abc" || got.Verdict != schema.VerdictRed {
		t.Fatalf("unexpected result: %+v", got)
	}

	if b, _ := os.ReadFile(filepath.Join(w.Dir, "stdout.txt")); string(b) != "out" {
		t.Fatalf("stdout.txt = %q, want out", b)
	}
	if b, _ := os.ReadFile(filepath.Join(w.Dir, "stderr.txt")); string(b) != "err" {
		t.Fatalf("stderr.txt = %q, want err", b)
	}
}

func TestPersistRunScoped(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	result := &schema.SpellResult{RunID: "r_xyz", Verdict: schema.VerdictRed}

	if err := w.Persist("r_xyz", result, nil, nil); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "result.red.r_xyz.json")); err != nil {
		t.Fatalf("expected scoped result file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stdout.r_xyz.txt")); err != nil {
		t.Fatalf("expected scoped stdout file: %v", err)
	}
}

func TestPersistDefaultsDir(t *testing.T) {
	w := New("")
	if w.Dir != "quarantine" {
		t.Fatalf("Dir = %q, want quarantine", w.Dir)
	}
}
