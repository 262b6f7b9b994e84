// Package quarantine persists the artifacts of a red-verdict run, per
// spec.md §6 "Persisted state": result.red.json, stdout.txt, stderr.txt,
// each written atomically (temp file then rename) so no single file is ever
// left half-written. The three files are written one after another, so a
// crash or write failure between them leaves an incomplete set.
package quarantine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/magicrune/magicrune/internal/schema"
)

// Writer persists quarantine artifacts under a fixed directory.
type Writer struct {
	Dir string
}

// New returns a Writer rooted at dir; Persist creates dir when needed. An
// empty dir defaults to "quarantine", spec.md's documented default.
func New(dir string) *Writer {
	if dir == "" {
		dir = "quarantine"
	}
	return &Writer{Dir: dir}
}

// Persist writes result.red.json, stdout.txt and stderr.txt for result. In
// worker mode, runID-scoped names are used so distinct runs never collide on
// disk (a redelivery of the same run_id overwrites that run's files); in
// single-shot exec mode an empty runID falls back to the unscoped names.
func (w *Writer) Persist(runID string, result *schema.SpellResult, stdout, stderr []byte) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("quarantine: creating %s: %w", w.Dir, err)
	}

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("quarantine: marshaling result: %w", err)
	}

	if err := w.writeAtomic(w.name(runID, "result.red.json"), body); err != nil {
		return err
	}
	if err := w.writeAtomic(w.name(runID, "stdout.txt"), stdout); err != nil {
		return err
	}
	if err := w.writeAtomic(w.name(runID, "stderr.txt"), stderr); err != nil {
		return err
	}
	return nil
}

func (w *Writer) name(runID, base string) string {
	if runID == "" {
		return base
	}
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return fmt.Sprintf("%s.%s%s", stem, runID, ext)
}

func (w *Writer) writeAtomic(name string, body []byte) error {
	final := filepath.Join(w.Dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("quarantine: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("quarantine: renaming %s to %s: %w", tmp, final, err)
	}
	return nil
}
