package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magicrune/magicrune/internal/policyeval"
)

// materializeFiles writes the ExecutionPlan's file ops to disk. PolicyEvaluator
// has already confirmed every path is absolute, contains no "..", and is
// allowed; this strictly precedes child spawn per spec.md §5's ordering rule.
func materializeFiles(files []policyeval.FileOp) error {
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return fmt.Errorf("executor: creating parent dir for %q: %w", f.Path, err)
		}
		if err := os.WriteFile(f.Path, f.Content, 0o644); err != nil {
			return fmt.Errorf("executor: writing %q: %w", f.Path, err)
		}
	}
	return nil
}
