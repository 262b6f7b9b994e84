// Package policydoc loads PolicyDoc values from YAML files and resolves an
// "extends" inheritance chain, generalizing the teacher's internal/config
// Load/Merge/extends-chain pattern (internal/config/config.go,
// internal/templates/templates.go) from fence's Config to MagicRune's
// PolicyDoc. Per spec.md §1, human-readable policy parsing is deliberately an
// external concern; the core (internal/policyeval, internal/grader) only ever
// sees an already-loaded *schema.PolicyDoc.
package policydoc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/magicrune/magicrune/internal/schema"
)

// maxExtendsDepth bounds the inheritance chain depth, mirroring templates.go's
// maxExtendsDepth guard against runaway or circular extends chains.
const maxExtendsDepth = 10

// Load reads and parses a policy document from path, resolving any "extends"
// chain relative to the file's own directory.
func Load(path string) (*schema.PolicyDoc, error) {
	return loadWithDepth(path, 0, nil)
}

func loadWithDepth(path string, depth int, seen map[string]bool) (*schema.PolicyDoc, error) {
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("policydoc: extends chain too deep (max %d)", maxExtendsDepth)
	}

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("policydoc: resolving path %q: %w", path, err)
	}
	resolved = filepath.Clean(resolved)

	if seen == nil {
		seen = make(map[string]bool)
	}
	if seen[resolved] {
		return nil, fmt.Errorf("policydoc: circular extends detected at %q", path)
	}
	seen[resolved] = true

	data, err := os.ReadFile(resolved) //nolint:gosec // operator-provided policy path
	if err != nil {
		return nil, fmt.Errorf("policydoc: reading %q: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("policydoc: %q is empty", path)
	}

	var doc schema.PolicyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policydoc: invalid YAML in %q: %w", path, err)
	}

	if doc.Extends == "" {
		if err := doc.Validate(); err != nil {
			return nil, fmt.Errorf("policydoc: invalid policy %q: %w", path, err)
		}
		return &doc, nil
	}

	extendsPath := doc.Extends
	if !filepath.IsAbs(extendsPath) {
		extendsPath = filepath.Join(filepath.Dir(resolved), extendsPath)
	}
	base, err := loadWithDepth(extendsPath, depth+1, seen)
	if err != nil {
		return nil, fmt.Errorf("policydoc: loading base %q: %w", doc.Extends, err)
	}

	merged := Merge(base, &doc)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("policydoc: invalid merged policy %q: %w", path, err)
	}
	return merged, nil
}

// Merge combines a base PolicyDoc with an override, override winning on
// scalar fields when set and allow/readonly/deny lists concatenating with
// duplicates removed, mirroring config.Merge's base+override append strategy.
func Merge(base, override *schema.PolicyDoc) *schema.PolicyDoc {
	if base == nil {
		result := *override
		result.Extends = ""
		return &result
	}
	if override == nil {
		result := *base
		result.Extends = ""
		return &result
	}

	result := &schema.PolicyDoc{
		Version: mergeInt(base.Version, override.Version),
		Limits: schema.Limits{
			WallSec:  mergeInt(base.Limits.WallSec, override.Limits.WallSec),
			CPUMs:    mergeInt(base.Limits.CPUMs, override.Limits.CPUMs),
			MemoryMB: mergeInt(base.Limits.MemoryMB, override.Limits.MemoryMB),
			PIDs:     mergeInt(base.Limits.PIDs, override.Limits.PIDs),
		},
		Capabilities: schema.Capabilities{
			Net: schema.NetCapability{
				Default: mergeString(base.Capabilities.Net.Default, override.Capabilities.Net.Default),
				Allow:   mergeStrings(base.Capabilities.Net.Allow, override.Capabilities.Net.Allow),
			},
			FS: schema.FSCapability{
				Default:  mergeString(base.Capabilities.FS.Default, override.Capabilities.FS.Default),
				Allow:    mergeStrings(base.Capabilities.FS.Allow, override.Capabilities.FS.Allow),
				Readonly: mergeStrings(base.Capabilities.FS.Readonly, override.Capabilities.FS.Readonly),
			},
			Env: schema.EnvCapability{
				Allow: mergeStrings(base.Capabilities.Env.Allow, override.Capabilities.Env.Allow),
				Deny:  mergeStrings(base.Capabilities.Env.Deny, override.Capabilities.Env.Deny),
			},
		},
		Grading: schema.Grading{
			Thresholds: schema.GradingThresholds{
				Green:  mergeString(base.Grading.Thresholds.Green, override.Grading.Thresholds.Green),
				Yellow: mergeString(base.Grading.Thresholds.Yellow, override.Grading.Thresholds.Yellow),
				Red:    mergeString(base.Grading.Thresholds.Red, override.Grading.Thresholds.Red),
			},
		},
	}

	return result
}

func mergeStrings(base, override []string) []string {
	if len(base) == 0 {
		return override
	}
	if len(override) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base)+len(override))
	result := make([]string, 0, len(base)+len(override))
	for _, s := range append(base, override...) {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

func mergeString(base, override string) string {
	if override != "" {
		return override
	}
	return base
}

func mergeInt(base, override int) int {
	if override != 0 {
		return override
	}
	return base
}
