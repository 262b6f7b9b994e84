package policyeval

import (
	"errors"
	"testing"

	"github.com/magicrune/magicrune/internal/netmatch"
	"github.com/magicrune/magicrune/internal/schema"
)

func defaultPolicy() *schema.PolicyDoc {
	return &schema.PolicyDoc{
		Version: 1,
		Limits:  schema.Limits{WallSec: 30, CPUMs: 5000, MemoryMB: 256, PIDs: 32},
	}
}

func networkIntent(cmd string) (bool, []string) {
	hosts := netmatch.ExtractHosts(cmd)
	return len(hosts) > 0, hosts
}

func TestEvaluateScenarioAGreen(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "echo hi", PolicyID: "default", TimeoutSec: 5}
	ni, hosts := networkIntent(req.Cmd)
	plan, err := Evaluate(req, defaultPolicy(), ni, hosts)
	if err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
	if plan.Cmd != "echo hi" {
		t.Fatalf("unexpected plan cmd: %q", plan.Cmd)
	}
}

func TestEvaluateScenarioBNetworkWithoutAllowlist(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "curl http://example.com", TimeoutSec: 5}
	ni, hosts := networkIntent(req.Cmd)
	_, err := Evaluate(req, defaultPolicy(), ni, hosts)
	var netErr *NetNotAllowedError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetNotAllowedError, got %v", err)
	}
}

func TestEvaluateScenarioCAllowedNetwork(t *testing.T) {
	req := &schema.SpellRequest{
		Cmd:        "curl https://api.example.com/",
		AllowNet:   []string{"*.example.com:443"},
		TimeoutSec: 5,
	}
	ni, hosts := networkIntent(req.Cmd)
	_, err := Evaluate(req, defaultPolicy(), ni, hosts)
	if err != nil {
		t.Fatalf("expected allowed network, got violation: %v", err)
	}
}

func TestEvaluateScenarioDForbiddenWrite(t *testing.T) {
	req := &schema.SpellRequest{
		Cmd:        "echo hi",
		TimeoutSec: 5,
		Files:      []schema.FileEntry{{Path: "/etc/passwd", ContentB64: ""}},
	}
	_, err := Evaluate(req, defaultPolicy(), false, nil)
	var notAllowed *PathNotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("expected PathNotAllowedError, got %v", err)
	}
}

func TestEvaluatePathInvalidRelative(t *testing.T) {
	req := &schema.SpellRequest{Files: []schema.FileEntry{{Path: "relative/path"}}}
	_, err := Evaluate(req, defaultPolicy(), false, nil)
	var invalid *PathInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected PathInvalidError, got %v", err)
	}
}

func TestEvaluatePathInvalidDotDot(t *testing.T) {
	req := &schema.SpellRequest{Files: []schema.FileEntry{{Path: "/tmp/../etc/passwd"}}}
	_, err := Evaluate(req, defaultPolicy(), false, nil)
	var invalid *PathInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected PathInvalidError, got %v", err)
	}
}

func TestEvaluateTimeoutBoundary(t *testing.T) {
	pol := defaultPolicy()
	req := &schema.SpellRequest{Cmd: "echo hi", TimeoutSec: pol.Limits.WallSec}
	if _, err := Evaluate(req, pol, false, nil); err != nil {
		t.Fatalf("timeout == limit should pass, got %v", err)
	}

	req.TimeoutSec = pol.Limits.WallSec + 1
	_, err := Evaluate(req, pol, false, nil)
	var timeoutErr *TimeoutExceedsLimitError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutExceedsLimitError, got %v", err)
	}
}

func TestEvaluateTmpAlwaysAllowed(t *testing.T) {
	req := &schema.SpellRequest{Files: []schema.FileEntry{{Path: "/tmp/work/out.txt"}}}
	if _, err := Evaluate(req, defaultPolicy(), false, nil); err != nil {
		t.Fatalf("expected /tmp path to be allowed by default, got %v", err)
	}
}

func TestEvaluateFSAllowAcceptsDoublestarGlob(t *testing.T) {
	// "/data/**/*.csv" isn't expressible by spec.md §4.2's six literal
	// PathPattern variants (nested "**" plus a suffix segment), but
	// fsPatternsMatch also tries the full doublestar grammar.
	pol := defaultPolicy()
	pol.Capabilities.FS.Allow = []string{"/data/**/*.csv"}
	req := &schema.SpellRequest{
		Files: []schema.FileEntry{{Path: "/data/imports/2026/out.csv"}},
	}
	if _, err := Evaluate(req, pol, false, nil); err != nil {
		t.Fatalf("expected doublestar pattern to allow the path, got %v", err)
	}
}

func TestEvaluateFSReadonlyAcceptsDoublestarGlob(t *testing.T) {
	pol := defaultPolicy()
	pol.Capabilities.FS.Readonly = []string{"/data/**/*.csv"}
	req := &schema.SpellRequest{
		Files: []schema.FileEntry{{Path: "/data/imports/2026/out.csv"}},
	}
	_, err := Evaluate(req, pol, false, nil)
	var readonly *PathReadonlyError
	if !errors.As(err, &readonly) {
		t.Fatalf("expected PathReadonlyError, got %v", err)
	}
}

func TestEvaluateEnvDenyWinsOverAllow(t *testing.T) {
	pol := defaultPolicy()
	pol.Capabilities.Env.Allow = []string{"*"}
	pol.Capabilities.Env.Deny = []string{"LD_*"}
	req := &schema.SpellRequest{Cmd: "echo", Env: map[string]any{"LD_PRELOAD": "x"}}
	_, err := Evaluate(req, pol, false, nil)
	var denied *EnvDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected EnvDeniedError, got %v", err)
	}
}
