package schema

import "testing"

func TestSpellRequestValidateTimeoutRange(t *testing.T) {
	req := &SpellRequest{TimeoutSec: 61}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for timeout_sec > 60")
	}
	req.TimeoutSec = 0
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error for timeout_sec=0: %v", err)
	}
}

func TestSpellRequestValidateFilePaths(t *testing.T) {
	req := &SpellRequest{Files: []FileEntry{{Path: "relative/path"}}}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for non-absolute path")
	}

	req = &SpellRequest{Files: []FileEntry{{Path: "/tmp/../etc/passwd"}}}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for path containing ..")
	}

	req = &SpellRequest{Files: []FileEntry{{Path: "/tmp/ok.txt"}}}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error for valid path: %v", err)
	}
}

func TestSpellRequestValidateEnvScalars(t *testing.T) {
	req := &SpellRequest{Env: map[string]any{"A": []string{"not", "scalar"}}}
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for non-scalar env value")
	}

	req = &SpellRequest{Env: map[string]any{"A": "ok", "B": 1, "C": true}}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error for scalar env values: %v", err)
	}
}

func TestFileEntryDecode(t *testing.T) {
	f := FileEntry{ContentB64: "aGVsbG8="}
	b, err := f.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("Decode() = %q, want hello", b)
	}
}

func TestEffectiveSeedDefaultsToZero(t *testing.T) {
	req := &SpellRequest{}
	if req.EffectiveSeed() != 0 {
		t.Fatalf("EffectiveSeed() = %d, want 0", req.EffectiveSeed())
	}
	s := int64(42)
	req.Seed = &s
	if req.EffectiveSeed() != 42 {
		t.Fatalf("EffectiveSeed() = %d, want 42", req.EffectiveSeed())
	}
}

func TestPolicyDocValidate(t *testing.T) {
	p := &PolicyDoc{Version: 2}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for version != 1")
	}

	p = &PolicyDoc{Version: 1, Limits: Limits{WallSec: 5, CPUMs: 1000, MemoryMB: 128, PIDs: 16}}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
