package grader

import (
	"testing"

	"github.com/magicrune/magicrune/internal/schema"
)

func defaultPolicy() *schema.PolicyDoc {
	return &schema.PolicyDoc{Version: 1}
}

func TestScoreNetworkIntentWithoutAllowlist(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "curl http://example.com"}
	if got := Score(req, defaultPolicy()); got != 40 {
		t.Fatalf("Score = %d, want 40", got)
	}
}

func TestScoreNetworkIntentWithRequestAllowlist(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "curl https://api.example.com/", AllowNet: []string{"*.example.com:443"}}
	if got := Score(req, defaultPolicy()); got != 0 {
		t.Fatalf("Score = %d, want 0", got)
	}
}

func TestScoreSSHToken(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "ssh host 'ls'"}
	if got := Score(req, defaultPolicy()); got != 30 {
		t.Fatalf("Score = %d, want 30", got)
	}
}

func TestScoreAllowFSNonTmp(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "echo hi", AllowFS: []string{"/home/user/**"}}
	if got := Score(req, defaultPolicy()); got != 20 {
		t.Fatalf("Score = %d, want 20", got)
	}
}

func TestScoreAllowFSTmpOnlyExempt(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "echo hi", AllowFS: []string{"/tmp/**"}}
	if got := Score(req, defaultPolicy()); got != 0 {
		t.Fatalf("Score = %d, want 0 for /tmp/** only", got)
	}
}

func TestScoreSumsAllRules(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "ssh host 'curl http://evil.example'", AllowFS: []string{"/home/**"}}
	if got := Score(req, defaultPolicy()); got != 90 {
		t.Fatalf("Score = %d, want 90 (40+30+20)", got)
	}
}

func TestVerdictForDefaults(t *testing.T) {
	var empty schema.GradingThresholds
	tests := []struct {
		score int
		want  schema.Verdict
	}{
		{0, schema.VerdictGreen},
		{20, schema.VerdictGreen},
		{21, schema.VerdictYellow},
		{60, schema.VerdictYellow},
		{61, schema.VerdictRed},
		{100, schema.VerdictRed},
	}
	for _, tt := range tests {
		if got := VerdictFor(tt.score, empty); got != tt.want {
			t.Fatalf("VerdictFor(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestVerdictForMalformedThresholdFallsBackToRed(t *testing.T) {
	th := schema.GradingThresholds{Green: "bogus", Yellow: "also bogus", Red: "still bogus"}
	if got := VerdictFor(5, th); got != schema.VerdictRed {
		t.Fatalf("VerdictFor with malformed thresholds = %v, want red fallback", got)
	}
}

func TestVerdictForFirstMatchWins(t *testing.T) {
	th := schema.GradingThresholds{Green: ">=0", Yellow: ">=0", Red: ">=0"}
	if got := VerdictFor(99, th); got != schema.VerdictGreen {
		t.Fatalf("VerdictFor = %v, want green (first match wins)", got)
	}
}
