// Package grader computes a risk score from a SpellRequest and PolicyDoc and
// maps it to a verdict via range-expression thresholds, per spec.md §4.3.
package grader

import (
	"strconv"
	"strings"

	"github.com/magicrune/magicrune/internal/schema"
)

var networkIntentTokens = []string{"curl ", "wget ", "http://", "https://"}

// NetworkIntent reports whether cmd contains any of the tokens spec.md §4.3
// treats as network intent (curl/wget invocations, bare http(s):// URLs).
// Exported so PolicyEvaluator callers can decide whether to run the network
// check without duplicating the token list.
func NetworkIntent(cmd string) bool {
	return hasNetworkIntent(cmd)
}

func hasNetworkIntent(cmd string) bool {
	for _, tok := range networkIntentTokens {
		if strings.Contains(cmd, tok) {
			return true
		}
	}
	return false
}

func hasSSHToken(cmd string) bool {
	return strings.Contains(strings.ToLower(cmd), "ssh ")
}

// Outcome is the result of grading: a clamped score and the selected verdict.
type Outcome struct {
	RiskScore int
	Verdict   schema.Verdict
}

// Score computes the baseline-0 risk score described in spec.md §4.3.
func Score(req *schema.SpellRequest, pol *schema.PolicyDoc) int {
	score := 0

	if hasNetworkIntent(req.Cmd) {
		haveAllowEntry := len(req.AllowNet) > 0 || len(pol.Capabilities.Net.Allow) > 0
		if !haveAllowEntry {
			score += 40
		}
	}

	if hasSSHToken(req.Cmd) {
		score += 30
	}

	for _, entry := range req.AllowFS {
		if entry != "/tmp/**" {
			score += 20
			break
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// defaultThresholds matches spec.md §4.3's stated fallback values.
var defaultThresholds = schema.GradingThresholds{
	Green:  "<=20",
	Yellow: "21..=60",
	Red:    ">=61",
}

// rangeExpr is a parsed threshold expression; ok is false when the source
// string didn't parse, so it simply never matches (per the Boundaries
// invariant: malformed expressions reject by not matching, never by abort).
type rangeExpr struct {
	ok       bool
	kind     byte // '<' for <=N, '>' for >=N, 'r' for A..=B
	lo, hi   int
}

func parseRangeExpr(s string) rangeExpr {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "<="):
		if n, err := strconv.Atoi(s[2:]); err == nil {
			return rangeExpr{ok: true, kind: '<', hi: n}
		}
	case strings.HasPrefix(s, ">="):
		if n, err := strconv.Atoi(s[2:]); err == nil {
			return rangeExpr{ok: true, kind: '>', lo: n}
		}
	default:
		if lo, hi, found := strings.Cut(s, "..="); found {
			loN, errLo := strconv.Atoi(strings.TrimSpace(lo))
			hiN, errHi := strconv.Atoi(strings.TrimSpace(hi))
			if errLo == nil && errHi == nil {
				return rangeExpr{ok: true, kind: 'r', lo: loN, hi: hiN}
			}
		}
	}
	return rangeExpr{ok: false}
}

func (r rangeExpr) matches(n int) bool {
	if !r.ok {
		return false
	}
	switch r.kind {
	case '<':
		return n <= r.hi
	case '>':
		return n >= r.lo
	case 'r':
		return n >= r.lo && n <= r.hi
	default:
		return false
	}
}

// VerdictFor maps a risk score to a verdict by evaluating thresholds in order
// green -> yellow -> red, first match wins, defaulting to red if none match.
func VerdictFor(score int, thresholds schema.GradingThresholds) schema.Verdict {
	if thresholds.Green == "" && thresholds.Yellow == "" && thresholds.Red == "" {
		thresholds = defaultThresholds
	}

	if parseRangeExpr(thresholds.Green).matches(score) {
		return schema.VerdictGreen
	}
	if parseRangeExpr(thresholds.Yellow).matches(score) {
		return schema.VerdictYellow
	}
	if parseRangeExpr(thresholds.Red).matches(score) {
		return schema.VerdictRed
	}
	return schema.VerdictRed
}

// Grade computes the full Outcome for a request against a policy.
func Grade(req *schema.SpellRequest, pol *schema.PolicyDoc) Outcome {
	score := Score(req, pol)
	return Outcome{
		RiskScore: score,
		Verdict:   VerdictFor(score, pol.Grading.Thresholds),
	}
}
