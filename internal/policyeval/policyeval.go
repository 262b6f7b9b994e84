// Package policyeval implements PolicyEvaluator: the sequential, first-
// failure-wins cross-check of a SpellRequest against a PolicyDoc described in
// spec.md §4.4. Each failure is a typed error, the way the teacher's
// CommandBlockedError (internal/sandbox/command.go) models a structured
// failure instead of a bare fmt.Errorf string.
package policyeval

import (
	"fmt"

	"github.com/magicrune/magicrune/internal/netmatch"
	"github.com/magicrune/magicrune/internal/pathmatch"
	"github.com/magicrune/magicrune/internal/schema"
)

// Violation is the marker interface every policy-evaluation failure
// implements, letting callers errors.As to a common type when they don't
// need the specific one.
type Violation interface {
	error
	policyViolation()
}

// EnvDeniedError reports an env var name matched a deny pattern.
type EnvDeniedError struct{ Name string }

func (e *EnvDeniedError) Error() string { return fmt.Sprintf("policyeval: env %q is denied", e.Name) }
func (*EnvDeniedError) policyViolation() {}

// EnvNotAllowedError reports an env var name matched no allow pattern.
type EnvNotAllowedError struct{ Name string }

func (e *EnvNotAllowedError) Error() string {
	return fmt.Sprintf("policyeval: env %q is not in allow-list", e.Name)
}
func (*EnvNotAllowedError) policyViolation() {}

// NetNotAllowedError reports network intent with no allow-entries at all.
type NetNotAllowedError struct{}

func (*NetNotAllowedError) Error() string { return "policyeval: network intent but no allow-entries" }
func (*NetNotAllowedError) policyViolation() {}

// NetEndpointNotAllowedError reports a specific extracted endpoint matched no entry.
type NetEndpointNotAllowedError struct{ Host string }

func (e *NetEndpointNotAllowedError) Error() string {
	return fmt.Sprintf("policyeval: endpoint %q is not allowed", e.Host)
}
func (*NetEndpointNotAllowedError) policyViolation() {}

// TimeoutExceedsLimitError reports request timeout_sec over policy wall_sec.
type TimeoutExceedsLimitError struct{ RequestedSec, LimitSec int }

func (e *TimeoutExceedsLimitError) Error() string {
	return fmt.Sprintf("policyeval: timeout_sec %d exceeds limit %d", e.RequestedSec, e.LimitSec)
}
func (*TimeoutExceedsLimitError) policyViolation() {}

// PathInvalidError reports a file path that is not absolute or contains "..".
type PathInvalidError struct{ Path string }

func (e *PathInvalidError) Error() string { return fmt.Sprintf("policyeval: path %q is invalid", e.Path) }
func (*PathInvalidError) policyViolation() {}

// PathReadonlyError reports a file path matched a readonly pattern.
type PathReadonlyError struct{ Path string }

func (e *PathReadonlyError) Error() string {
	return fmt.Sprintf("policyeval: path %q is readonly", e.Path)
}
func (*PathReadonlyError) policyViolation() {}

// PathNotAllowedError reports a file path matched neither /tmp, request
// allow_fs, nor policy capabilities.fs.allow.
type PathNotAllowedError struct{ Path string }

func (e *PathNotAllowedError) Error() string {
	return fmt.Sprintf("policyeval: path %q is not allowed", e.Path)
}
func (*PathNotAllowedError) policyViolation() {}

// FileOp is a materialization instruction performed before the child spawns.
type FileOp struct {
	Path    string
	Content []byte
}

// ExecutionPlan is the successful-evaluation output: limits, file ops,
// effective env, and the command/stdin to run.
type ExecutionPlan struct {
	Limits schema.Limits
	Files  []FileOp
	Env    map[string]string
	Cmd    string
	Stdin  string
}

func isUnderTmp(path string) bool {
	return pathmatch.Matches(path, "/tmp/**") || path == "/tmp"
}

// fsPatternsMatch checks path against pats using both spec.md §4.2's six
// literal PathPattern variants and full doublestar glob syntax, so a
// filesystem allow/readonly list can express patterns the literal grammar
// can't (nested "**", character classes) without abandoning the spec's
// simpler variants for the common case.
func fsPatternsMatch(path string, pats []string) bool {
	return pathmatch.MatchesAny(path, pats) || pathmatch.MatchesAnyGlob(path, pats)
}

// Evaluate runs the five sequential checks of spec.md §4.4, in order,
// returning the first violation encountered or a complete ExecutionPlan.
func Evaluate(req *schema.SpellRequest, pol *schema.PolicyDoc, networkIntent bool, hosts []string) (*ExecutionPlan, error) {
	// 1. Env deny
	for name := range req.Env {
		if pathmatch.MatchesAny(name, pol.Capabilities.Env.Deny) {
			return nil, &EnvDeniedError{Name: name}
		}
	}

	// 2. Env allow (only enforced if an allow-list is configured)
	if len(pol.Capabilities.Env.Allow) > 0 {
		for name := range req.Env {
			if !pathmatch.MatchesAny(name, pol.Capabilities.Env.Allow) {
				return nil, &EnvNotAllowedError{Name: name}
			}
		}
	}

	// 3. Network
	if networkIntent {
		allEntries := append(append([]string{}, req.AllowNet...), pol.Capabilities.Net.Allow...)
		if len(allEntries) == 0 {
			return nil, &NetNotAllowedError{}
		}
		for _, host := range hosts {
			if !netmatch.MatchesAny(host, allEntries) {
				return nil, &NetEndpointNotAllowedError{Host: host}
			}
		}
	}

	// 4. Timeout
	if req.TimeoutSec > pol.Limits.WallSec {
		return nil, &TimeoutExceedsLimitError{RequestedSec: req.TimeoutSec, LimitSec: pol.Limits.WallSec}
	}

	// 5. Files
	var ops []FileOp
	for _, f := range req.Files {
		if !fileOpPathValid(f.Path) {
			return nil, &PathInvalidError{Path: f.Path}
		}
		if fsPatternsMatch(f.Path, pol.Capabilities.FS.Readonly) {
			return nil, &PathReadonlyError{Path: f.Path}
		}
		allowed := isUnderTmp(f.Path) ||
			fsPatternsMatch(f.Path, req.AllowFS) ||
			fsPatternsMatch(f.Path, pol.Capabilities.FS.Allow)
		if !allowed {
			return nil, &PathNotAllowedError{Path: f.Path}
		}
		content, err := f.Decode()
		if err != nil {
			return nil, &PathInvalidError{Path: f.Path}
		}
		ops = append(ops, FileOp{Path: f.Path, Content: content})
	}

	env := make(map[string]string, len(req.Env))
	for k, v := range req.Env {
		env[k] = fmt.Sprintf("%v", v)
	}

	return &ExecutionPlan{
		Limits: pol.Limits,
		Files:  ops,
		Env:    env,
		Cmd:    req.Cmd,
		Stdin:  req.Stdin,
	}, nil
}

func fileOpPathValid(path string) bool {
	if len(path) == 0 || path[0] != '/' {
		return false
	}
	// ".." segment check mirrors schema.Validate's rule; kept independent so
	// PolicyEvaluator doesn't depend on SpellRequest.Validate having run.
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if path[start:i] == ".." {
				return false
			}
			start = i + 1
		}
	}
	return true
}
