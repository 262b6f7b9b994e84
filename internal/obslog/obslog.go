// Package obslog provides the structured logging used across magicrune's
// CLI, policy pipeline, executor and worker, generalizing the
// debug/monitor-gated fmt.Fprintf texture of the sandbox manager it was
// adapted from into zap's structured logger.
package obslog

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger with the debug/monitor gating the CLI exposes as
// --debug and --monitor flags.
type Logger struct {
	z       *zap.Logger
	debug   bool
	monitor bool
}

// New builds a Logger. debug enables Debug-level messages; monitor enables
// the per-run message RecordCompletion emits. RecordPolicyViolation and
// RecordError log regardless of either flag.
func New(debug, monitor bool) *Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg),
		zapcore.AddSync(os.Stderr),
		level,
	)
	return &Logger{z: zap.New(core), debug: debug, monitor: monitor}
}

// Debug logs at debug level only when the logger was constructed with
// debug=true, mirroring the teacher's "[prefix] ..." gated logDebug helper.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	if l.debug {
		l.z.Debug(msg, fields...)
	}
}

// Info logs unconditionally at info level.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.z.Info(msg, fields...)
}

// Error logs unconditionally at error level.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.z.Error(msg, fields...)
}

// Sync flushes buffered log entries; call before process exit.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// ExecutionContext threads run identity and timing through a single
// request's lifecycle so call sites don't repeat run_id/policy_id on every
// log line by hand.
type ExecutionContext struct {
	RunID    string
	PolicyID string
	Start    time.Time
}

// NewExecutionContext starts a context for a freshly derived run_id.
func NewExecutionContext(runID, policyID string) ExecutionContext {
	return ExecutionContext{RunID: runID, PolicyID: policyID, Start: time.Now()}
}

// RecordCompletion logs a terminal, non-violating outcome. Only emitted when
// the logger was built with monitor=true, matching the CLI's --monitor gate.
func (l *Logger) RecordCompletion(ec ExecutionContext, verdict string, riskScore, exitCode int) {
	if !l.monitor {
		return
	}
	l.z.Info("run completed",
		zap.String("run_id", ec.RunID),
		zap.String("policy_id", ec.PolicyID),
		zap.String("verdict", verdict),
		zap.Int("risk_score", riskScore),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", time.Since(ec.Start)),
	)
}

// RecordPolicyViolation logs a pre-execution rejection.
func (l *Logger) RecordPolicyViolation(ec ExecutionContext, err error) {
	l.z.Info("policy violation",
		zap.String("run_id", ec.RunID),
		zap.String("policy_id", ec.PolicyID),
		zap.Error(err),
		zap.Duration("elapsed", time.Since(ec.Start)),
	)
}

// RecordError logs an unexpected runtime error.
func (l *Logger) RecordError(ec ExecutionContext, err error) {
	l.z.Error("runtime error",
		zap.String("run_id", ec.RunID),
		zap.String("policy_id", ec.PolicyID),
		zap.Error(err),
		zap.Duration("elapsed", time.Since(ec.Start)),
	)
}
