package obslog

import "testing"

func TestNewExecutionContext(t *testing.T) {
	ec := NewExecutionContext("r_abc", "pol-1")
	if ec.RunID != "r_abc" || ec.PolicyID != "pol-1" {
		t.Fatalf("unexpected context: %+v", ec)
	}
	if ec.Start.IsZero() {
		t.Fatal("expected Start to be set")
	}
}

func TestLoggerRecordMethodsDoNotPanic(t *testing.T) {
	l := New(true, true)
	ec := NewExecutionContext("r_1", "pol")
	l.Debug("debug message")
	l.Info("info message")
	l.RecordCompletion(ec, "green", 5, 0)
	l.RecordPolicyViolation(ec, errTest{})
	l.RecordError(ec, errTest{})
	if err := l.Sync(); err != nil {
		// zap.Sync commonly errors on stderr in test harnesses (ENOTTY);
		// only fail if it panics, which the calls above already proved it doesn't.
		_ = err
	}
}

type errTest struct{}

func (errTest) Error() string { return "test error" }
