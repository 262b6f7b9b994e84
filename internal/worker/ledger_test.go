package worker

import "testing"

func TestInMemoryLedgerPutAndGet(t *testing.T) {
	l := NewInMemoryLedger()
	if _, ok := l.Get("missing"); ok {
		t.Fatal("expected miss on empty ledger")
	}
	l.Put(RunRecord{RunID: "r_1", Verdict: "green", RiskScore: 5, ExitCode: 0})
	rec, ok := l.Get("r_1")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if rec.Verdict != "green" || rec.RiskScore != 5 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestInMemoryLedgerOverwrite(t *testing.T) {
	l := NewInMemoryLedger()
	l.Put(RunRecord{RunID: "r_1", Verdict: "green", RiskScore: 5, ExitCode: 0})
	l.Put(RunRecord{RunID: "r_1", Verdict: "red", RiskScore: 90, ExitCode: 20})
	rec, _ := l.Get("r_1")
	if rec.Verdict != "red" || rec.RiskScore != 90 || rec.ExitCode != 20 {
		t.Fatalf("overwrite did not apply: %+v", rec)
	}
}
