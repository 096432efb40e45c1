package ws

import (
	"testing"
	"time"
)

func TestRunTracker_Lifecycle(t *testing.T) {
	tr := NewRunTracker(testLogger())
	tr.Track("r1", "c1", "alice")
	tr.Track("r2", "c1", "alice")
	tr.Track("r3", "c2", "bob")

	if n := tr.ActiveForConn("c1"); n != 2 {
		t.Errorf("ActiveForConn(c1) = %d, want 2", n)
	}

	tr.MarkRunning("r1")
	if run, _ := tr.Get("r1"); run.State != RunRunning || run.StartedAt.IsZero() {
		t.Errorf("r1 = %+v", run)
	}
	tr.MarkCompleted("r1")
	tr.MarkFailed("r2", "boom")

	if run, _ := tr.Get("r2"); run.State != RunFailed || run.Error != "boom" {
		t.Errorf("r2 = %+v", run)
	}
	if n := tr.ActiveForConn("c1"); n != 0 {
		t.Errorf("ActiveForConn(c1) = %d, want 0", n)
	}
	if n := tr.ActiveCount(); n != 1 {
		t.Errorf("ActiveCount = %d, want 1", n)
	}
}

func TestRunTracker_MarkRunningOnlyFromAccepted(t *testing.T) {
	tr := NewRunTracker(testLogger())
	tr.Track("r1", "c1", "alice")
	tr.MarkCompleted("r1")
	tr.MarkRunning("r1")
	if run, _ := tr.Get("r1"); run.State != RunCompleted {
		t.Errorf("state = %s, want completed", run.State)
	}
	tr.MarkRunning("missing")
	if _, ok := tr.Get("missing"); ok {
		t.Error("unknown run created")
	}
}

func TestRunTracker_ForgetConn(t *testing.T) {
	tr := NewRunTracker(testLogger())
	tr.Track("r1", "c1", "alice")
	tr.Track("r2", "c2", "bob")
	if n := tr.ForgetConn("c1"); n != 1 {
		t.Errorf("ForgetConn = %d, want 1", n)
	}
	if _, ok := tr.Get("r1"); ok {
		t.Error("r1 still tracked")
	}
}

func TestRunTracker_CleanCompleted(t *testing.T) {
	tr := NewRunTracker(testLogger())
	tr.Track("done", "c1", "alice")
	tr.Track("live", "c1", "alice")
	tr.MarkCompleted("done")

	if n := tr.CleanCompleted(time.Hour); n != 0 {
		t.Errorf("fresh runs cleaned: %d", n)
	}
	time.Sleep(5 * time.Millisecond)
	if n := tr.CleanCompleted(time.Millisecond); n != 1 {
		t.Errorf("CleanCompleted = %d, want 1", n)
	}
	if _, ok := tr.Get("live"); !ok {
		t.Error("active run cleaned")
	}
}
