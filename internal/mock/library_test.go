package mock

import "testing"

func TestLibrary_SteadyNeverFails(t *testing.T) {
	l := NewLibrary(Steady)
	var x, y, a, r float64
	var m int32
	for i := 0; i < 50; i++ {
		if !l.GetTransformOfMap(&x, &y, &a, &m) {
			t.Fatalf("poll %d failed", i)
		}
		if !l.GetRotation(&r) {
			t.Fatalf("rotation %d failed", i)
		}
	}
	if got := l.Calls().Transform; got != 50 {
		t.Errorf("Transform calls = %d, want 50", got)
	}
}

func TestLibrary_FlakyFailsEveryNth(t *testing.T) {
	l := NewLibrary(Flaky)
	l.FailEvery = 3
	var x, y, a float64
	var m int32

	failures := 0
	for i := 0; i < 9; i++ {
		if !l.GetTransformOfMap(&x, &y, &a, &m) {
			failures++
		}
	}
	if failures != 3 {
		t.Errorf("failures = %d, want 3", failures)
	}

	buf := make([]byte, 256)
	if n := l.GetLastErrorJSON(buf); n == 0 {
		t.Error("expected error JSON after a failure")
	}
}

func TestLibrary_CloseTwice(t *testing.T) {
	l := NewLibrary(Steady)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err == nil {
		t.Error("second Close should report the double release")
	}
}
