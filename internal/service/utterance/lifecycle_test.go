package utterance

import (
	"errors"
	"sync"
	"testing"
)

func TestGenerator_Next(t *testing.T) {
	gen := NewGenerator("sess-1")

	if got := gen.Next(); got != "sess-1-utt-1" {
		t.Errorf("expected 'sess-1-utt-1', got %s", got)
	}
	if got := gen.Next(); got != "sess-1-utt-2" {
		t.Errorf("expected 'sess-1-utt-2', got %s", got)
	}
	if gen.Issued() != 2 {
		t.Errorf("expected 2 issued, got %d", gen.Issued())
	}
}

func TestGenerator_Concurrent(t *testing.T) {
	gen := NewGenerator("sess")

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := gen.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("expected 1000 unique ids, got %d", len(seen))
	}
}

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("utt-1")

	if lc.State() != StateOpen {
		t.Errorf("expected OPEN, got %v", lc.State())
	}
	if lc.ID() != "utt-1" {
		t.Errorf("expected utt-1, got %s", lc.ID())
	}
	if lc.Interim() != "" || lc.Partials() != 0 {
		t.Error("expected no interim text")
	}
}

func TestLifecycle_InterimThenFinal(t *testing.T) {
	lc := NewLifecycle("utt-1")

	for _, text := range []string{"add", "add 3", "add 3 quantity"} {
		if err := lc.RecordInterim(text); err != nil {
			t.Fatalf("RecordInterim(%q): %v", text, err)
		}
	}
	if lc.Interim() != "add 3 quantity" || lc.Partials() != 3 {
		t.Errorf("unexpected interim state %q/%d", lc.Interim(), lc.Partials())
	}

	if err := lc.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if lc.State() != StateFinalEmitted {
		t.Errorf("expected FINAL_EMITTED, got %v", lc.State())
	}
	if err := lc.RecordInterim("late"); !errors.Is(err, ErrInterimAfterFinal) {
		t.Errorf("expected ErrInterimAfterFinal, got %v", err)
	}
	if err := lc.Finalize(); !errors.Is(err, ErrFinalAlreadyEmitted) {
		t.Errorf("expected ErrFinalAlreadyEmitted, got %v", err)
	}

	lc.Close()
	if lc.State() != StateClosed {
		t.Errorf("expected CLOSED, got %v", lc.State())
	}
	if err := lc.RecordInterim("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestLifecycle_Drop(t *testing.T) {
	lc := NewLifecycle("utt-1")
	_ = lc.RecordInterim("search for")

	if !lc.Drop() {
		t.Fatal("expected first drop to succeed")
	}
	if lc.Drop() {
		t.Error("expected second drop to report already terminal")
	}
	lc.Close()
	if lc.State() != StateDropped {
		t.Errorf("close must not hide a drop, got %v", lc.State())
	}
	if err := lc.Finalize(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestLifecycle_Reset(t *testing.T) {
	lc := NewLifecycle("utt-1")
	_ = lc.RecordInterim("cart")
	_ = lc.Finalize()
	lc.Close()

	lc.Reset("utt-2")

	if lc.ID() != "utt-2" || lc.State() != StateOpen {
		t.Errorf("unexpected state after reset: %s %v", lc.ID(), lc.State())
	}
	if lc.Interim() != "" || lc.Partials() != 0 {
		t.Error("reset must clear interim text")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateOpen:         "OPEN",
		StateFinalEmitted: "FINAL_EMITTED",
		StateClosed:       "CLOSED",
		StateDropped:      "DROPPED",
		State(9):          "UNKNOWN(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", int(s), s.String(), want)
		}
	}
}
