package interpreter

import "time"

// DefaultDebounceWindow is how long an identical final transcript is ignored.
const DefaultDebounceWindow = 1000 * time.Millisecond

// State is the per-session memory used for dedup.
type State struct {
	LastFinalTranscript string
	LastMatchAt         time.Time
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithDebounceWindow overrides DefaultDebounceWindow. Non-positive values are ignored.
func WithDebounceWindow(d time.Duration) Option {
	return func(i *Interpreter) {
		if d > 0 {
			i.window = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Interpreter) {
		if now != nil {
			i.now = now
		}
	}
}

// Interpreter classifies final transcripts for one listening session.
// It is not safe for concurrent use; the owning session serializes calls.
type Interpreter struct {
	state  State
	window time.Duration
	now    func() time.Time
}

// New creates an interpreter with empty state.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		window: DefaultDebounceWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Classify maps a final transcript to at most one intent.
//
// Precedence: dedup, clear, navigation, search, add-to-cart. The state is
// updated on every branch except the dedup short-circuit and empty input, so
// the debounce window is measured from the first occurrence of a phrase.
func (i *Interpreter) Classify(text string) Result {
	normalized := Normalize(text)
	if normalized == "" {
		return Result{Intent: None(), Reason: ReasonNoMatch}
	}

	now := i.now()
	if normalized == i.state.LastFinalTranscript && now.Sub(i.state.LastMatchAt) < i.window {
		return Result{Intent: None(), Reason: ReasonDuplicateSuppressed, Text: normalized}
	}

	i.state = State{LastFinalTranscript: normalized, LastMatchAt: now}
	return match(normalized)
}

// State returns a copy of the current dedup state.
func (i *Interpreter) State() State {
	return i.state
}

// Reset forgets the last transcript, as on an explicit stop.
func (i *Interpreter) Reset() {
	i.state = State{}
}

// DebounceWindow returns the configured window.
func (i *Interpreter) DebounceWindow() time.Duration {
	return i.window
}
