// Package utterance tracks the spoken phrase currently being recognized in a
// listening session.
package utterance

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of an utterance.
type State int

const (
	// StateOpen - interim transcripts may still arrive.
	StateOpen State = iota
	// StateFinalEmitted - the final transcript was handed to the interpreter.
	StateFinalEmitted
	// StateClosed - finished normally.
	StateClosed
	// StateDropped - abandoned without a final; nothing is dispatched for it.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalEmitted:
		return "FINAL_EMITTED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal reports whether the utterance is closed or dropped.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

var (
	ErrClosed              = errors.New("utterance is closed")
	ErrFinalAlreadyEmitted = errors.New("final already emitted for this utterance")
	ErrInterimAfterFinal   = errors.New("interim transcript after final")
)

// Lifecycle is the state machine of the current utterance. It is safe for
// concurrent use.
//
//	OPEN ──Finalize──▶ FINAL_EMITTED ──Close──▶ CLOSED
//	  │
//	  └──Drop──▶ DROPPED
//
// Interim text is kept so a client can render the live transcript; it is
// cleared by Reset when the next utterance starts.
type Lifecycle struct {
	mu       sync.RWMutex
	id       string
	state    State
	interim  string
	partials int
}

// NewLifecycle opens an utterance with the given id.
func NewLifecycle(id string) *Lifecycle {
	return &Lifecycle{id: id, state: StateOpen}
}

func (l *Lifecycle) ID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.id
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Interim returns the latest interim transcript.
func (l *Lifecycle) Interim() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.interim
}

// Partials returns how many interim transcripts were recorded.
func (l *Lifecycle) Partials() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.partials
}

// RecordInterim stores an interim transcript. Only an open utterance accepts one.
func (l *Lifecycle) RecordInterim(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.interim = text
		l.partials++
		return nil
	case StateFinalEmitted:
		return ErrInterimAfterFinal
	default:
		return ErrClosed
	}
}

// Finalize moves an open utterance to FINAL_EMITTED. It fails if a final was
// already emitted or the utterance is closed.
func (l *Lifecycle) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateFinalEmitted
		return nil
	case StateFinalEmitted:
		return ErrFinalAlreadyEmitted
	default:
		return ErrClosed
	}
}

// Close ends the utterance. Idempotent; a dropped utterance stays dropped.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateDropped {
		l.state = StateClosed
	}
}

// Drop abandons the utterance. It returns false when it was already terminal.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}

// Reset reopens the lifecycle for the next utterance.
func (l *Lifecycle) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.id = id
	l.state = StateOpen
	l.interim = ""
	l.partials = 0
}
