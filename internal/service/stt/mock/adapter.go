// Package mock provides an STT adapter that needs no cloud credentials. It
// plays back scripted storefront commands: a few interim transcripts, one
// final and an end-of-utterance marker per utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"voice-commerce-service/internal/service/stt"
)

// Script is one simulated utterance.
type Script struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultScripts cycles through typical shopper commands.
var DefaultScripts = []Script{
	{
		Partials:   []string{"show", "show me", "show me products"},
		Final:      "show me products",
		Confidence: 0.95,
	},
	{
		Partials:   []string{"search", "search for", "search for sunglasses"},
		Final:      "search for sunglasses",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"add", "add 3", "add 3 quantity"},
		Final:      "add 3 quantity 2",
		Confidence: 0.9,
	},
	{
		Partials:   []string{"go to", "go to cart"},
		Final:      "go to cart",
		Confidence: 0.97,
	},
}

// Delay is how long the adapter waits before delivering a result.
var Delay = 50 * time.Millisecond

var (
	scriptCounter int
	counterMu     sync.Mutex
)

// Adapter implements stt.Adapter. Each audio chunk advances the current
// script by one partial; the chunk after the last partial completes the
// utterance and moves on to the next script.
type Adapter struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	cb      stt.Callback
	scripts []Script
	current int
	partial int
	chunks  int
	closed  bool
	last    chan struct{} // completion of the latest delivery
}

// New returns an adapter starting at the next default script, so
// consecutive streams hear different commands.
func New() *Adapter {
	counterMu.Lock()
	start := scriptCounter % len(DefaultScripts)
	scriptCounter++
	counterMu.Unlock()

	scripts := append(append([]Script(nil), DefaultScripts[start:]...), DefaultScripts[:start]...)
	return NewWithScripts(scripts)
}

// NewWithScripts returns an adapter that plays scripts in order.
func NewWithScripts(scripts []Script) *Adapter {
	return &Adapter{scripts: scripts}
}

func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio advances the simulation. Audio content is ignored.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil || len(a.scripts) == 0 {
		return nil
	}
	a.chunks++

	s := a.scripts[a.current%len(a.scripts)]
	if a.partial < len(s.Partials) {
		text := s.Partials[a.partial]
		a.partial++
		a.deliver(func(cb stt.Callback) { cb.OnPartial(text) })
		return nil
	}

	a.current++
	a.partial = 0
	a.deliver(func(cb stt.Callback) {
		cb.OnFinal(s.Final, s.Confidence)
		cb.OnEndOfUtterance()
	})
	return nil
}

// Close stops the simulation. An utterance that already produced partials
// is finalized, as a recognizer does when the stream half-closes.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	if a.cb != nil && a.partial > 0 && len(a.scripts) > 0 {
		s := a.scripts[a.current%len(a.scripts)]
		a.current++
		a.partial = 0
		a.deliver(func(cb stt.Callback) {
			cb.OnFinal(s.Final, s.Confidence)
			cb.OnEndOfUtterance()
		})
	}
	a.closed = true
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

// Chunks returns the number of audio chunks received.
func (a *Adapter) Chunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunks
}

// deliver runs fn after Delay. Must be called with a.mu held. Deliveries
// are serialized so results keep their order.
func (a *Adapter) deliver(fn func(stt.Callback)) {
	cb := a.cb
	a.wg.Add(1)
	prev := a.last
	done := make(chan struct{})
	a.last = done
	go func() {
		defer a.wg.Done()
		defer close(done)
		time.Sleep(Delay)
		if prev != nil {
			<-prev
		}
		fn(cb)
	}()
}
