// Package stt defines the interface for streaming speech-to-text adapters.
package stt

import "context"

// Callback receives recognition results from an adapter. Calls may arrive
// on the adapter's own goroutine.
type Callback interface {
	// OnPartial is called with an interim transcript that may still change.
	OnPartial(text string)

	// OnFinal is called once per utterance with the settled transcript.
	OnFinal(text string, confidence float64)

	// OnEndOfUtterance marks the boundary after which a new utterance starts.
	OnEndOfUtterance()

	// OnError reports a recognition failure for the current utterance.
	OnError(err error)
}

// Adapter is a streaming recognizer (Google, mock).
type Adapter interface {
	Start(ctx context.Context, cb Callback) error
	SendAudio(ctx context.Context, audio []byte) error
	Close() error
}
