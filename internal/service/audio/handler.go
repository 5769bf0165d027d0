// Package audio bridges a streaming STT adapter into a voice session.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-commerce-service/internal/models"
	"voice-commerce-service/internal/observability/logging"
	"voice-commerce-service/internal/observability/metrics"
	"voice-commerce-service/internal/service/dispatcher"
	"voice-commerce-service/internal/service/stt"
)

// ErrLimitExceeded is returned by SendAudio when the current utterance grew
// past one of its limits. The utterance is dropped.
var ErrLimitExceeded = errors.New("utterance limit exceeded")

// UtteranceLimits are guardrails for a single utterance on the audio path.
type UtteranceLimits struct {
	MaxAudioBytes int64         // Max audio per utterance
	MaxDuration   time.Duration // Max utterance duration
	MaxPartials   int           // Max interim transcripts per utterance
}

// DefaultLimits returns the default utterance limits.
func DefaultLimits() UtteranceLimits {
	return UtteranceLimits{
		MaxAudioBytes: 5 * 1024 * 1024, // ~160s of 16kHz 16-bit mono
		MaxDuration:   5 * time.Minute,
		MaxPartials:   500,
	}
}

// Sink receives the transcripts recognized from audio. *voice.Session
// implements it.
type Sink interface {
	ID() string
	HandleEvent(ctx context.Context, ev models.TranscriptEvent) (dispatcher.Outcome, error)
	DropUtterance(reason string) bool
}

// Handler feeds audio to an STT adapter and forwards the adapter's results
// to a Sink. It implements stt.Callback.
type Handler struct {
	adapter  stt.Adapter
	sink     Sink
	provider string
	limits   UtteranceLimits
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu             sync.RWMutex
	ctx            context.Context
	startTime      time.Time
	lastAudioAt    time.Time
	audioBytes     int64
	partialCount   int
	dropped        bool
	utteranceCount int
	outcomes       []dispatcher.Outcome
	sinkErr        error
}

// NewHandler creates a handler with DefaultLimits.
func NewHandler(adapter stt.Adapter, sink Sink, provider string) *Handler {
	return NewHandlerWithLimits(adapter, sink, provider, DefaultLimits())
}

func NewHandlerWithLimits(adapter stt.Adapter, sink Sink, provider string, limits UtteranceLimits) *Handler {
	return &Handler{
		adapter:   adapter,
		sink:      sink,
		provider:  provider,
		limits:    limits,
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithStream(sink.ID(), provider),
		ctx:       context.Background(),
		startTime: time.Now(),
	}
}

// Start begins recognition with this handler as the callback receiver. ctx
// is also used for the sink calls made from the adapter's goroutine.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.startTime = time.Now()
	h.mu.Unlock()
	return h.adapter.Start(ctx, h)
}

// SendAudio forwards audio to the adapter after checking the limits. It
// fails once the sink reported an error, e.g. the session stopped.
func (h *Handler) SendAudio(ctx context.Context, audio []byte) error {
	h.mu.Lock()
	if h.sinkErr != nil {
		err := h.sinkErr
		h.mu.Unlock()
		return err
	}
	h.audioBytes += int64(len(audio))
	h.lastAudioAt = time.Now()
	currentBytes := h.audioBytes
	elapsed := time.Since(h.startTime)
	h.mu.Unlock()

	h.metrics.RecordAudioReceived(len(audio))

	if h.limits.MaxAudioBytes > 0 && currentBytes > h.limits.MaxAudioBytes {
		h.metrics.RecordLimitExceeded("audio_bytes")
		reason := fmt.Sprintf("max audio bytes exceeded: %d > %d", currentBytes, h.limits.MaxAudioBytes)
		h.DropUtterance(reason)
		return fmt.Errorf("%w: %s", ErrLimitExceeded, reason)
	}
	if h.limits.MaxDuration > 0 && elapsed > h.limits.MaxDuration {
		h.metrics.RecordLimitExceeded("duration")
		reason := fmt.Sprintf("max duration exceeded: %v > %v", elapsed.Round(time.Millisecond), h.limits.MaxDuration)
		h.DropUtterance(reason)
		return fmt.Errorf("%w: %s", ErrLimitExceeded, reason)
	}

	return h.adapter.SendAudio(ctx, audio)
}

// Close ends recognition.
func (h *Handler) Close() error {
	return h.adapter.Close()
}

// Outcomes returns the outcomes of the finals recognized so far.
func (h *Handler) Outcomes() []dispatcher.Outcome {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]dispatcher.Outcome(nil), h.outcomes...)
}

// UtteranceCount returns the number of utterance boundaries seen.
func (h *Handler) UtteranceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.utteranceCount
}

// Err returns the first error the sink reported.
func (h *Handler) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sinkErr
}

// UtteranceMetrics is the usage of the current utterance.
type UtteranceMetrics struct {
	AudioBytes   int64
	PartialCount int
	Duration     time.Duration
}

func (h *Handler) CurrentMetrics() UtteranceMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return UtteranceMetrics{
		AudioBytes:   h.audioBytes,
		PartialCount: h.partialCount,
		Duration:     time.Since(h.startTime),
	}
}

// IsUtteranceDropped reports whether the current utterance was dropped.
func (h *Handler) IsUtteranceDropped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// --- stt.Callback implementation ---

// OnPartial forwards an interim transcript unless the utterance was dropped
// or has produced too many partials.
func (h *Handler) OnPartial(text string) {
	h.mu.Lock()
	if h.dropped {
		h.mu.Unlock()
		return
	}
	h.partialCount++
	count := h.partialCount
	latency := time.Since(h.lastAudioAt)
	ctx := h.ctx
	h.mu.Unlock()

	if h.limits.MaxPartials > 0 && count > h.limits.MaxPartials {
		h.metrics.RecordLimitExceeded("partials")
		h.DropUtterance(fmt.Sprintf("max partials exceeded: %d > %d", count, h.limits.MaxPartials))
		return
	}

	h.metrics.RecordSTTLatency(h.provider, "partial", latency.Seconds())
	h.forward(ctx, models.TranscriptEvent{Text: text, Source: models.SourceSTT})
}

// OnFinal forwards the final transcript of the current utterance.
func (h *Handler) OnFinal(text string, confidence float64) {
	h.mu.Lock()
	if h.dropped {
		h.mu.Unlock()
		h.logger.Debug().Str("text", text).Msg("Final ignored for dropped utterance")
		return
	}
	latency := time.Since(h.lastAudioAt)
	ctx := h.ctx
	h.mu.Unlock()

	h.metrics.RecordSTTLatency(h.provider, "final", latency.Seconds())
	out, ok := h.forward(ctx, models.TranscriptEvent{
		Text:       text,
		IsFinal:    true,
		Confidence: confidence,
		Source:     models.SourceSTT,
	})
	if ok {
		h.mu.Lock()
		h.outcomes = append(h.outcomes, out)
		h.mu.Unlock()
	}
}

// OnEndOfUtterance resets the per-utterance counters.
func (h *Handler) OnEndOfUtterance() {
	h.mu.Lock()
	h.utteranceCount++
	n := h.utteranceCount
	old := UtteranceMetrics{
		AudioBytes:   h.audioBytes,
		PartialCount: h.partialCount,
		Duration:     time.Since(h.startTime),
	}
	h.audioBytes = 0
	h.partialCount = 0
	h.dropped = false
	h.startTime = time.Now()
	h.mu.Unlock()

	h.metrics.RecordUtterance()
	h.logger.Debug().
		Int("utterance", n).
		Int64("bytes", old.AudioBytes).
		Int("partials", old.PartialCount).
		Dur("duration", old.Duration).
		Msg("End of utterance")
}

// OnError drops the current utterance; nothing is dispatched for it.
func (h *Handler) OnError(err error) {
	h.metrics.RecordSTTError(h.provider, "stream")
	h.logger.Error().Err(err).Msg("STT error")
	h.DropUtterance("stt_error")
}

// DropUtterance abandons the current utterance. It returns false when it
// was already dropped.
func (h *Handler) DropUtterance(reason string) bool {
	h.mu.Lock()
	if h.dropped {
		h.mu.Unlock()
		return false
	}
	h.dropped = true
	h.mu.Unlock()

	h.logger.Warn().Str("reason", reason).Msg("Utterance dropped")
	h.sink.DropUtterance(reason)
	return true
}

func (h *Handler) forward(ctx context.Context, ev models.TranscriptEvent) (dispatcher.Outcome, bool) {
	out, err := h.sink.HandleEvent(ctx, ev)
	if err != nil {
		h.mu.Lock()
		if h.sinkErr == nil {
			h.sinkErr = err
		}
		h.mu.Unlock()
		h.logger.Warn().Err(err).Bool("final", ev.IsFinal).Msg("Transcript rejected by session")
		return dispatcher.Outcome{}, false
	}
	return out, true
}
