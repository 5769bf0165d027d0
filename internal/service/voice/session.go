// Package voice runs listening sessions: transcripts in, storefront outcomes out.
package voice

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
	"voice-commerce-service/internal/service/interpreter"
	"voice-commerce-service/internal/service/queue"
	"voice-commerce-service/internal/service/utterance"
)

var (
	ErrSessionNotFound = errors.New("voice session not found")
	ErrSessionStopped  = errors.New("voice session stopped")
)

// Dispatcher applies a classification to the storefront.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, res interpreter.Result) (dispatcher.Outcome, error)
}

// Publisher receives the events a session emits. Failures are logged only.
type Publisher interface {
	PublishTranscript(ctx context.Context, event models.TranscriptPublished) error
	PublishIntent(ctx context.Context, event models.IntentRecognized) error
}

// Info is a point-in-time view of a session.
type Info struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Listening    bool      `json:"listening"`
	Transcript   string    `json:"transcript"`
	UtteranceID  string    `json:"utteranceId"`
	Utterances   uint64    `json:"utterances"`
}

// Session is one listening session. Final transcripts are classified and
// dispatched one at a time on the session's queue; the interpreter is only
// touched from that queue or after it has drained.
type Session struct {
	id        string
	userID    string
	createdAt time.Time
	now       func() time.Time

	interp     *interpreter.Interpreter
	dispatcher Dispatcher
	publisher  Publisher
	queue      *queue.Queue
	ids        *utterance.Generator
	utterance  *utterance.Lifecycle
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	submitMu sync.Mutex

	mu           sync.Mutex
	stopped      bool
	display      string
	lastActivity time.Time
	onStop       func(*Session)
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		UserID:       s.userID,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Listening:    !s.stopped,
		Transcript:   s.display,
		UtteranceID:  s.utterance.ID(),
		Utterances:   s.ids.Issued(),
	}
}

// Stopped reports whether the session has stopped listening.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Session) touch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.lastActivity = s.now()
	return true
}

// HandleEvent processes one transcript update. Interim updates only refresh
// the displayed transcript. A final update closes the current utterance at
// once, so later interims belong to the next one, and is then classified and
// dispatched on the session queue; if the outcome navigates away the session
// stops listening.
func (s *Session) HandleEvent(ctx context.Context, ev models.TranscriptEvent) (dispatcher.Outcome, error) {
	if !s.touch() {
		return dispatcher.Outcome{}, ErrSessionStopped
	}
	if !ev.IsFinal {
		return s.handleInterim(ev), nil
	}

	out, err := s.submitFinal(ctx, ev)
	if errors.Is(err, queue.ErrQueueClosed) {
		return dispatcher.Outcome{}, ErrSessionStopped
	}
	if err != nil {
		return dispatcher.Outcome{}, err
	}

	if out.StopListening {
		s.Stop()
	}
	return out, nil
}

type finalResult struct {
	out dispatcher.Outcome
	err error
}

// submitFinal claims the utterance and enqueues the final under one lock, so
// utterance ids follow queue order, then waits for the result.
func (s *Session) submitFinal(ctx context.Context, ev models.TranscriptEvent) (dispatcher.Outcome, error) {
	result := make(chan finalResult, 1)

	s.submitMu.Lock()
	utteranceID := s.claimUtterance()
	err := s.queue.Enqueue(ctx, func(context.Context) (err error) {
		var out dispatcher.Outcome
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handle final transcript: %v", r)
			}
			result <- finalResult{out: out, err: err}
		}()
		out, err = s.handleFinal(ctx, utteranceID, ev)
		return err
	})
	s.submitMu.Unlock()
	if err != nil {
		return dispatcher.Outcome{}, err
	}

	select {
	case r := <-result:
		return r.out, r.err
	case <-ctx.Done():
		return dispatcher.Outcome{}, ctx.Err()
	case <-s.queue.Done():
		select {
		case r := <-result:
			return r.out, r.err
		default:
			return dispatcher.Outcome{}, ErrSessionStopped
		}
	}
}

// claimUtterance finalizes the open utterance, opens the next one and
// returns the finalized id.
func (s *Session) claimUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.utterance.ID()
	if err := s.utterance.Finalize(); err != nil {
		s.logger.Debug().Err(err).Str("utteranceId", id).Msg("Final transcript for a closed utterance")
	}
	s.utterance.Close()
	s.utterance.Reset(s.ids.Next())
	s.metrics.RecordUtteranceCompleted()
	s.metrics.RecordUtteranceCreated()
	return id
}

func (s *Session) handleInterim(ev models.TranscriptEvent) dispatcher.Outcome {
	s.mu.Lock()
	if err := s.utterance.RecordInterim(ev.Text); err != nil {
		s.logger.Debug().Err(err).Str("utteranceId", s.utterance.ID()).Msg("Interim transcript outside an open utterance")
	}
	s.display = ev.Text
	s.mu.Unlock()

	s.metrics.RecordPartialTranscript()
	return dispatcher.Outcome{
		Action:     dispatcher.ActionNone,
		Intent:     interpreter.KindNone.String(),
		Transcript: ev.Text,
		Interim:    true,
	}
}

// handleFinal runs on the session queue. A caller that gave up before the
// task ran leaves the interpreter untouched, and a failed dispatch is
// forgotten, so a retry of the same phrase is not suppressed.
func (s *Session) handleFinal(ctx context.Context, utteranceID string, ev models.TranscriptEvent) (dispatcher.Outcome, error) {
	if err := ctx.Err(); err != nil {
		s.logger.Debug().Err(err).Str("utteranceId", utteranceID).Msg("Final transcript abandoned before dispatch")
		return dispatcher.Outcome{}, err
	}
	s.metrics.RecordFinalTranscript()

	res := s.interp.Classify(ev.Text)
	s.metrics.RecordClassification(res.Intent.Kind.String(), string(res.Reason))

	out, err := s.dispatcher.Dispatch(ctx, s.userID, res)
	if err != nil {
		s.interp.Reset()
		s.logger.Error().Err(err).Str("utteranceId", utteranceID).Str("text", ev.Text).Msg("Dispatch failed")
		return dispatcher.Outcome{}, err
	}

	s.mu.Lock()
	if out.Action == dispatcher.ActionClearTranscript {
		s.display = ""
	} else {
		s.display = ev.Text
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("utteranceId", utteranceID).
		Str("text", res.Text).
		Str("intent", res.Intent.Kind.String()).
		Str("reason", string(res.Reason)).
		Str("action", string(out.Action)).
		Msg("Final transcript handled")

	s.publish(context.WithoutCancel(ctx), utteranceID, ev, res, out)
	return out, nil
}

// DropUtterance abandons the utterance in progress without dispatching it.
// It returns false when there was nothing open to drop.
func (s *Session) DropUtterance(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.utterance.ID()
	if !s.utterance.Drop() {
		return false
	}
	s.metrics.RecordUtteranceDropped(reason)
	s.logger.Warn().Str("utteranceId", id).Str("reason", reason).Msg("Utterance dropped")
	s.utterance.Reset(s.ids.Next())
	s.metrics.RecordUtteranceCreated()
	return true
}

func (s *Session) publish(ctx context.Context, utteranceID string, ev models.TranscriptEvent, res interpreter.Result, out dispatcher.Outcome) {
	if s.publisher == nil {
		return
	}
	ts := s.now().UnixMilli()

	transcript := models.TranscriptPublished{
		EventType:   models.EventTranscriptFinal,
		SessionID:   s.id,
		UserID:      s.userID,
		UtteranceID: utteranceID,
		Timestamp:   ts,
		Text:        ev.Text,
		IsFinal:     true,
		Confidence:  ev.Confidence,
		Source:      ev.Source,
	}
	if err := s.publisher.PublishTranscript(ctx, transcript); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish transcript")
	}

	intent := models.IntentRecognized{
		EventType:    models.EventIntentRecognized,
		SessionID:    s.id,
		UserID:       s.userID,
		UtteranceID:  utteranceID,
		Timestamp:    ts,
		Transcript:   res.Text,
		Intent:       res.Intent.Kind.String(),
		Reason:       string(res.Reason),
		Destination:  res.Intent.Destination.String(),
		Term:         res.Intent.Term,
		ProductIndex: res.Intent.ProductIndex,
		ProductName:  res.Intent.ProductName,
		Quantity:     res.Intent.Quantity,
		Action:       string(out.Action),
	}
	if err := s.publisher.PublishIntent(ctx, intent); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish intent")
	}
}

// Stop ends listening: queued finals are drained, then the interpreter state
// is discarded. Later events fail with ErrSessionStopped. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	onStop := s.onStop
	s.mu.Unlock()

	s.queue.Close()
	<-s.queue.Done()

	s.interp.Reset()
	// An utterance that was being spoken is abandoned; an idle one just closes.
	s.mu.Lock()
	if s.utterance.Partials() > 0 && s.utterance.Drop() {
		s.metrics.RecordUtteranceDropped("session_stopped")
	} else {
		s.utterance.Close()
	}
	s.mu.Unlock()
	s.metrics.RecordSessionEnd(s.now().Sub(s.createdAt).Seconds())
	s.logger.Info().Msg("Voice session stopped")

	if onStop != nil {
		onStop(s)
	}
}

func newSessionLogger(id, userID string) zerolog.Logger {
	return logging.WithSession(id, userID).With().Str("component", "voice").Logger()
}
