package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"voice-commerce-service/internal/models"
	"voice-commerce-service/internal/schema"
)

// Event is one decoded message from a transcript or intent topic. Exactly one
// of Transcript and Intent is set.
type Event struct {
	Topic      string                      `json:"topic"`
	EventType  string                      `json:"eventType"`
	Key        string                      `json:"key"`
	Transcript *models.TranscriptPublished `json:"transcript,omitempty"`
	Intent     *models.IntentRecognized    `json:"intent,omitempty"`
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	Brokers []string
	Topics  []string
	// Since rewinds each reader to messages newer than now-Since. Zero reads
	// from the latest offset.
	Since time.Duration
}

// Subscriber reads partition 0 of each topic without a consumer group, so
// several viewers can follow the same topics independently.
type Subscriber struct {
	cfg       SubscriberConfig
	validator *schema.Validator
}

func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	return &Subscriber{cfg: cfg, validator: schema.New()}
}

// Run reads every topic until ctx is done and hands each decodable message to
// fn. fn is called from one goroutine per topic.
func (s *Subscriber) Run(ctx context.Context, fn func(Event)) error {
	if len(s.cfg.Brokers) == 0 || len(s.cfg.Topics) == 0 {
		return errors.New("subscriber needs brokers and topics")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range s.cfg.Topics {
		g.Go(func() error {
			return s.consume(ctx, topic, fn)
		})
	}
	return g.Wait()
}

func (s *Subscriber) consume(ctx context.Context, topic string, fn func(Event)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   s.cfg.Brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if s.cfg.Since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-s.cfg.Since)); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind reader, starting from latest")
		}
	} else if err := reader.SetOffset(kafka.LastOffset); err != nil {
		return fmt.Errorf("set offset on %s: %w", topic, err)
	}

	log.Info().Str("topic", topic).Dur("since", s.cfg.Since).Msg("Consuming events")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := s.Decode(msg)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("Skipping undecodable event")
			continue
		}
		fn(ev)
	}
}

// Decode turns a Kafka message written by Publisher back into an Event. The
// eventType header selects the payload type; without it the payload's own
// eventType field is used.
func (s *Subscriber) Decode(msg kafka.Message) (Event, error) {
	ev := Event{Topic: msg.Topic, Key: string(msg.Key)}
	for _, h := range msg.Headers {
		if h.Key == "eventType" {
			ev.EventType = string(h.Value)
		}
	}
	if ev.EventType == "" {
		var head struct {
			EventType string `json:"eventType"`
		}
		if err := json.Unmarshal(msg.Value, &head); err != nil {
			return Event{}, err
		}
		ev.EventType = head.EventType
	}

	switch ev.EventType {
	case models.EventTranscriptPartial, models.EventTranscriptFinal:
		var t models.TranscriptPublished
		if err := json.Unmarshal(msg.Value, &t); err != nil {
			return Event{}, err
		}
		if err := s.validator.Validate(t); err != nil {
			return Event{}, err
		}
		ev.Transcript = &t
	case models.EventIntentRecognized:
		var i models.IntentRecognized
		if err := json.Unmarshal(msg.Value, &i); err != nil {
			return Event{}, err
		}
		if err := s.validator.Validate(i); err != nil {
			return Event{}, err
		}
		ev.Intent = &i
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.EventType)
	}
	return ev, nil
}
