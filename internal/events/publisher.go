// Package events publishes transcript and intent events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-commerce-service/internal/models"
	"voice-commerce-service/internal/observability/metrics"
	"voice-commerce-service/internal/schema"
)

// Publisher writes final transcripts and intents to separate Kafka topics.
// Without brokers it only logs.
type Publisher struct {
	writerTranscript *kafka.Writer
	writerIntent     *kafka.Writer
	principal        string
	topicTranscript  string
	topicIntent      string
	enabled          bool
	validator        *schema.Validator
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicIntent     string
	Principal       string
	Enabled         bool
}

// New creates a publisher. A nil config, Enabled=false or an empty broker
// list selects log-only mode.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
	}
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.principal = cfg.Principal
	p.topicTranscript = cfg.TopicTranscript
	p.topicIntent = cfg.TopicIntent

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution inside Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerTranscript = newWriter(cfg.Brokers, cfg.TopicTranscript, transport)
	p.writerIntent = newWriter(cfg.Brokers, cfg.TopicIntent, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicIntent", cfg.TopicIntent).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishTranscript publishes a final transcript keyed by session id.
func (p *Publisher) PublishTranscript(ctx context.Context, event models.TranscriptPublished) error {
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, event.EventType, event.SessionID, event)
}

// PublishIntent publishes an interpreter decision keyed by session id.
func (p *Publisher) PublishIntent(ctx context.Context, event models.IntentRecognized) error {
	return p.publish(ctx, p.writerIntent, p.topicIntent, event.EventType, event.SessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Refusing to publish invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Enabled reports whether events go to Kafka rather than only the log.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscript != nil {
		if e := p.writerTranscript.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcript writer")
			err = e
		}
	}
	if p.writerIntent != nil {
		if e := p.writerIntent.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing intent writer")
			err = e
		}
	}
	return err
}
