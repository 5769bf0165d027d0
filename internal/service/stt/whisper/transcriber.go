// Package whisper transcribes recorded audio uploads with the OpenAI audio
// transcription API.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"voice-commerce-service/internal/observability/logging"
	"voice-commerce-service/internal/observability/metrics"
)

const provider = "whisper"

var (
	ErrNotConfigured    = errors.New("transcription is not configured")
	ErrEmptyAudio       = errors.New("no audio file provided")
	ErrTooLarge         = errors.New("audio file too large")
	ErrUnsupportedMedia = errors.New("only audio files are allowed")
)

// Config configures the transcriber.
type Config struct {
	APIKey   string
	BaseURL  string // optional, for compatible endpoints
	Model    string
	Language string // ISO-639-1, optional
	Prompt   string
	Proxy    string // SOCKS5 host:port, optional
	Timeout  time.Duration
	MaxBytes int64
}

// DefaultConfig returns the defaults used by the upload endpoint.
func DefaultConfig() Config {
	return Config{
		Model:    "whisper-1",
		Timeout:  60 * time.Second,
		MaxBytes: 10 * 1024 * 1024,
	}
}

// Options override the configured language and prompt for one request.
type Options struct {
	Language string
	Prompt   string
}

// Transcriber sends audio files to the transcription endpoint.
type Transcriber struct {
	client  openai.Client
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a Transcriber. It fails with ErrNotConfigured without an API key.
func New(cfg Config) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Proxy != "" {
		hc, err := newSocksClient(cfg.Proxy, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", cfg.Proxy, err)
		}
		opts = append(opts, option.WithHTTPClient(hc))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Transcriber{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("whisper"),
	}, nil
}

// MaxBytes returns the upload size limit.
func (t *Transcriber) MaxBytes() int64 { return t.cfg.MaxBytes }

// CheckUpload validates an upload before it is read.
func CheckUpload(size, maxBytes int64, contentType string) error {
	if size == 0 {
		return ErrEmptyAudio
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, size, maxBytes)
	}
	if !strings.HasPrefix(contentType, "audio/") {
		return fmt.Errorf("%w: %q", ErrUnsupportedMedia, contentType)
	}
	return nil
}

// Transcribe uploads audio and returns the recognized text, trimmed.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename, contentType string, size int64, opts Options) (string, error) {
	if err := CheckUpload(size, t.cfg.MaxBytes, contentType); err != nil {
		return "", err
	}
	if filename == "" {
		filename = "recording.webm"
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, contentType),
		Model: openai.AudioModel(t.cfg.Model),
	}
	if lang := firstNonEmpty(opts.Language, t.cfg.Language); lang != "" {
		params.Language = openai.String(lang)
	}
	if prompt := firstNonEmpty(opts.Prompt, t.cfg.Prompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}

	start := time.Now()
	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		t.metrics.RecordSTTError(provider, "request")
		t.logger.Error().Err(err).Str("file", filename).Int64("bytes", size).Msg("Transcription failed")
		return "", fmt.Errorf("transcribe %s: %w", filename, err)
	}
	t.metrics.RecordSTTLatency(provider, "final", time.Since(start).Seconds())
	t.metrics.RecordAudioReceived(int(size))

	text := strings.TrimSpace(resp.Text)
	t.logger.Info().
		Str("file", filename).
		Int64("bytes", size).
		Dur("took", time.Since(start)).
		Str("text", text).
		Msg("Audio transcribed")
	return text, nil
}

func newSocksClient(addr string, timeout time.Duration) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		},
		Timeout: timeout,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
