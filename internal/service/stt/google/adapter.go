// Package google provides a Google Cloud Speech-to-Text streaming adapter.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-commerce-service/internal/observability/logging"
	"voice-commerce-service/internal/service/stt"
)

// Config holds the recognition settings sent with the first stream message.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string // LINEAR16, MULAW, FLAC, ...
	// Phrases bias recognition towards storefront vocabulary.
	Phrases []string
}

func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Phrases:        []string{"add to cart", "show me products", "go to cart", "search for", "quantity"},
	}
}

// Adapter implements stt.Adapter with Google streaming recognition. Results
// are received on a goroutine started by Start.
type Adapter struct {
	client *speech.Client
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
	done   chan struct{}
}

// New creates an adapter. Credentials come from the environment
// (GOOGLE_APPLICATION_CREDENTIALS).
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client: c,
		cfg:    cfg,
		logger: logging.WithComponent("stt-google"),
	}, nil
}

// Start opens the stream, sends the recognition config and starts receiving.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(a.cfg),
		},
	}); err != nil {
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.listen(stream, cb, a.done)
	return nil
}

// SendAudio sends one chunk of audio.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return errors.New("stream not started")
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream, waits for the remaining results and
// releases the client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	stream, done := a.stream, a.done
	a.stream = nil
	a.mu.Unlock()

	if stream != nil {
		if err := stream.CloseSend(); err != nil {
			a.logger.Warn().Err(err).Msg("CloseSend failed")
		}
		<-done
	}
	return a.client.Close()
}

func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback, done chan struct{}) {
	defer close(done)
	for {
		resp, err := stream.Recv()
		if err == io.EOF || status.Code(err) == codes.Canceled {
			return
		}
		if err != nil {
			cb.OnError(err)
			return
		}
		handleResponse(resp, cb)
	}
}

// handleResponse maps one response onto the callback. Every final result
// closes its utterance.
func handleResponse(resp *speechpb.StreamingRecognizeResponse, cb stt.Callback) {
	if st := resp.GetError(); st != nil {
		cb.OnError(status.ErrorProto(st))
		return
	}
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		if r.GetIsFinal() {
			cb.OnFinal(alt.GetTranscript(), float64(alt.GetConfidence()))
			cb.OnEndOfUtterance()
		} else {
			cb.OnPartial(alt.GetTranscript())
		}
	}
}

func streamingConfig(cfg Config) *speechpb.StreamingRecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:        parseAudioEncoding(cfg.AudioEncoding),
		SampleRateHertz: int32(cfg.SampleRateHz),
		LanguageCode:    cfg.LanguageCode,
	}
	if len(cfg.Phrases) > 0 {
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: cfg.Phrases}}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config:         rc,
		InterimResults: cfg.InterimResults,
	}
}

func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
