// Package grpcapi serves VoiceCommandService: transcript interpretation and
// streaming audio recognition for voice sessions.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"voice-commerce-service/internal/models"
	"voice-commerce-service/internal/observability/logging"
	"voice-commerce-service/internal/service/audio"
	"voice-commerce-service/internal/service/dispatcher"
	"voice-commerce-service/internal/service/stt"
	"voice-commerce-service/internal/service/voice"
)

// AdapterFactory opens a recognizer for one audio stream.
type AdapterFactory func(ctx context.Context) (stt.Adapter, error)

// Config wires the server.
type Config struct {
	Voice      *voice.Manager
	NewAdapter AdapterFactory
	Provider   string
	Limits     audio.UtteranceLimits
}

type Server struct {
	voice      *voice.Manager
	newAdapter AdapterFactory
	provider   string
	limits     audio.UtteranceLimits
	logger     zerolog.Logger
}

// Register creates the server and registers it on g.
func Register(g *grpc.Server, cfg Config) *Server {
	s := &Server{
		voice:      cfg.Voice,
		newAdapter: cfg.NewAdapter,
		provider:   cfg.Provider,
		limits:     cfg.Limits,
		logger:     logging.WithComponent("grpc"),
	}
	g.RegisterService(&ServiceDesc, s)
	return s
}

// session resolves the session for a call. A session id must name a live
// session, owned by userID when one is given. With only a user id the user's
// latest live session is reused, so its dedup state carries across calls;
// a new one is started when the user has none.
func (s *Server) session(sessionID, userID string) (*voice.Session, error) {
	if sessionID != "" {
		var (
			sess *voice.Session
			err  error
		)
		if userID != "" {
			sess, err = s.voice.GetForUser(sessionID, userID)
		} else {
			sess, err = s.voice.Get(sessionID)
		}
		if err != nil {
			return nil, status.Errorf(codes.NotFound, "session %s: %v", sessionID, err)
		}
		return sess, nil
	}
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId or userId is required")
	}
	if sess, ok := s.voice.LatestForUser(userID); ok {
		return sess, nil
	}
	return s.voice.Start(userID), nil
}

func (s *Server) Interpret(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	text := fields["text"].GetStringValue()
	if text == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}

	sess, err := s.session(fields["sessionId"].GetStringValue(), fields["userId"].GetStringValue())
	if err != nil {
		return nil, err
	}

	out, err := sess.HandleEvent(ctx, models.TranscriptEvent{
		Text:       text,
		IsFinal:    fields["isFinal"].GetBoolValue(),
		Confidence: fields["confidence"].GetNumberValue(),
		Source:     models.SourceSTT,
	})
	if errors.Is(err, voice.ErrSessionStopped) {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	outcome, err := toValue(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"sessionId": structpb.NewStringValue(sess.ID()),
		"outcome":   outcome,
	}}, nil
}

// StreamAudio recognizes the streamed audio with the configured adapter and
// feeds every result into the session resolved from the x-session-id and
// x-user-id metadata. The summary lists the outcomes of the final transcripts.
func (s *Server) StreamAudio(stream grpc.ServerStream) error {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	sess, err := s.session(first(md, SessionIDKey), first(md, UserIDKey))
	if err != nil {
		return err
	}

	adapter, err := s.newAdapter(ctx)
	if err != nil {
		return status.Errorf(codes.Unavailable, "stt adapter: %v", err)
	}
	h := audio.NewHandlerWithLimits(adapter, sess, s.provider, s.limits)
	if err := h.Start(ctx); err != nil {
		_ = adapter.Close()
		return status.Errorf(codes.Unavailable, "stt start: %v", err)
	}

	log := s.logger.With().Str("sessionId", sess.ID()).Str("sttProvider", s.provider).Logger()
	log.Info().Msg("Audio stream started")

	var chunks, bytes int
	for {
		chunk := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = h.Close()
			return err
		}
		chunks++
		bytes += len(chunk.GetValue())

		if err := h.SendAudio(ctx, chunk.GetValue()); err != nil {
			if errors.Is(err, voice.ErrSessionStopped) {
				// Navigation ended listening; drain the rest.
				continue
			}
			_ = h.Close()
			if errors.Is(err, audio.ErrLimitExceeded) {
				return status.Error(codes.ResourceExhausted, err.Error())
			}
			return status.Errorf(codes.Internal, "send audio: %v", err)
		}
	}

	if err := h.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing STT adapter failed")
	}

	outcomes := make([]*structpb.Value, 0)
	for _, out := range h.Outcomes() {
		v, err := toValue(out)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		outcomes = append(outcomes, v)
	}

	log.Info().
		Int("chunks", chunks).
		Int("bytes", bytes).
		Int("utterances", h.UtteranceCount()).
		Int("outcomes", len(outcomes)).
		Msg("Audio stream completed")

	return stream.SendMsg(&structpb.Struct{Fields: map[string]*structpb.Value{
		"sessionId":  structpb.NewStringValue(sess.ID()),
		"chunks":     structpb.NewNumberValue(float64(chunks)),
		"bytes":      structpb.NewNumberValue(float64(bytes)),
		"utterances": structpb.NewNumberValue(float64(h.UtteranceCount())),
		"listening":  structpb.NewBoolValue(!sess.Stopped()),
		"outcomes":   structpb.NewListValue(&structpb.ListValue{Values: outcomes}),
	}})
}

// toValue converts an outcome through its JSON form.
func toValue(out dispatcher.Outcome) (*structpb.Value, error) {
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewValue(m)
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
