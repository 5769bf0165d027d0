package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"voice-commerce-service/internal/observability/metrics"
)

// Metadata keys copied into RPC log lines when present.
var loggedMetadata = []string{"x-session-id", "x-user-id"}

// UnaryServerInterceptor logs and counts unary gRPC calls. Failed calls are
// logged at warn level.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		finishRPC(ctx, m, info.FullMethod, "gRPC call", start, err)
		return resp, err
	}
}

// StreamServerInterceptor logs and counts audio streams.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		m.RecordStreamStart()

		err := handler(srv, ss)

		m.RecordStreamEnd(err == nil, time.Since(start).Seconds())
		finishRPC(ss.Context(), m, info.FullMethod, "gRPC stream completed", start, err)
		return err
	}
}

func finishRPC(ctx context.Context, m *metrics.Metrics, method, msg string, start time.Time, err error) {
	duration := time.Since(start)
	code := status.Code(err).String()
	m.RecordRPC(method, code, duration.Seconds())

	var ev *zerolog.Event
	if err != nil {
		ev = log.Warn().Err(err)
	} else {
		ev = log.Info()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, key := range loggedMetadata {
			if v := md.Get(key); len(v) > 0 {
				ev = ev.Str(key, v[0])
			}
		}
	}
	ev.Str("method", method).
		Str("code", code).
		Dur("duration", duration).
		Msg(msg)
}
