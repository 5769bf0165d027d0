package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"voice-commerce-service/internal/observability"
	"voice-commerce-service/internal/observability/metrics"
	"voice-commerce-service/internal/service/audio"
	"voice-commerce-service/internal/service/catalog"
	"voice-commerce-service/internal/service/dispatcher"
	"voice-commerce-service/internal/service/stt"
	"voice-commerce-service/internal/service/stt/mock"
	"voice-commerce-service/internal/service/voice"
	"voice-commerce-service/internal/store/cart"
)

type testEnv struct {
	client  *Client
	manager *voice.Manager
	carts   *cart.Store
}

func newTestEnv(t *testing.T, scripts []mock.Script, limits audio.UtteranceLimits) *testEnv {
	t.Helper()
	old := mock.Delay
	mock.Delay = time.Millisecond
	t.Cleanup(func() { mock.Delay = old })

	carts, err := cart.Open("")
	if err != nil {
		t.Fatal(err)
	}
	manager := voice.NewManager(dispatcher.New(catalog.Default(), carts), nil, voice.DefaultConfig())

	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	Register(g, Config{
		Voice: manager,
		NewAdapter: func(context.Context) (stt.Adapter, error) {
			return mock.NewWithScripts(scripts), nil
		},
		Provider: "mock",
		Limits:   limits,
	})
	go func() { _ = g.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
		g.Stop()
		manager.StopAll()
	})
	return &testEnv{client: NewClient(conn), manager: manager, carts: carts}
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestInterpret(t *testing.T) {
	env := newTestEnv(t, nil, audio.DefaultLimits())
	ctx := context.Background()

	resp, err := env.client.Interpret(ctx, request(t, map[string]any{
		"userId": "user-1", "text": "add 2 quantity 3", "isFinal": true,
	}))
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	sessionID := resp.GetFields()["sessionId"].GetStringValue()
	if sessionID == "" {
		t.Fatal("expected a session id")
	}
	outcome := resp.GetFields()["outcome"].GetStructValue().GetFields()
	if outcome["action"].GetStringValue() != string(dispatcher.ActionAddToCart) {
		t.Errorf("unexpected outcome %v", outcome)
	}
	if env.carts.Count("user-1") != 3 {
		t.Errorf("expected 3 units in cart, got %d", env.carts.Count("user-1"))
	}

	resp, err = env.client.Interpret(ctx, request(t, map[string]any{
		"sessionId": sessionID, "text": "add 2 quantity 9", "isFinal": true,
	}))
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	outcome = resp.GetFields()["outcome"].GetStructValue().GetFields()
	if outcome["reason"].GetStringValue() != "invalid_parameters" {
		t.Errorf("expected invalid parameters, got %v", outcome)
	}
}

func TestInterpret_UserIDReusesSession(t *testing.T) {
	env := newTestEnv(t, nil, audio.DefaultLimits())
	ctx := context.Background()
	req := map[string]any{"userId": "user-1", "text": "add 1 quantity 2", "isFinal": true}

	first, err := env.client.Interpret(ctx, request(t, req))
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	second, err := env.client.Interpret(ctx, request(t, req))
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}

	if a, b := first.GetFields()["sessionId"].GetStringValue(), second.GetFields()["sessionId"].GetStringValue(); a != b {
		t.Errorf("expected the same session, got %s and %s", a, b)
	}
	outcome := second.GetFields()["outcome"].GetStructValue().GetFields()
	if outcome["reason"].GetStringValue() != "duplicate_suppressed" {
		t.Errorf("expected the repeat to be suppressed, got %v", outcome)
	}
	if n := env.carts.Count("user-1"); n != 2 {
		t.Errorf("expected 2 units in cart, got %d", n)
	}
	if n := env.manager.Active(); n != 1 {
		t.Errorf("expected one live session, got %d", n)
	}
}

func TestInterpret_Errors(t *testing.T) {
	env := newTestEnv(t, nil, audio.DefaultLimits())
	ctx := context.Background()
	owned := env.manager.Start("owner")

	tests := []struct {
		name   string
		fields map[string]any
		code   codes.Code
	}{
		{"missing text", map[string]any{"userId": "u"}, codes.InvalidArgument},
		{"missing session and user", map[string]any{"text": "home"}, codes.InvalidArgument},
		{"unknown session", map[string]any{"sessionId": "nope", "text": "home"}, codes.NotFound},
		{"session of another user", map[string]any{"sessionId": owned.ID(), "userId": "intruder", "text": "home"}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.client.Interpret(ctx, request(t, tt.fields))
			if status.Code(err) != tt.code {
				t.Errorf("expected %v, got %v", tt.code, err)
			}
		})
	}
}

func TestStreamAudio(t *testing.T) {
	scripts := []mock.Script{
		{Partials: []string{"search"}, Final: "search for towels", Confidence: 0.9},
		{Partials: []string{"add"}, Final: "add 1", Confidence: 0.9},
	}
	env := newTestEnv(t, scripts, audio.DefaultLimits())
	sess := env.manager.Start("user-1")

	ctx := metadata.AppendToOutgoingContext(context.Background(), SessionIDKey, sess.ID())
	stream, err := env.client.StreamAudio(ctx)
	if err != nil {
		t.Fatalf("StreamAudio: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := stream.Send(make([]byte, 320)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	summary, err := stream.CloseAndRecv()
	if err != nil {
		t.Fatalf("CloseAndRecv: %v", err)
	}

	f := summary.GetFields()
	if f["sessionId"].GetStringValue() != sess.ID() {
		t.Errorf("unexpected session %v", f["sessionId"])
	}
	if f["chunks"].GetNumberValue() != 4 || f["utterances"].GetNumberValue() != 2 {
		t.Errorf("unexpected summary %v", f)
	}
	outcomes := f["outcomes"].GetListValue().GetValues()
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if a := outcomes[0].GetStructValue().GetFields()["action"].GetStringValue(); a != string(dispatcher.ActionSearch) {
		t.Errorf("first outcome action = %s", a)
	}
	if a := outcomes[1].GetStructValue().GetFields()["action"].GetStringValue(); a != string(dispatcher.ActionAddToCart) {
		t.Errorf("second outcome action = %s", a)
	}
	if env.carts.Count("user-1") != 1 {
		t.Errorf("expected 1 unit in cart, got %d", env.carts.Count("user-1"))
	}
}

func TestStreamAudio_LimitExceeded(t *testing.T) {
	env := newTestEnv(t, []mock.Script{{Partials: []string{"h", "ho", "hom"}, Final: "home"}}, audio.UtteranceLimits{MaxAudioBytes: 100})

	ctx := metadata.AppendToOutgoingContext(context.Background(), UserIDKey, "user-1")
	stream, err := env.client.StreamAudio(ctx)
	if err != nil {
		t.Fatalf("StreamAudio: %v", err)
	}
	_ = stream.Send(make([]byte, 80))
	_ = stream.Send(make([]byte, 80))

	_, err = stream.CloseAndRecv()
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("expected ResourceExhausted, got %v", err)
	}
}

func TestStreamAudio_RequiresSession(t *testing.T) {
	env := newTestEnv(t, nil, audio.DefaultLimits())

	stream, err := env.client.StreamAudio(context.Background())
	if err != nil {
		t.Fatalf("StreamAudio: %v", err)
	}
	_, err = stream.CloseAndRecv()
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}
