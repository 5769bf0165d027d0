// Package app wires the stores, voice sessions and servers together and runs
// them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "voice-commerce-service/internal/api/grpc"
	"voice-commerce-service/internal/config"
	"voice-commerce-service/internal/events"
	httpapi "voice-commerce-service/internal/http"
	"voice-commerce-service/internal/observability"
	"voice-commerce-service/internal/observability/logging"
	"voice-commerce-service/internal/observability/metrics"
	"voice-commerce-service/internal/service/audio"
	"voice-commerce-service/internal/service/catalog"
	"voice-commerce-service/internal/service/dispatcher"
	"voice-commerce-service/internal/service/stt"
	"voice-commerce-service/internal/service/stt/google"
	"voice-commerce-service/internal/service/stt/mock"
	"voice-commerce-service/internal/service/stt/whisper"
	"voice-commerce-service/internal/service/voice"
	"voice-commerce-service/internal/store/auth"
	"voice-commerce-service/internal/store/cart"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Auth      *auth.Store
	Carts     *cart.Store
	Catalog   *catalog.Catalog
	Publisher *events.Publisher
	Voice     *voice.Manager

	httpServer    *http.Server
	grpcServer    *grpc.Server
	health        *health.Server
	observability *observability.Server
}

// New opens the stores and builds the servers. Nothing listens yet.
func New(cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	var err error
	dataDir := cfg.Storage.DataDir
	a.Auth, err = auth.Open(
		filepath.Join(dataDir, "users.json"),
		filepath.Join(dataDir, "sessions.json"),
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
		auth.WithBcryptCost(cfg.Auth.BcryptCost),
	)
	if err != nil {
		return nil, err
	}
	a.Carts, err = cart.Open(filepath.Join(dataDir, "carts.json"))
	if err != nil {
		return nil, err
	}

	a.Catalog = catalog.Default()
	if cfg.Storage.CatalogFile != "" {
		if a.Catalog, err = catalog.Load(cfg.Storage.CatalogFile); err != nil {
			return nil, err
		}
	}

	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		TopicIntent:     cfg.Kafka.TopicIntent,
		Principal:       cfg.Kafka.Principal,
	})

	a.Voice = voice.NewManager(dispatcher.New(a.Catalog, a.Carts), a.Publisher, voice.Config{
		DebounceWindow: cfg.Voice.DebounceWindow,
		QueueSize:      cfg.Voice.QueueSize,
		IdleTimeout:    cfg.Voice.IdleTimeout,
	})

	var transcriber httpapi.Transcriber
	if cfg.Whisper.APIKey != "" {
		tr, err := whisper.New(whisper.Config(cfg.Whisper))
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
		transcriber = tr
	} else {
		a.Logger.Warn().Msg("OPENAI_API_KEY not set, /api/transcribe is disabled")
	}

	a.httpServer = &http.Server{
		Handler: httpapi.NewRouter(httpapi.Deps{
			Auth:           a.Auth,
			Carts:          a.Carts,
			Catalog:        a.Catalog,
			Voice:          a.Voice,
			Transcriber:    transcriber,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	a.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.health)
	grpcapi.Register(a.grpcServer, grpcapi.Config{
		Voice:      a.Voice,
		NewAdapter: adapterFactory(cfg.STT),
		Provider:   cfg.STT.Provider,
		Limits:     audio.UtteranceLimits(cfg.UtteranceLimits),
	})
	reflection.Register(a.grpcServer)

	a.observability = observability.NewServer(":" + cfg.Observability.MetricsPort)

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("kafka", a.Publisher.Enabled()).
		Int("products", a.Catalog.Len()).
		Msg("Voice commerce application created")
	return a, nil
}

func adapterFactory(cfg config.STTConfig) grpcapi.AdapterFactory {
	switch cfg.Provider {
	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.LanguageCode
		gcfg.SampleRateHz = cfg.SampleRateHz
		gcfg.InterimResults = cfg.InterimResults
		gcfg.AudioEncoding = cfg.AudioEncoding
		return func(ctx context.Context) (stt.Adapter, error) {
			return google.New(ctx, gcfg)
		}
	default:
		return func(context.Context) (stt.Adapter, error) {
			return mock.New(), nil
		}
	}
}

// Run serves HTTP, gRPC and metrics and runs the background jobs until ctx
// is cancelled or a server fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	cfg := a.Cfg
	a.StartupTime = time.Now().UTC()

	httpLis, err := net.Listen("tcp", ":"+cfg.HTTP.Port)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}
	metricsLis, err := net.Listen("tcp", ":"+cfg.Observability.MetricsPort)
	if err != nil {
		httpLis.Close()
		grpcLis.Close()
		return fmt.Errorf("listen metrics: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().Str("addr", httpLis.Addr().String()).Msg("HTTP API listening")
		if err := a.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.Logger.Info().Str("addr", grpcLis.Addr().String()).Msg("gRPC listening")
		if err := a.grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.observability.Serve(metricsLis) })

	g.Go(func() error {
		a.every(ctx, cfg.Auth.CleanupInterval, func() {
			n, err := a.Auth.CleanupExpiredSessions()
			if err != nil {
				a.Logger.Error().Err(err).Msg("Session cleanup failed")
				return
			}
			if n > 0 {
				a.Logger.Info().Int("removed", n).Msg("Expired login sessions removed")
			}
		})
		return nil
	})
	g.Go(func() error {
		a.every(ctx, time.Minute, func() {
			if n := a.Voice.ReapIdle(); n > 0 {
				a.Logger.Info().Int("stopped", n).Msg("Idle voice sessions stopped")
			}
		})
		return nil
	})
	if cfg.Storage.WatchCatalog && cfg.Storage.CatalogFile != "" {
		g.Go(func() error { return a.Catalog.Watch(ctx, cfg.Storage.CatalogFile) })
	}

	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	a.observability.SetReady(true)
	a.Logger.Info().Time("startupTime", a.StartupTime).Msg("Voice commerce service started")

	g.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

// every runs fn on each tick until ctx is done.
func (a *Application) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

func (a *Application) shutdown() {
	a.Logger.Info().Msg("Voice commerce service shutting down")

	a.health.Shutdown()
	a.observability.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	a.grpcServer.GracefulStop()
	a.Voice.StopAll()
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Closing publisher failed")
	}
	if err := a.observability.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Metrics server shutdown incomplete")
	}
}
