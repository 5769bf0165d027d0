package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	Service         ServiceConfig
	HTTP            HTTPConfig
	STT             STTConfig
	Whisper         WhisperConfig
	UtteranceLimits UtteranceLimits
	Voice           VoiceConfig
	Storage         StorageConfig
	Auth            AuthConfig
	Observability   ObservabilityConfig
	Kafka           KafkaConfig
}

type ServiceConfig struct {
	Principal string
	GRPCPort  string
}

type HTTPConfig struct {
	Port            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// STTConfig selects and configures the streaming recognizer behind the gRPC
// audio stream.
type STTConfig struct {
	Provider       string // mock, google
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// WhisperConfig configures hosted transcription of uploaded recordings.
type WhisperConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Prompt   string
	Proxy    string // SOCKS5 address, optional
	Timeout  time.Duration
	MaxBytes int64
}

// UtteranceLimits bound a single utterance on the audio path.
type UtteranceLimits struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
	MaxPartials   int
}

type VoiceConfig struct {
	DebounceWindow time.Duration
	QueueSize      int
	IdleTimeout    time.Duration
}

type StorageConfig struct {
	DataDir      string
	CatalogFile  string
	WatchCatalog bool
}

type AuthConfig struct {
	SessionTTL      time.Duration
	CleanupInterval time.Duration
	BcryptCost      int
}

type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

type KafkaConfig struct {
	Brokers         []string
	TopicTranscript string
	TopicIntent     string
	Principal       string
	Enabled         bool
}

// Load reads the configuration from the process environment. Unparseable
// values fall back to their defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-commerce")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		HTTP: HTTPConfig{
			Port:            envOrDefault("HTTP_PORT", "3000"),
			AllowedOrigins:  envOrDefaultList("HTTP_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: envOrDefaultDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
		},
		Whisper: WhisperConfig{
			APIKey:   os.Getenv("OPENAI_API_KEY"),
			BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			Model:    envOrDefault("WHISPER_MODEL", "whisper-1"),
			Language: os.Getenv("WHISPER_LANGUAGE"),
			Prompt:   os.Getenv("WHISPER_PROMPT"),
			Proxy:    os.Getenv("WHISPER_SOCKS5_PROXY"),
			Timeout:  envOrDefaultDuration("WHISPER_TIMEOUT", 60*time.Second),
			MaxBytes: envOrDefaultInt64("WHISPER_MAX_UPLOAD_BYTES", 10*1024*1024),
		},
		UtteranceLimits: UtteranceLimits{
			MaxAudioBytes: envOrDefaultInt64("UTTERANCE_MAX_AUDIO_BYTES", 5*1024*1024),
			MaxDuration:   envOrDefaultDuration("UTTERANCE_MAX_DURATION", 5*time.Minute),
			MaxPartials:   envOrDefaultInt("UTTERANCE_MAX_PARTIALS", 500),
		},
		Voice: VoiceConfig{
			DebounceWindow: envOrDefaultDuration("VOICE_DEBOUNCE_WINDOW", time.Second),
			QueueSize:      envOrDefaultInt("VOICE_QUEUE_SIZE", 16),
			IdleTimeout:    envOrDefaultDuration("VOICE_IDLE_TIMEOUT", 10*time.Minute),
		},
		Storage: StorageConfig{
			DataDir:      envOrDefault("DATA_DIR", "data"),
			CatalogFile:  os.Getenv("CATALOG_FILE"),
			WatchCatalog: envOrDefaultBool("CATALOG_WATCH", false),
		},
		Auth: AuthConfig{
			SessionTTL:      envOrDefaultDuration("AUTH_SESSION_TTL", 24*time.Hour),
			CleanupInterval: envOrDefaultDuration("AUTH_CLEANUP_INTERVAL", time.Hour),
			BcryptCost:      envOrDefaultInt("AUTH_BCRYPT_COST", 10),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Kafka: KafkaConfig{
			Brokers:         envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "voice.transcript.final"),
			TopicIntent:     envOrDefault("KAFKA_TOPIC_INTENT", "voice.intent.recognized"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
		},
	}
}

// LoadWithEnvFile loads variables from a .env file into the environment
// (without overriding ones already set) and then calls Load. A missing file
// is not an error.
func LoadWithEnvFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return Load(), nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
