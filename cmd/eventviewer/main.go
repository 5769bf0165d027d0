// Command eventviewer follows the transcript and intent topics and shows them
// live in a browser over a WebSocket.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	cli "github.com/spf13/pflag"

	"voice-commerce-service/internal/config"
	"voice-commerce-service/internal/events"
	"voice-commerce-service/internal/observability/logging"
)

const page = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Voice events</title>
<style>
body { font-family: sans-serif; margin: 2em; }
li { margin: .3em 0; }
.intent { color: #225; }
.transcript { color: #555; }
</style></head>
<body>
<h1>Voice events</h1>
<ul id="events"></ul>
<script>
const list = document.getElementById("events");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  const li = document.createElement("li");
  if (ev.intent) {
    li.className = "intent";
    li.textContent = ev.intent.sessionId + " " + ev.intent.intent + " (" + ev.intent.action + "): " + ev.intent.transcript;
  } else if (ev.transcript) {
    li.className = "transcript";
    li.textContent = ev.transcript.sessionId + " said: " + ev.transcript.text;
  }
  list.prepend(li);
};
</script>
</body>
</html>
`

// hub fans events out to connected browsers.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{}), logger: logger}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", n).Msg("Viewer connected")
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		conn.Close()
		h.logger.Info().Int("clients", n).Msg("Viewer disconnected")
	}
}

func (h *hub) broadcast(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug().Err(err).Msg("Dropping viewer after write error")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.add(conn)
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	port := cli.StringP("port", "p", "8081", "HTTP port")
	since := cli.Duration("since", time.Hour, "Replay events newer than this")
	cli.Parse()

	cfg, err := config.LoadWithEnvFile(*envFile)
	logCfg := logging.DefaultConfig()
	logCfg.Format = "console"
	logCfg.Service = "eventviewer"
	logging.Init(logCfg)
	logger := logging.Logger()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load env file")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal().Msg("KAFKA_BROKERS is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub(logger)
	sub := events.NewSubscriber(events.SubscriberConfig{
		Brokers: cfg.Kafka.Brokers,
		Topics:  []string{cfg.Kafka.TopicTranscript, cfg.Kafka.TopicIntent},
		Since:   *since,
	})
	go func() {
		if err := sub.Run(ctx, h.broadcast); err != nil {
			logger.Error().Err(err).Msg("Subscriber stopped")
			stop()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	mux.HandleFunc("GET /ws", h.serveWS)

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", "http://localhost:"+*port).
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topicTranscript", cfg.Kafka.TopicTranscript).
		Str("topicIntent", cfg.Kafka.TopicIntent).
		Msg("Event viewer started")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("HTTP server failed")
	}
}
