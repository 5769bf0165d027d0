package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voice-commerce-service/internal/models"
	"voice-commerce-service/internal/service/dispatcher"
	"voice-commerce-service/internal/service/voice"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsWriteWait  = 10 * time.Second
)

// wsMessage is a server to client frame.
type wsMessage struct {
	Type    string              `json:"type"` // session, outcome, error
	Session *voice.Info         `json:"session,omitempty"`
	Outcome *dispatcher.Outcome `json:"outcome,omitempty"`
	Message string              `json:"message,omitempty"`
}

// voiceSocket streams transcript events from the browser into a voice
// session. ?sessionId= attaches to an existing session of the user;
// otherwise a session is started for the connection and stopped with it.
func (a *api) voiceSocket(w http.ResponseWriter, r *http.Request) {
	user, _, status, msg := a.authenticate(r, true)
	if status != 0 {
		writeError(w, status, msg)
		return
	}

	var (
		s     *voice.Session
		owned bool
		err   error
	)
	if id := r.URL.Query().Get("sessionId"); id != "" {
		if s, err = a.Voice.GetForUser(id, user.ID); err != nil {
			a.voiceError(w, err)
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(a.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if s == nil {
		s = a.Voice.Start(user.ID)
		owned = true
	}
	if owned {
		defer s.Stop()
	}

	a.metrics.RecordWebSocketOpen()
	defer a.metrics.RecordWebSocketClose()

	log := a.logger.With().Str("sessionId", s.ID()).Str("userId", user.ID).Logger()
	log.Info().Bool("owned", owned).Msg("Transcript socket connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(wsPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	send := func(m wsMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}

	info := s.Info()
	if err := send(wsMessage{Type: "session", Session: &info}); err != nil {
		return
	}

	for {
		var ev models.TranscriptEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Transcript socket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if ev.Source == "" {
			ev.Source = models.SourceBrowser
		}

		out, err := s.HandleEvent(r.Context(), ev)
		if errors.Is(err, voice.ErrSessionStopped) {
			_ = send(wsMessage{Type: "error", Message: err.Error()})
			a.closeSocket(conn, "session stopped")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Transcript event failed")
			if send(wsMessage{Type: "error", Message: "event failed"}) != nil {
				return
			}
			continue
		}
		if err := send(wsMessage{Type: "outcome", Outcome: &out}); err != nil {
			return
		}
		if out.StopListening {
			a.closeSocket(conn, "navigating")
			return
		}
	}
}

func (a *api) closeSocket(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
