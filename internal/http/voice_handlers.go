package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"voice-commerce-service/internal/models"
	"voice-commerce-service/internal/service/voice"
)

func (a *api) listVoiceSessions(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context()).ID
	sessions := []voice.Info{}
	for _, info := range a.Voice.Sessions() {
		if info.UserID == userID {
			sessions = append(sessions, info)
		}
	}
	writeOK(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *api) startVoiceSession(w http.ResponseWriter, r *http.Request) {
	s := a.Voice.Start(userFrom(r.Context()).ID)
	writeOK(w, http.StatusCreated, map[string]any{"session": s.Info()})
}

func (a *api) stopVoiceSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Voice.GetForUser(chi.URLParam(r, "id"), userFrom(r.Context()).ID)
	if err != nil {
		a.voiceError(w, err)
		return
	}
	s.Stop()
	writeOK(w, http.StatusOK, map[string]any{"message": "Voice session stopped"})
}

// voiceEvent feeds one transcript update, as produced by the browser's
// speech recognition, into a session.
func (a *api) voiceEvent(w http.ResponseWriter, r *http.Request) {
	s, err := a.Voice.GetForUser(chi.URLParam(r, "id"), userFrom(r.Context()).ID)
	if err != nil {
		a.voiceError(w, err)
		return
	}

	var ev models.TranscriptEvent
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if ev.Source == "" {
		ev.Source = models.SourceBrowser
	}

	out, err := s.HandleEvent(r.Context(), ev)
	if err != nil {
		a.voiceError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"outcome": out})
}

func (a *api) voiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voice.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, voice.ErrSessionStopped):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error().Err(err).Msg("Voice session failure")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
