package http

import (
	"errors"
	"net/http"

	"voice-commerce-service/internal/models"
	"voice-commerce-service/internal/service/stt/whisper"
)

// transcribe accepts a recorded clip as multipart field "audio" and returns
// its text. With a sessionId (and the owner's bearer token) the text is also
// handled as a final transcript of that voice session.
func (a *api) transcribe(w http.ResponseWriter, r *http.Request) {
	if a.Transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, whisper.ErrNotConfigured.Error())
		return
	}

	maxBytes := a.Transcriber.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := whisper.CheckUpload(header.Size, maxBytes, contentType); err != nil {
		writeError(w, http.StatusBadRequest, uploadMessage(err))
		return
	}

	sessionID := r.FormValue("sessionId")
	var owner string
	if sessionID != "" {
		user, _, status, msg := a.authenticate(r, false)
		if status != 0 {
			writeError(w, status, msg)
			return
		}
		owner = user.ID
		if _, err := a.Voice.GetForUser(sessionID, owner); err != nil {
			a.voiceError(w, err)
			return
		}
	}

	opts := whisper.Options{
		Language: r.FormValue("language"),
		Prompt:   r.FormValue("prompt"),
	}
	text, err := a.Transcriber.Transcribe(r.Context(), file, header.Filename, contentType, header.Size, opts)
	if err != nil {
		a.logger.Error().Err(err).Str("file", header.Filename).Msg("Transcription failed")
		writeError(w, http.StatusBadGateway, "Transcription failed")
		return
	}

	language := opts.Language
	if language == "" {
		language = "en"
	}
	body := map[string]any{"text": text, "language": language}

	if sessionID != "" {
		s, err := a.Voice.GetForUser(sessionID, owner)
		if err != nil {
			a.voiceError(w, err)
			return
		}
		out, err := s.HandleEvent(r.Context(), models.TranscriptEvent{Text: text, IsFinal: true, Source: models.SourceWhisper})
		if err != nil {
			a.voiceError(w, err)
			return
		}
		body["outcome"] = out
	}
	writeOK(w, http.StatusOK, body)
}

func uploadMessage(err error) string {
	switch {
	case errors.Is(err, whisper.ErrEmptyAudio):
		return "No audio file provided"
	case errors.Is(err, whisper.ErrTooLarge):
		return "File too large"
	default:
		return "Only audio files are allowed"
	}
}
