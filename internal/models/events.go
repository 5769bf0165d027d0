// Package models defines the transcript input and the events published for it.
package models

// Event types carried in the eventType field and Kafka header.
const (
	EventTranscriptPartial = "voice.transcript.partial"
	EventTranscriptFinal   = "voice.transcript.final"
	EventIntentRecognized  = "voice.intent.recognized"
)

// Transcript sources.
const (
	SourceBrowser = "browser"
	SourceSTT     = "stt"
	SourceWhisper = "whisper"
)

// TranscriptEvent is one update from a transcript source. Several arrive per
// utterance; only the final one is authoritative.
type TranscriptEvent struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// TranscriptPublished is emitted for every transcript a session accepts.
type TranscriptPublished struct {
	EventType   string  `json:"eventType"`
	SessionID   string  `json:"sessionId"`
	UserID      string  `json:"userId"`
	UtteranceID string  `json:"utteranceId"`
	Timestamp   int64   `json:"timestamp"`
	Text        string  `json:"text"`
	IsFinal     bool    `json:"isFinal"`
	Confidence  float64 `json:"confidence,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// IntentRecognized is emitted after every final transcript, including ones
// that produced no intent, so the reason is observable downstream.
type IntentRecognized struct {
	EventType    string `json:"eventType"`
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId"`
	UtteranceID  string `json:"utteranceId"`
	Timestamp    int64  `json:"timestamp"`
	Transcript   string `json:"transcript"`
	Intent       string `json:"intent"`
	Reason       string `json:"reason,omitempty"`
	Destination  string `json:"destination,omitempty"`
	Term         string `json:"term,omitempty"`
	ProductIndex int    `json:"productIndex,omitempty"`
	ProductName  string `json:"productName,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
	Action       string `json:"action"`
}
