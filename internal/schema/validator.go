// Package schema checks outgoing events before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"voice-commerce-service/internal/models"
)

var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of known event types. Unknown types
// pass through unchecked.
func (v *Validator) Validate(event any) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	switch e := event.(type) {
	case models.TranscriptPublished:
		require(e.EventType == models.EventTranscriptPartial || e.EventType == models.EventTranscriptFinal, "eventType")
		require(e.SessionID != "", "sessionId")
		require(e.UtteranceID != "", "utteranceId")
		require(e.Timestamp > 0, "timestamp")
		require(e.IsFinal == (e.EventType == models.EventTranscriptFinal), "isFinal")
	case *models.TranscriptPublished:
		return v.Validate(*e)
	case models.IntentRecognized:
		require(e.EventType == models.EventIntentRecognized, "eventType")
		require(e.SessionID != "", "sessionId")
		require(e.Timestamp > 0, "timestamp")
		require(e.Intent != "", "intent")
		require(e.Action != "", "action")
		if e.Intent == "add_to_cart" {
			require(e.ProductIndex > 0 || e.ProductName != "", "productIndex")
			require(e.Quantity > 0, "quantity")
		}
	case *models.IntentRecognized:
		return v.Validate(*e)
	default:
		return nil
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %T: bad %s", ErrInvalidEvent, event, strings.Join(missing, ", "))
	}
	return nil
}
