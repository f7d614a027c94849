package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// Twilio delivers voice webhooks as application/x-www-form-urlencoded.
// Each event kind is parsed into its own typed struct; parsing stays
// adapter-only, the call state machine interprets the events.
//
// Delivery is at-least-once and the three kinds arrive in no guaranteed
// order relative to each other.

// VoiceStartEvent is the inbound-call webhook.
type VoiceStartEvent struct {
	CallSID string
	From    string
	To      string
}

// StatusEvent is the call-status callback. Status carries whatever the
// provider sent, including informational values like "ringing".
type StatusEvent struct {
	CallSID         string
	Status          string
	DurationSeconds *int
}

// RecordingEvent is the recording-completed callback.
type RecordingEvent struct {
	CallSID         string
	RecordingURL    string
	RecordingSID    string
	From            string
	To              string
	DurationSeconds *int
}

func ParseVoiceStart(r *http.Request) (VoiceStartEvent, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceStartEvent{}, err
	}
	return VoiceStartEvent{
		CallSID: strings.TrimSpace(r.PostFormValue("CallSid")),
		From:    normalizePhone(r.PostFormValue("From")),
		To:      normalizePhone(r.PostFormValue("To")),
	}, nil
}

func ParseStatus(r *http.Request) (StatusEvent, error) {
	if err := r.ParseForm(); err != nil {
		return StatusEvent{}, err
	}
	return StatusEvent{
		CallSID:         strings.TrimSpace(r.PostFormValue("CallSid")),
		Status:          strings.TrimSpace(r.PostFormValue("CallStatus")),
		DurationSeconds: optSeconds(r.PostFormValue("CallDuration")),
	}, nil
}

func ParseRecording(r *http.Request) (RecordingEvent, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingEvent{}, err
	}
	return RecordingEvent{
		CallSID:         strings.TrimSpace(r.PostFormValue("CallSid")),
		RecordingURL:    strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingSID:    strings.TrimSpace(r.PostFormValue("RecordingSid")),
		From:            normalizePhone(r.PostFormValue("From")),
		To:              normalizePhone(r.PostFormValue("To")),
		DurationSeconds: optSeconds(r.PostFormValue("RecordingDuration")),
	}, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

func optSeconds(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
