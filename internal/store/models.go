package store

import "time"

// Call is one phone conversation, keyed by the provider call SID.
//
// Invariant: at most one row per twilio_call_sid (UNIQUE constraint);
// all webhook writes go through UpsertCallBySID so redelivered events
// land on the same row. Rows are never deleted.
type Call struct {
	ID            string `json:"id" db:"id"`
	TwilioCallSID string `json:"twilio_call_sid" db:"twilio_call_sid"`
	UserID        string `json:"user_id,omitempty" db:"user_id"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`

	// Status lifecycle: ringing -> in-progress -> completed/no-answer/busy,
	// plus "recorded" when a voicemail recording lands before any status
	// callback.
	Status CallStatus `json:"status" db:"status"`

	DurationSeconds *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusRecorded   CallStatus = "recorded"
)

// IsTerminal reports whether no further status transitions are expected.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusNoAnswer, CallStatusBusy:
		return true
	default:
		return false
	}
}

// Transcript is a derived artifact of one processing run. The pipeline
// inserts, never updates; multiple recordings per call yield multiple rows.
type Transcript struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	Transcript string `json:"transcript" db:"transcript"`
	Summary    string `json:"summary" db:"summary"`

	// ActionItems is optional JSON produced by the summarizer.
	ActionItems string `json:"action_items,omitempty" db:"action_items"`
	Language    string `json:"language,omitempty" db:"language"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AudioFile references stored audio for a call. The first row per recording
// points at the provider's external URL (written synchronously in the
// webhook so the reference survives pipeline failures); a second row points
// at internal storage once the pipeline has fetched the bytes.
type AudioFile struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	StoragePath string `json:"storage_path" db:"storage_path"`
	ContentType string `json:"content_type" db:"content_type"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PhoneNumber is an allocated telephony resource.
//
// Invariant: TwilioSID corresponds 1:1 with a row; the allocation saga
// releases the provider resource if the insert fails.
type PhoneNumber struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	PhoneE164 string `json:"phone_e164" db:"phone_e164"`
	TwilioSID string `json:"twilio_sid" db:"twilio_sid"`
	Label     string `json:"label,omitempty" db:"label"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AgentConfig is the per-user assistant persona. At most one row per user
// has IsActive=true; activation deactivates siblings first (application
// level, not a DB constraint).
type AgentConfig struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	GreetingText  string `json:"greeting_text" db:"greeting_text"`
	PersonaPrompt string `json:"persona_prompt" db:"persona_prompt"`
	IsActive      bool   `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Device is a registered push target. Registration CRUD lives elsewhere;
// this service only reads tokens for delivery.
type Device struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	DeviceToken string `json:"device_token" db:"device_token"`
	Platform    string `json:"platform" db:"platform"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
