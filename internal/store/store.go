package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// UpsertCallParams carries a partial Call write keyed by the provider call
// SID. Zero-valued fields leave existing column values untouched, so
// out-of-order webhooks cannot blank each other's writes.
type UpsertCallParams struct {
	TwilioCallSID string

	UserID     string
	FromNumber string
	ToNumber   string
	Status     CallStatus

	DurationSeconds *int
	StartedAt       *time.Time
	EndedAt         *time.Time
}

// Store is the persistence gateway for all durable record kinds.
// Postgres implements it for production; Memory implements it for tests.
type Store interface {
	// UpsertCallBySID atomically inserts or updates the call row for the
	// given provider SID and returns the resulting row.
	UpsertCallBySID(ctx context.Context, p UpsertCallParams) (Call, error)
	GetCallBySID(ctx context.Context, callSID string) (Call, error)
	GetCallByID(ctx context.Context, id string) (Call, error)
	ListCallsByUser(ctx context.Context, userID string, limit int) ([]Call, error)
	ListCallsByUserSince(ctx context.Context, userID string, since, until time.Time) ([]Call, error)

	// SaveRecordingEvent upserts the call row and inserts the AudioFile
	// reference in one transaction, so a recording callback is either fully
	// recorded or not at all. f.CallID is filled from the upserted row.
	SaveRecordingEvent(ctx context.Context, p UpsertCallParams, f AudioFile) (Call, error)

	// FinalizeCallBySID writes terminal fields on an existing row. Returns
	// ErrNotFound when no row matches; callers treat that as an ignorable
	// early status callback.
	FinalizeCallBySID(ctx context.Context, callSID string, status CallStatus, durationSeconds *int, endedAt time.Time) (Call, error)

	InsertAudioFile(ctx context.Context, f AudioFile) (AudioFile, error)
	ListAudioFilesByCall(ctx context.Context, callID string) ([]AudioFile, error)

	InsertTranscript(ctx context.Context, t Transcript) (Transcript, error)
	GetTranscriptByCall(ctx context.Context, callID string) (Transcript, error)

	GetNumberByE164(ctx context.Context, e164 string) (PhoneNumber, error)
	GetNumberByID(ctx context.Context, id string) (PhoneNumber, error)
	ListNumbersByUser(ctx context.Context, userID string) ([]PhoneNumber, error)
	UserHasNumber(ctx context.Context, userID string) (bool, error)
	InsertNumber(ctx context.Context, n PhoneNumber) (PhoneNumber, error)
	DeleteNumber(ctx context.Context, id string) error

	GetActiveAgentConfig(ctx context.Context, userID string) (AgentConfig, error)

	ListDeviceTokens(ctx context.Context, userID, platform string) ([]string, error)
}
