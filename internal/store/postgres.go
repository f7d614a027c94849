package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicefront/pkg/utils"

	"github.com/google/uuid"
)

// Postgres implements Store on database/sql (pgx stdlib driver).
//
// Expected tables: calls, transcripts, audio_files, phone_numbers,
// agent_configs, devices. calls has UNIQUE (twilio_call_sid); that
// constraint is what makes webhook redelivery idempotent.
type Postgres struct {
	db    *sql.DB
	clock func() time.Time
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, clock: time.Now}
}

const callColumns = `
id, twilio_call_sid, COALESCE(user_id, ''), COALESCE(from_number, ''), COALESCE(to_number, ''),
status, duration_seconds, started_at, ended_at, created_at
`

func scanCall(row *sql.Row) (Call, error) {
	var c Call
	var dur sql.NullInt64
	var started, ended sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.TwilioCallSID,
		&c.UserID,
		&c.FromNumber,
		&c.ToNumber,
		&c.Status,
		&dur,
		&started,
		&ended,
		&c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	if dur.Valid {
		d := int(dur.Int64)
		c.DurationSeconds = &d
	}
	if started.Valid {
		t := started.Time
		c.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		c.EndedAt = &t
	}
	return c, nil
}

// upsertCallSQL uses COALESCE to keep previously written values when a
// later (or redelivered) event carries only a subset of fields.
const upsertCallSQL = `
INSERT INTO calls (id, twilio_call_sid, user_id, from_number, to_number, status, duration_seconds, started_at, ended_at, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10)
ON CONFLICT (twilio_call_sid)
DO UPDATE SET
  user_id          = COALESCE(EXCLUDED.user_id, calls.user_id),
  from_number      = COALESCE(EXCLUDED.from_number, calls.from_number),
  to_number        = COALESCE(EXCLUDED.to_number, calls.to_number),
  status           = COALESCE(NULLIF(EXCLUDED.status, ''), calls.status),
  duration_seconds = COALESCE(EXCLUDED.duration_seconds, calls.duration_seconds),
  started_at       = COALESCE(EXCLUDED.started_at, calls.started_at),
  ended_at         = COALESCE(EXCLUDED.ended_at, calls.ended_at)
RETURNING ` + callColumns

const insertAudioFileSQL = `
INSERT INTO audio_files (id, call_id, storage_path, content_type, created_at)
VALUES ($1, $2, $3, $4, $5)
`

func (s *Postgres) upsertCallArgs(p UpsertCallParams) []any {
	return []any{
		uuid.NewString(),
		p.TwilioCallSID,
		p.UserID,
		p.FromNumber,
		p.ToNumber,
		string(p.Status),
		p.DurationSeconds,
		p.StartedAt,
		p.EndedAt,
		s.clock().UTC(),
	}
}

func (s *Postgres) UpsertCallBySID(ctx context.Context, p UpsertCallParams) (Call, error) {
	return scanCall(s.db.QueryRowContext(ctx, upsertCallSQL, s.upsertCallArgs(p)...))
}

// SaveRecordingEvent runs the call upsert and the AudioFile insert in one
// transaction; a recording callback never acks with a call row but no
// audio reference.
func (s *Postgres) SaveRecordingEvent(ctx context.Context, p UpsertCallParams, f AudioFile) (Call, error) {
	var call Call
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := scanCall(tx.QueryRowContext(ctx, upsertCallSQL, s.upsertCallArgs(p)...))
		if err != nil {
			return err
		}
		call = c

		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = s.clock().UTC()
		}
		_, err = tx.ExecContext(ctx, insertAudioFileSQL, f.ID, call.ID, f.StoragePath, f.ContentType, f.CreatedAt)
		return err
	})
	if err != nil {
		return Call{}, err
	}
	return call, nil
}

func (s *Postgres) GetCallBySID(ctx context.Context, callSID string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE twilio_call_sid = $1`
	return scanCall(s.db.QueryRowContext(ctx, q, callSID))
}

func (s *Postgres) GetCallByID(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(s.db.QueryRowContext(ctx, q, id))
}

func (s *Postgres) ListCallsByUser(ctx context.Context, userID string, limit int) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanCallRows(rows)
}

func (s *Postgres) ListCallsByUserSince(ctx context.Context, userID string, since, until time.Time) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
`
	rows, err := s.db.QueryContext(ctx, q, userID, since, until)
	if err != nil {
		return nil, err
	}
	return scanCallRows(rows)
}

func scanCallRows(rows *sql.Rows) ([]Call, error) {
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		var dur sql.NullInt64
		var started, ended sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.TwilioCallSID, &c.UserID, &c.FromNumber, &c.ToNumber,
			&c.Status, &dur, &started, &ended, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		if dur.Valid {
			d := int(dur.Int64)
			c.DurationSeconds = &d
		}
		if started.Valid {
			t := started.Time
			c.StartedAt = &t
		}
		if ended.Valid {
			t := ended.Time
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) FinalizeCallBySID(ctx context.Context, callSID string, status CallStatus, durationSeconds *int, endedAt time.Time) (Call, error) {
	const q = `
UPDATE calls
SET status = $2,
    duration_seconds = COALESCE($3, duration_seconds),
    ended_at = $4
WHERE twilio_call_sid = $1
RETURNING ` + callColumns
	row := s.db.QueryRowContext(ctx, q, callSID, string(status), durationSeconds, endedAt)
	return scanCall(row)
}

func (s *Postgres) InsertAudioFile(ctx context.Context, f AudioFile) (AudioFile, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx, insertAudioFileSQL, f.ID, f.CallID, f.StoragePath, f.ContentType, f.CreatedAt)
	return f, err
}

func (s *Postgres) ListAudioFilesByCall(ctx context.Context, callID string) ([]AudioFile, error) {
	const q = `
SELECT id, call_id, storage_path, content_type, created_at
FROM audio_files
WHERE call_id = $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AudioFile
	for rows.Next() {
		var f AudioFile
		if err := rows.Scan(&f.ID, &f.CallID, &f.StoragePath, &f.ContentType, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertTranscript(ctx context.Context, t Transcript) (Transcript, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock().UTC()
	}
	const q = `
INSERT INTO transcripts (id, call_id, transcript, summary, action_items, language, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
`
	_, err := s.db.ExecContext(ctx, q, t.ID, t.CallID, t.Transcript, t.Summary, t.ActionItems, t.Language, t.CreatedAt)
	return t, err
}

func (s *Postgres) GetTranscriptByCall(ctx context.Context, callID string) (Transcript, error) {
	const q = `
SELECT id, call_id, transcript, summary, COALESCE(action_items, ''), COALESCE(language, ''), created_at
FROM transcripts
WHERE call_id = $1
ORDER BY created_at DESC
LIMIT 1
`
	var t Transcript
	err := s.db.QueryRowContext(ctx, q, callID).Scan(
		&t.ID, &t.CallID, &t.Transcript, &t.Summary, &t.ActionItems, &t.Language, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transcript{}, ErrNotFound
		}
		return Transcript{}, err
	}
	return t, nil
}

const numberColumns = `id, user_id, phone_e164, twilio_sid, COALESCE(label, ''), created_at`

func (s *Postgres) GetNumberByE164(ctx context.Context, e164 string) (PhoneNumber, error) {
	const q = `SELECT ` + numberColumns + ` FROM phone_numbers WHERE phone_e164 = $1`
	return s.scanNumber(s.db.QueryRowContext(ctx, q, e164))
}

func (s *Postgres) GetNumberByID(ctx context.Context, id string) (PhoneNumber, error) {
	const q = `SELECT ` + numberColumns + ` FROM phone_numbers WHERE id = $1`
	return s.scanNumber(s.db.QueryRowContext(ctx, q, id))
}

func (s *Postgres) scanNumber(row *sql.Row) (PhoneNumber, error) {
	var n PhoneNumber
	if err := row.Scan(&n.ID, &n.UserID, &n.PhoneE164, &n.TwilioSID, &n.Label, &n.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PhoneNumber{}, ErrNotFound
		}
		return PhoneNumber{}, err
	}
	return n, nil
}

func (s *Postgres) ListNumbersByUser(ctx context.Context, userID string) ([]PhoneNumber, error) {
	const q = `SELECT ` + numberColumns + ` FROM phone_numbers WHERE user_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhoneNumber
	for rows.Next() {
		var n PhoneNumber
		if err := rows.Scan(&n.ID, &n.UserID, &n.PhoneE164, &n.TwilioSID, &n.Label, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Postgres) UserHasNumber(ctx context.Context, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM phone_numbers WHERE user_id = $1)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Postgres) InsertNumber(ctx context.Context, n PhoneNumber) (PhoneNumber, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock().UTC()
	}
	const q = `
INSERT INTO phone_numbers (id, user_id, phone_e164, twilio_sid, label, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
`
	_, err := s.db.ExecContext(ctx, q, n.ID, n.UserID, n.PhoneE164, n.TwilioSID, n.Label, n.CreatedAt)
	return n, err
}

func (s *Postgres) DeleteNumber(ctx context.Context, id string) error {
	const q = `DELETE FROM phone_numbers WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) GetActiveAgentConfig(ctx context.Context, userID string) (AgentConfig, error) {
	const q = `
SELECT id, user_id, greeting_text, persona_prompt, is_active, created_at
FROM agent_configs
WHERE user_id = $1 AND is_active = TRUE
LIMIT 1
`
	var a AgentConfig
	err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&a.ID, &a.UserID, &a.GreetingText, &a.PersonaPrompt, &a.IsActive, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentConfig{}, ErrNotFound
		}
		return AgentConfig{}, err
	}
	return a, nil
}

func (s *Postgres) ListDeviceTokens(ctx context.Context, userID, platform string) ([]string, error) {
	const q = `SELECT device_token FROM devices WHERE user_id = $1 AND platform = $2`
	rows, err := s.db.QueryContext(ctx, q, userID, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}
