package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store useful for tests.
// It is not intended for production use.
type Memory struct {
	mu sync.Mutex

	calls        []Call
	transcripts  []Transcript
	audioFiles   []AudioFile
	numbers      []PhoneNumber
	agentConfigs []AgentConfig
	devices      []Device

	numberInsertErr error

	clock func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{clock: time.Now}
}

func (m *Memory) UpsertCallBySID(ctx context.Context, p UpsertCallParams) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.calls {
		if m.calls[i].TwilioCallSID != p.TwilioCallSID {
			continue
		}
		c := &m.calls[i]
		if p.UserID != "" {
			c.UserID = p.UserID
		}
		if p.FromNumber != "" {
			c.FromNumber = p.FromNumber
		}
		if p.ToNumber != "" {
			c.ToNumber = p.ToNumber
		}
		if p.Status != "" {
			c.Status = p.Status
		}
		if p.DurationSeconds != nil {
			d := *p.DurationSeconds
			c.DurationSeconds = &d
		}
		if p.StartedAt != nil {
			t := *p.StartedAt
			c.StartedAt = &t
		}
		if p.EndedAt != nil {
			t := *p.EndedAt
			c.EndedAt = &t
		}
		return *c, nil
	}

	c := Call{
		ID:            uuid.NewString(),
		TwilioCallSID: p.TwilioCallSID,
		UserID:        p.UserID,
		FromNumber:    p.FromNumber,
		ToNumber:      p.ToNumber,
		Status:        p.Status,
		CreatedAt:     m.clock().UTC(),
	}
	if p.DurationSeconds != nil {
		d := *p.DurationSeconds
		c.DurationSeconds = &d
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		c.StartedAt = &t
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		c.EndedAt = &t
	}
	m.calls = append(m.calls, c)
	return c, nil
}

func (m *Memory) GetCallBySID(ctx context.Context, callSID string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.TwilioCallSID == callSID {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}

func (m *Memory) GetCallByID(ctx context.Context, id string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.ID == id {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}

func (m *Memory) ListCallsByUser(ctx context.Context, userID string, limit int) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListCallsByUserSince(ctx context.Context, userID string, since, until time.Time) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.UserID != userID {
			continue
		}
		if c.CreatedAt.Before(since) || !c.CreatedAt.Before(until) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveRecordingEvent(ctx context.Context, p UpsertCallParams, f AudioFile) (Call, error) {
	call, err := m.UpsertCallBySID(ctx, p)
	if err != nil {
		return Call{}, err
	}
	f.CallID = call.ID
	if _, err := m.InsertAudioFile(ctx, f); err != nil {
		return Call{}, err
	}
	return call, nil
}

func (m *Memory) FinalizeCallBySID(ctx context.Context, callSID string, status CallStatus, durationSeconds *int, endedAt time.Time) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.calls {
		if m.calls[i].TwilioCallSID != callSID {
			continue
		}
		c := &m.calls[i]
		c.Status = status
		if durationSeconds != nil {
			d := *durationSeconds
			c.DurationSeconds = &d
		}
		t := endedAt
		c.EndedAt = &t
		return *c, nil
	}
	return Call{}, ErrNotFound
}

func (m *Memory) InsertAudioFile(ctx context.Context, f AudioFile) (AudioFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = m.clock().UTC()
	}
	m.audioFiles = append(m.audioFiles, f)
	return f, nil
}

func (m *Memory) ListAudioFilesByCall(ctx context.Context, callID string) ([]AudioFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AudioFile
	for _, f := range m.audioFiles {
		if f.CallID == callID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Memory) InsertTranscript(ctx context.Context, t Transcript) (Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.clock().UTC()
	}
	m.transcripts = append(m.transcripts, t)
	return t, nil
}

func (m *Memory) GetTranscriptByCall(ctx context.Context, callID string) (Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.transcripts) - 1; i >= 0; i-- {
		if m.transcripts[i].CallID == callID {
			return m.transcripts[i], nil
		}
	}
	return Transcript{}, ErrNotFound
}

func (m *Memory) GetNumberByE164(ctx context.Context, e164 string) (PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.numbers {
		if n.PhoneE164 == e164 {
			return n, nil
		}
	}
	return PhoneNumber{}, ErrNotFound
}

func (m *Memory) GetNumberByID(ctx context.Context, id string) (PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.numbers {
		if n.ID == id {
			return n, nil
		}
	}
	return PhoneNumber{}, ErrNotFound
}

func (m *Memory) ListNumbersByUser(ctx context.Context, userID string) ([]PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PhoneNumber
	for _, n := range m.numbers {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Memory) UserHasNumber(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.numbers {
		if n.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// FailNextNumberInsert makes the next InsertNumber call return err.
// Tests use it to exercise the allocation saga's compensation path.
func (m *Memory) FailNextNumberInsert(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numberInsertErr = err
}

func (m *Memory) InsertNumber(ctx context.Context, n PhoneNumber) (PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numberInsertErr != nil {
		err := m.numberInsertErr
		m.numberInsertErr = nil
		return PhoneNumber{}, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.clock().UTC()
	}
	m.numbers = append(m.numbers, n)
	return n, nil
}

func (m *Memory) DeleteNumber(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.numbers {
		if n.ID == id {
			m.numbers = append(m.numbers[:i], m.numbers[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) GetActiveAgentConfig(ctx context.Context, userID string) (AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agentConfigs {
		if a.UserID == userID && a.IsActive {
			return a, nil
		}
	}
	return AgentConfig{}, ErrNotFound
}

func (m *Memory) ListDeviceTokens(ctx context.Context, userID, platform string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, d := range m.devices {
		if d.UserID == userID && d.Platform == platform {
			out = append(out, d.DeviceToken)
		}
	}
	return out, nil
}

// Seed helpers for tests.

func (m *Memory) SeedNumber(n PhoneNumber) PhoneNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	m.numbers = append(m.numbers, n)
	return n
}

func (m *Memory) SeedAgentConfig(a AgentConfig) AgentConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.agentConfigs = append(m.agentConfigs, a)
	return a
}

func (m *Memory) SeedDevice(d Device) Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	m.devices = append(m.devices, d)
	return d
}

// Snapshot accessors for test assertions.

func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Memory) AudioFiles() []AudioFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AudioFile, len(m.audioFiles))
	copy(out, m.audioFiles)
	return out
}

func (m *Memory) Transcripts() []Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transcript, len(m.transcripts))
	copy(out, m.transcripts)
	return out
}

func (m *Memory) Numbers() []PhoneNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PhoneNumber, len(m.numbers))
	copy(out, m.numbers)
	return out
}
