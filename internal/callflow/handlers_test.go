package callflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"voicefront/internal/pipeline"
	"voicefront/internal/session"
	"voicefront/internal/store"
	"voicefront/pkg/logger"

	"github.com/gin-gonic/gin"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []pipeline.Job
}

func (f *fakeSubmitter) Submit(j pipeline.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
}

func (f *fakeSubmitter) Jobs() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pipeline.Job, len(f.jobs))
	copy(out, f.jobs)
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeNotifier) Notify(ctx context.Context, userID, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, userID+"|"+title)
	return nil
}

func (f *fakeNotifier) Sends() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sends))
	copy(out, f.sends)
	return out
}

type fixture struct {
	router    *gin.Engine
	mem       *store.Memory
	sessions  *session.Registry
	submitter *fakeSubmitter
	notifier  *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	sessions := session.NewRegistry(mem, nil)
	submitter := &fakeSubmitter{}
	notifier := &fakeNotifier{}

	svc := NewService(mem, sessions, submitter, notifier, logger.New("local"),
		"https://api.example.com/webhook/twilio/recording",
		"https://api.example.com",
	)

	router := gin.New()
	NewHandler(svc).Register(router)

	return &fixture{
		router:    router,
		mem:       mem,
		sessions:  sessions,
		submitter: submitter,
		notifier:  notifier,
	}
}

func (f *fixture) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestVoice_AgentMode(t *testing.T) {
	f := newFixture(t)
	f.mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111"})
	f.mem.SeedAgentConfig(store.AgentConfig{
		UserID:       "U1",
		GreetingText: "Hi, you have reached Acme.",
		IsActive:     true,
	})

	w := f.post(t, "/webhook/twilio/voice", url.Values{
		"CallSid": {"CA1"},
		"From":    {"+15559990000"},
		"To":      {"+15550001111"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "Hi, you have reached Acme.") {
		t.Fatalf("expected configured greeting in TwiML, got:\n%s", body)
	}
	if !strings.Contains(body, `url="wss://api.example.com/webhook/twilio/media/CA1"`) {
		t.Fatalf("expected media stream url in TwiML, got:\n%s", body)
	}
	if !strings.Contains(body, "You are now connected to our AI assistant.") {
		t.Fatalf("expected connected confirmation after the stream start, got:\n%s", body)
	}

	calls := f.mem.Calls()
	if len(calls) != 1 || calls[0].Status != store.CallStatusInProgress {
		t.Fatalf("expected one in-progress call row, got %+v", calls)
	}
	if _, ok := f.sessions.Get("CA1"); !ok {
		t.Fatalf("expected live session for CA1")
	}
}

func TestVoice_UnknownNumberFallsBackToVoicemail(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/webhook/twilio/voice", url.Values{
		"CallSid": {"CA1"},
		"From":    {"+15559990000"},
		"To":      {"+15558887777"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Record") {
		t.Fatalf("expected Record verb in fallback TwiML, got:\n%s", body)
	}
	if strings.Contains(body, "<Start") {
		t.Fatalf("fallback must not open a media stream:\n%s", body)
	}
	if len(f.mem.Calls()) != 0 {
		t.Fatalf("fallback must not create a call row")
	}
	if f.sessions.Len() != 0 {
		t.Fatalf("fallback must not register a session")
	}
}

func TestVoice_VoicemailMode(t *testing.T) {
	f := newFixture(t)
	f.mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111"})

	w := f.post(t, "/webhook/twilio/voice?mode=voicemail", url.Values{
		"CallSid": {"CA1"},
		"From":    {"+15559990000"},
		"To":      {"+15550001111"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `action="https://api.example.com/webhook/twilio/recording"`) {
		t.Fatalf("expected recording callback action, got:\n%s", body)
	}
	if len(f.mem.Calls()) != 0 {
		t.Fatalf("voicemail mode must not create a call row; recording callback does")
	}
	if f.sessions.Len() != 0 {
		t.Fatalf("voicemail mode must not register a session")
	}
}

func TestVoice_MissingCallSID(t *testing.T) {
	f := newFixture(t)
	w := f.post(t, "/webhook/twilio/voice", url.Values{"From": {"+15559990000"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStatus_InformationalIgnored(t *testing.T) {
	f := newFixture(t)
	f.mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111"})
	if _, err := f.sessions.Create(context.Background(), "CA1", "+15559990000", "+15550001111"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	w := f.post(t, "/webhook/twilio/status", url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"ringing"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := f.mem.Calls()[0].Status; got != store.CallStatusInProgress {
		t.Fatalf("informational status must not change the row, got %s", got)
	}
	if f.sessions.Len() != 1 {
		t.Fatalf("informational status must not end the session")
	}
}

func TestStatus_TerminalFinalizesAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111"})
	if _, err := f.sessions.Create(context.Background(), "CA1", "+15559990000", "+15550001111"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	w := f.post(t, "/webhook/twilio/status", url.Values{
		"CallSid":      {"CA1"},
		"CallStatus":   {"completed"},
		"CallDuration": {"42"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	call := f.mem.Calls()[0]
	if call.Status != store.CallStatusCompleted {
		t.Fatalf("status = %s, want completed", call.Status)
	}
	if call.DurationSeconds == nil || *call.DurationSeconds != 42 {
		t.Fatalf("duration not recorded: %+v", call.DurationSeconds)
	}
	if call.EndedAt == nil {
		t.Fatalf("ended_at not recorded")
	}
	if f.sessions.Len() != 0 {
		t.Fatalf("terminal status must end the session")
	}
	sends := f.notifier.Sends()
	if len(sends) != 1 || sends[0] != "U1|Call ended" {
		t.Fatalf("expected call-ended notification, got %v", sends)
	}
}

func TestStatus_UnknownCallAcknowledged(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/webhook/twilio/status", url.Values{
		"CallSid":    {"CA404"},
		"CallStatus": {"no-answer"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status callback for unknown call must ack, got %d", w.Code)
	}
	if len(f.mem.Calls()) != 0 {
		t.Fatalf("status callback must never create rows")
	}
}

func TestStatus_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111"})
	if _, err := f.sessions.Create(context.Background(), "CA1", "+15559990000", "+15550001111"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	form := url.Values{
		"CallSid":      {"CA1"},
		"CallStatus":   {"completed"},
		"CallDuration": {"42"},
	}
	for i := 0; i < 3; i++ {
		if w := f.post(t, "/webhook/twilio/status", form); w.Code != http.StatusOK {
			t.Fatalf("replay %d: status = %d", i, w.Code)
		}
	}

	calls := f.mem.Calls()
	if len(calls) != 1 {
		t.Fatalf("replays must not create rows, got %d", len(calls))
	}
	if calls[0].Status != store.CallStatusCompleted {
		t.Fatalf("status = %s", calls[0].Status)
	}
}

func TestRecording_CreatesRowAndSubmitsJob(t *testing.T) {
	f := newFixture(t)
	f.mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111"})

	w := f.post(t, "/webhook/twilio/recording", url.Values{
		"CallSid":           {"CA2"},
		"RecordingUrl":      {"https://api.twilio.com/rec/RE1"},
		"RecordingSid":      {"RE1"},
		"From":              {"+15559990000"},
		"To":                {"+15550001111"},
		"RecordingDuration": {"17"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	calls := f.mem.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one call row, got %d", len(calls))
	}
	call := calls[0]
	if call.Status != store.CallStatusRecorded {
		t.Fatalf("status = %s, want recorded", call.Status)
	}
	if call.UserID != "U1" {
		t.Fatalf("owner not resolved from dialed number, got %q", call.UserID)
	}
	if call.DurationSeconds == nil || *call.DurationSeconds != 17 {
		t.Fatalf("recording duration not recorded")
	}

	audio := f.mem.AudioFiles()
	if len(audio) != 1 || audio[0].StoragePath != "https://api.twilio.com/rec/RE1" {
		t.Fatalf("expected external audio row with provider url, got %+v", audio)
	}

	jobs := f.submitter.Jobs()
	if len(jobs) != 1 || jobs[0].CallSID != "CA2" {
		t.Fatalf("expected one submitted job, got %v", jobs)
	}
}

func TestRecording_BeforeVoiceStartCreatesSingleRow(t *testing.T) {
	f := newFixture(t)

	form := url.Values{
		"CallSid":      {"CA3"},
		"RecordingUrl": {"https://api.twilio.com/rec/RE2"},
		"From":         {"+15559990000"},
		"To":           {"+15550009999"},
	}
	if w := f.post(t, "/webhook/twilio/recording", form); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w := f.post(t, "/webhook/twilio/recording", form); w.Code != http.StatusOK {
		t.Fatalf("replay status = %d", w.Code)
	}

	calls := f.mem.Calls()
	if len(calls) != 1 {
		t.Fatalf("upsert must keep a single row across replays, got %d", len(calls))
	}
	if calls[0].Status != store.CallStatusRecorded {
		t.Fatalf("status = %s, want recorded", calls[0].Status)
	}
}

func TestRecording_MissingFields(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/webhook/twilio/recording", url.Values{"CallSid": {"CA2"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing RecordingUrl: status = %d, want 400", w.Code)
	}

	w = f.post(t, "/webhook/twilio/recording", url.Values{"RecordingUrl": {"https://x/rec"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing CallSid: status = %d, want 400", w.Code)
	}
}

func TestMedia_NotImplemented(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/twilio/media/CA1", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", w.Code)
	}
}
