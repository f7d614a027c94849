package callflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voicefront/internal/pipeline"
	"voicefront/internal/session"
	"voicefront/internal/store"
	"voicefront/internal/telephony"
)

const (
	voicemailPrompt   = "Please leave a message after the beep and we will get back to you."
	voicemailFallback = "Sorry, our assistant is unavailable right now. Please leave a message after the beep."

	// maxRecordingSeconds caps voicemail length at the provider.
	maxRecordingSeconds = 300

	connectedPrompt = "You are now connected to our AI assistant."
)

// Submitter detaches recording processing from the webhook response path.
type Submitter interface {
	Submit(pipeline.Job)
}

// Notifier delivers best-effort push messages.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// Service is the call state machine behind the provider webhooks. It owns
// the transitions; handlers only parse and render. Webhook delivery is
// at-least-once and unordered, so every transition here tolerates replays
// and events for calls it has not seen yet.
type Service struct {
	store    store.Store
	sessions *session.Registry
	jobs     Submitter
	notifier Notifier
	log      *slog.Logger

	recordingURL string
	mediaWSBase  string

	clock func() time.Time
}

func NewService(st store.Store, sessions *session.Registry, jobs Submitter, notifier Notifier, log *slog.Logger, recordingURL, baseURL string) *Service {
	return &Service{
		store:        st,
		sessions:     sessions,
		jobs:         jobs,
		notifier:     notifier,
		log:          log,
		recordingURL: recordingURL,
		mediaWSBase:  wsBase(baseURL),
		clock:        time.Now,
	}
}

// wsBase rewrites the external http(s) origin into the ws(s) origin the
// provider connects its media stream to.
func wsBase(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func (s *Service) mediaStreamURL(callSID string) string {
	return s.mediaWSBase + "/webhook/twilio/media/" + callSID
}

// AnswerTwiML decides how an inbound call is answered. In voicemail mode
// the caller goes straight to recording with no call row created; the
// recording callback creates it later. In agent mode a live session is
// created and the provider is told to open a media stream. If the session
// cannot be created (unknown number, persona lookup failure) the call
// degrades to voicemail instead of failing.
func (s *Service) AnswerTwiML(ctx context.Context, ev telephony.VoiceStartEvent, voicemail bool) (string, error) {
	if voicemail {
		return telephony.NewTwiML().
			Say(voicemailPrompt).
			Record(s.recordingURL, maxRecordingSeconds).
			Hangup().
			Render()
	}

	sess, err := s.sessions.Create(ctx, ev.CallSID, ev.From, ev.To)
	if err != nil {
		s.log.Warn("agent session unavailable, degrading to voicemail",
			"call_sid", ev.CallSID, "to", ev.To, "err", err)
		return telephony.NewTwiML().
			Say(voicemailFallback).
			Record(s.recordingURL, maxRecordingSeconds).
			Hangup().
			Render()
	}

	return telephony.NewTwiML().
		Say(sess.GreetingText).
		StartStream(s.mediaStreamURL(ev.CallSID), ev.CallSID).
		Say(connectedPrompt).
		Render()
}

// HandleStatus applies a status callback. Informational statuses are
// dropped; only terminal ones write, so a late "ringing" can never undo a
// "completed". A terminal status for an unknown call is ignored: the row
// is created by voice-start or the recording callback, never by status.
func (s *Service) HandleStatus(ctx context.Context, ev telephony.StatusEvent) error {
	status := store.CallStatus(ev.Status)
	if !status.IsTerminal() {
		s.log.Debug("ignoring informational status", "call_sid", ev.CallSID, "status", ev.Status)
		return nil
	}

	call, err := s.store.FinalizeCallBySID(ctx, ev.CallSID, status, ev.DurationSeconds, s.clock().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.Info("status for unknown call, ignoring", "call_sid", ev.CallSID, "status", ev.Status)
			return nil
		}
		return fmt.Errorf("callflow: finalize call: %w", err)
	}

	s.sessions.End(ev.CallSID)

	if s.notifier != nil && call.UserID != "" {
		body := fmt.Sprintf("Call from %s ended (%s).", call.FromNumber, status)
		if err := s.notifier.Notify(ctx, call.UserID, "Call ended", body); err != nil {
			s.log.Warn("call-ended notification failed", "call_sid", ev.CallSID, "err", err)
		}
	}
	return nil
}

// HandleRecording durably registers a finished recording and hands the
// heavy work to the pipeline. The upsert makes this the row-creating path
// when the recording callback outruns voice-start; the owning user is
// resolved from the dialed number when possible.
func (s *Service) HandleRecording(ctx context.Context, ev telephony.RecordingEvent) error {
	userID := ""
	if ev.To != "" {
		num, err := s.store.GetNumberByE164(ctx, ev.To)
		switch {
		case err == nil:
			userID = num.UserID
		case errors.Is(err, store.ErrNotFound):
			// recording for an unprovisioned number; keep the row ownerless
		default:
			return fmt.Errorf("callflow: resolve number: %w", err)
		}
	}

	// One transactional write: the call row and its audio reference land
	// together or not at all, so a redelivered callback can retry cleanly.
	if _, err := s.store.SaveRecordingEvent(ctx, store.UpsertCallParams{
		TwilioCallSID:   ev.CallSID,
		UserID:          userID,
		FromNumber:      ev.From,
		ToNumber:        ev.To,
		Status:          store.CallStatusRecorded,
		DurationSeconds: ev.DurationSeconds,
	}, store.AudioFile{
		StoragePath: ev.RecordingURL,
		ContentType: "audio/mpeg",
	}); err != nil {
		return fmt.Errorf("callflow: save recording event: %w", err)
	}

	// Everything past this point is detached; the provider gets its 200 now.
	s.jobs.Submit(pipeline.Job{CallSID: ev.CallSID, RecordingURL: ev.RecordingURL})
	return nil
}
