package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voicefront/internal/speech"
	"voicefront/internal/storage"
	"voicefront/internal/store"
)

var (
	ErrFetchFailed  = errors.New("pipeline: recording fetch failed")
	ErrCallNotFound = errors.New("pipeline: call not found")
)

// Speech is the subset of the speech gateway the pipeline needs.
type Speech interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (speech.Transcription, error)
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Notifier delivers best-effort push messages.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// Processor turns one completed recording into stored audio, a transcript
// and a summary. Every step can fail independently; errors surface to the
// submitting pool, which logs and suppresses them (the webhook that
// triggered the run has already been acknowledged).
type Processor struct {
	store    store.Store
	speech   Speech
	blobs    storage.Blobs
	notifier Notifier
	log      *slog.Logger

	httpClient *http.Client
}

func NewProcessor(st store.Store, sp Speech, blobs storage.Blobs, notifier Notifier, log *slog.Logger) *Processor {
	return &Processor{
		store:      st,
		speech:     sp,
		blobs:      blobs,
		notifier:   notifier,
		log:        log,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Process runs the full fetch -> store -> transcribe -> summarize ->
// persist chain for one recording. Safe to run concurrently for different
// calls; shares no mutable state with the session registry.
func (p *Processor) Process(ctx context.Context, callSID, recordingURL string) error {
	audio, err := p.fetch(ctx, recordingURL)
	if err != nil {
		return err
	}

	call, err := p.store.GetCallBySID(ctx, callSID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The recording webhook upserts the call row before submitting,
			// so this should not happen; handled anyway.
			return fmt.Errorf("%w: %s", ErrCallNotFound, callSID)
		}
		return fmt.Errorf("pipeline: load call: %w", err)
	}

	path, err := p.blobs.SaveRecording(call.ID, audio)
	if err != nil {
		return err
	}
	if _, err := p.store.InsertAudioFile(ctx, store.AudioFile{
		CallID:      call.ID,
		StoragePath: path,
		ContentType: "audio/mpeg",
	}); err != nil {
		return fmt.Errorf("pipeline: insert audio file: %w", err)
	}

	tr, err := p.speech.Transcribe(ctx, audio, "recording.mp3")
	if err != nil {
		return err
	}

	summary, err := p.speech.Summarize(ctx, tr.Text)
	if err != nil {
		return err
	}

	if _, err := p.store.InsertTranscript(ctx, store.Transcript{
		CallID:     call.ID,
		Transcript: tr.Text,
		Summary:    summary,
		Language:   tr.Language,
	}); err != nil {
		return fmt.Errorf("pipeline: insert transcript: %w", err)
	}

	if p.notifier != nil && call.UserID != "" {
		if err := p.notifier.Notify(ctx, call.UserID, "New voicemail", summary); err != nil {
			p.log.Warn("voicemail notification failed", "call_sid", callSID, "err", err)
		}
	}
	return nil
}

func (p *Processor) fetch(ctx context.Context, recordingURL string) ([]byte, error) {
	// Twilio recording URLs need an extension to return media.
	mediaURL := recordingURL
	if !strings.HasSuffix(mediaURL, ".mp3") {
		mediaURL += ".mp3"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return audio, nil
}
