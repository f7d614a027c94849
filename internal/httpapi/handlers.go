package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voicefront/internal/auth"
	"voicefront/internal/speech"
	"voicefront/internal/store"
	"voicefront/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultCallListLimit = 50

// Speech is the transcription/summarization gateway the API calls directly
// (uploaded audio and ad-hoc summaries, outside the recording pipeline).
type Speech interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (speech.Transcription, error)
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Allocator is the billing hook into number allocation.
type Allocator interface {
	AutoAllocate(ctx context.Context, userID string) error
}

// Notifier delivers best-effort push messages.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Store        store.Store
	Speech       Speech
	Numbers      Allocator
	Push         Notifier
	AutoAllocate bool

	// Clock is overridable in tests; nil means time.Now.
	Clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h Handlers) Register(r gin.IRouter) {
	r.GET("/calls", h.ListCalls)
	r.GET("/calls/:id", h.GetCall)
	r.POST("/calls/summarize", h.SummarizeText)
	r.POST("/calls/upload-audio", h.UploadAudio)
	r.POST("/recap/daily", h.DailyRecap)
	r.POST("/billing/upgraded", h.BillingUpgraded)
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := defaultCallListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1-200"})
			return
		}
		limit = n
	}

	calls, err := h.Store.ListCallsByUser(c.Request.Context(), userID, limit)
	if err != nil {
		logger.FromGin(c).Error("call list failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if calls == nil {
		calls = []store.Call{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

type callDetailResponse struct {
	Call       store.Call        `json:"call"`
	Transcript *store.Transcript `json:"transcript,omitempty"`
	AudioFiles []store.AudioFile `json:"audio_files"`
}

// GetCall returns one call with its transcript and audio rows. A call
// owned by someone else is a 404, not a 403; existence is not disclosed.
func (h Handlers) GetCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	call, err := h.Store.GetCallByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("call lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if call.UserID != userID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	resp := callDetailResponse{Call: call, AudioFiles: []store.AudioFile{}}

	tr, err := h.Store.GetTranscriptByCall(c.Request.Context(), call.ID)
	switch {
	case err == nil:
		resp.Transcript = &tr
	case errors.Is(err, store.ErrNotFound):
		// recording still processing, or the call had none
	default:
		logger.FromGin(c).Error("transcript lookup failed", "call_id", call.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	audio, err := h.Store.ListAudioFilesByCall(c.Request.Context(), call.ID)
	if err != nil {
		logger.FromGin(c).Error("audio lookup failed", "call_id", call.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if audio != nil {
		resp.AudioFiles = audio
	}

	c.JSON(http.StatusOK, resp)
}

type summarizeRequest struct {
	Text string `json:"text"`
}

func (h Handlers) SummarizeText(c *gin.Context) {
	if _, err := auth.UserID(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	summary, err := h.Speech.Summarize(c.Request.Context(), req.Text)
	if err != nil {
		logger.FromGin(c).Error("summarization failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "summarization failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

type uploadAudioRequest struct {
	CallID string `json:"call_id"`
	Base64 string `json:"base64"`
}

// UploadAudio transcribes and summarizes a client-uploaded recording and
// attaches the result to an existing call. Same ownership posture as
// GetCall: someone else's call is a 404.
func (h Handlers) UploadAudio(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req uploadAudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CallID == "" || req.Base64 == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id and base64 are required"})
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.Base64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "base64 is not valid"})
		return
	}

	call, err := h.Store.GetCallByID(c.Request.Context(), req.CallID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("call lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if call.UserID != userID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	tr, err := h.Speech.Transcribe(c.Request.Context(), audio, "upload.mp3")
	if err != nil {
		logger.FromGin(c).Error("upload transcription failed", "call_id", call.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "transcription failed"})
		return
	}

	summary, err := h.Speech.Summarize(c.Request.Context(), tr.Text)
	if err != nil {
		logger.FromGin(c).Error("upload summarization failed", "call_id", call.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "summarization failed"})
		return
	}

	if _, err := h.Store.InsertTranscript(c.Request.Context(), store.Transcript{
		CallID:     call.ID,
		Transcript: tr.Text,
		Summary:    summary,
		Language:   tr.Language,
	}); err != nil {
		logger.FromGin(c).Error("transcript insert failed", "call_id", call.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"text": tr.Text, "summary": summary})
}

// --- Daily recap ---

type recapCall struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

type dailyRecap struct {
	Date        string      `json:"date"`
	TotalCalls  int         `json:"total_calls"`
	MissedCalls int         `json:"missed_calls"`
	ActionItems []string    `json:"action_items"`
	Calls       []recapCall `json:"calls"`
}

// DailyRecap aggregates the current day's calls into a recap and pushes a
// summary notification. The push is best-effort; the recap is returned
// either way.
func (h Handlers) DailyRecap(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	dayStart := h.now().UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	calls, err := h.Store.ListCallsByUserSince(c.Request.Context(), userID, dayStart, dayEnd)
	if err != nil {
		logger.FromGin(c).Error("recap call list failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "recap failed"})
		return
	}

	recap := dailyRecap{
		Date:        dayStart.Format("2006-01-02"),
		TotalCalls:  len(calls),
		ActionItems: []string{},
		Calls:       []recapCall{},
	}
	seen := make(map[string]bool)

	for _, call := range calls {
		if call.Status == store.CallStatusNoAnswer || call.Status == store.CallStatusBusy {
			recap.MissedCalls++
		}

		rc := recapCall{ID: call.ID, From: call.FromNumber, Status: string(call.Status)}
		tr, err := h.Store.GetTranscriptByCall(c.Request.Context(), call.ID)
		switch {
		case err == nil:
			rc.Summary = tr.Summary
			for _, item := range parseActionItems(tr.ActionItems) {
				if !seen[item] {
					seen[item] = true
					recap.ActionItems = append(recap.ActionItems, item)
				}
			}
		case errors.Is(err, store.ErrNotFound):
			// no transcript yet; the call still counts
		default:
			logger.FromGin(c).Error("recap transcript lookup failed", "call_id", call.ID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "recap failed"})
			return
		}
		recap.Calls = append(recap.Calls, rc)
	}

	if h.Push != nil {
		title := fmt.Sprintf("Daily Recap: %d calls today", recap.TotalCalls)
		body := fmt.Sprintf("You had %d calls, %d missed. %d action items.",
			recap.TotalCalls, recap.MissedCalls, len(recap.ActionItems))
		if err := h.Push.Notify(c.Request.Context(), userID, title, body); err != nil {
			logger.FromGin(c).Warn("recap notification failed", "user_id", userID, "err", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"recap": recap})
}

// parseActionItems reads the JSON string array stored on a transcript.
// Anything unparseable is treated as no items.
func parseActionItems(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	out := items[:0]
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// --- Billing ---

type billingUpgradedRequest struct {
	Plan string `json:"plan"`
}

// BillingUpgraded acknowledges a plan upgrade. A paid plan triggers
// auto-allocation of a number; allocation failure never fails the ack,
// since the upgrade itself already happened upstream.
func (h Handlers) BillingUpgraded(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req billingUpgradedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	allocated := false
	if h.AutoAllocate && isPaidPlan(req.Plan) && h.Numbers != nil {
		if err := h.Numbers.AutoAllocate(c.Request.Context(), userID); err != nil {
			logger.FromGin(c).Warn("auto-allocation after upgrade failed", "user_id", userID, "err", err)
		} else {
			allocated = true
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "auto_allocated": allocated})
}

func isPaidPlan(plan string) bool {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case "", "free", "trial":
		return false
	default:
		return true
	}
}
