package callflow

import (
	"net/http"

	"voicefront/internal/telephony"
	"voicefront/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler adapts provider webhooks to the call state machine. Webhooks are
// unauthenticated by JWT; Twilio is the caller.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/webhook/twilio")
	g.POST("/voice", h.Voice)
	g.POST("/status", h.Status)
	g.POST("/recording", h.Recording)
	g.Any("/media/:call_sid", h.Media)
}

// Voice answers an inbound call with TwiML. ?mode=voicemail skips the
// agent entirely.
func (h *Handler) Voice(c *gin.Context) {
	ev, err := telephony.ParseVoiceStart(c.Request)
	if err != nil || ev.CallSID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CallSid is required"})
		return
	}

	voicemail := c.Query("mode") == "voicemail"
	twiml, err := h.svc.AnswerTwiML(c.Request.Context(), ev, voicemail)
	if err != nil {
		logger.FromGin(c).Error("failed to build voice response", "call_sid", ev.CallSID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twiml))
}

func (h *Handler) Status(c *gin.Context) {
	ev, err := telephony.ParseStatus(c.Request)
	if err != nil || ev.CallSID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CallSid is required"})
		return
	}

	if err := h.svc.HandleStatus(c.Request.Context(), ev); err != nil {
		logger.FromGin(c).Error("status callback failed", "call_sid", ev.CallSID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Recording(c *gin.Context) {
	ev, err := telephony.ParseRecording(c.Request)
	if err != nil || ev.CallSID == "" || ev.RecordingURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CallSid and RecordingUrl are required"})
		return
	}

	if err := h.svc.HandleRecording(c.Request.Context(), ev); err != nil {
		// No durable write happened; a 5xx makes the provider redeliver.
		logger.FromGin(c).Error("recording callback failed", "call_sid", ev.CallSID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Media is the reserved endpoint for bidirectional audio streaming. The
// TwiML already points providers here; the WebSocket upgrade is not built
// yet.
func (h *Handler) Media(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "media streaming not implemented"})
}
