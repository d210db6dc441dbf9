package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roofcrm/internal/telephony"
)

// Twilio posts signaling webhooks with the operator session baked into the
// callback URL as query parameters, so each event reaches the provider
// instance owning that session's event stream.
//
// NOTE: production deployments should validate the X-Twilio-Signature
// header at the edge before these handlers run.

func (h Handlers) twilioProvider(c *gin.Context) (*telephony.TwilioProvider, bool) {
	workspaceID := c.Query("workspace_id")
	userID := c.Query("user_id")
	if workspaceID == "" || userID == "" {
		return nil, false
	}
	ctrl, ok := h.Registry.Peek(workspaceID, userID)
	if !ok {
		return nil, false
	}
	p, ok := ctrl.Provider().(*telephony.TwilioProvider)
	return p, ok
}

// TwilioVoice handles the inbound-call webhook. Unroutable calls get reject
// TwiML so the caller hears a busy signal instead of dead air.
func (h Handlers) TwilioVoice(c *gin.Context) {
	p, ok := h.twilioProvider(c)
	if !ok {
		h.Log.Warn("twilio voice webhook for unknown session",
			"workspace_id", c.Query("workspace_id"), "user_id", c.Query("user_id"))
		c.Header("Content-Type", "application/xml")
		c.String(http.StatusOK, telephony.RejectTwiML())
		return
	}
	p.HandleVoiceWebhook(c)
}

// TwilioStatus handles call-progress status callbacks.
func (h Handlers) TwilioStatus(c *gin.Context) {
	p, ok := h.twilioProvider(c)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	p.HandleStatusCallback(c)
}
