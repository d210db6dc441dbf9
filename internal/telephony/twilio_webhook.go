package telephony

import (
	"net/http"
	"strings"
	"time"

	"roofcrm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TwilioWebhookForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
//
// Keep it minimal and provider-adapter-only; call-control decisions are not
// made here.
type TwilioWebhookForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	CallerName string
}

func ParseTwilioWebhook(r *http.Request) (TwilioWebhookForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioWebhookForm{}, err
	}
	f := TwilioWebhookForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
		CallerName: r.PostFormValue("CallerName"),
	}
	return f, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

// HandleVoiceWebhook receives Twilio's voice webhook for inbound calls.
// It emits an incoming event for call control and parks the caller on hold
// TwiML; answering later redirects the call leg.
//
// NOTE: protect this endpoint with Twilio signature validation in production.
func (p *TwilioProvider) HandleVoiceWebhook(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioWebhook(c.Request)
	if err != nil {
		log.Warn("twilio voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
		return
	}

	p.emit(Event{
		Kind:       EventIncoming,
		Handle:     form.CallSid,
		Number:     form.From,
		OccurredAt: time.Now().UTC(),
	})

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, HoldTwiML())
}

// HandleStatusCallback receives Twilio call-progress callbacks and translates
// them into Events.
func (p *TwilioProvider) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioWebhook(c.Request)
	if err != nil {
		log.Warn("twilio status callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
		return
	}

	if ev, ok := statusToEvent(form.CallStatus, form.CallSid, time.Now().UTC()); ok {
		p.emit(ev)
	}
	c.Status(http.StatusNoContent)
}
