package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"

	"roofcrm/internal/auth"
	"roofcrm/internal/callcontrol"
	"roofcrm/internal/callrecords"
	"roofcrm/internal/config"
	"roofcrm/internal/media"
	"roofcrm/pkg/utils"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Registry *callcontrol.Registry
	Records  *callrecords.Service
	Gate     *media.WebRTCGate

	// Redis backs the per-workspace concurrent line cap. Nil disables it.
	Redis *redis.Client
	Calls config.CallsConfig

	Log *slog.Logger
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), claims.UserID, claims.WorkspaceID, claims.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	wid, _ := auth.WorkspaceID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "workspace_id": wid, "role": role})
}

// --- Calls ---

// identity pulls the session identity set by the auth middleware.
func identity(c *gin.Context) (workspaceID, userID string, ok bool) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", "", false
	}
	userID, err = auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", "", false
	}
	return workspaceID, userID, true
}

func (h Handlers) session(c *gin.Context) (*callcontrol.Controller, string, bool) {
	workspaceID, userID, ok := identity(c)
	if !ok {
		return nil, "", false
	}
	ctrl, err := h.Registry.Controller(c.Request.Context(), workspaceID, userID)
	if err != nil {
		h.Log.Error("call session setup failed", "workspace_id", workspaceID, "user_id", userID, "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "call service unavailable"})
		return nil, "", false
	}
	return ctrl, workspaceID, true
}

// abortCallError maps the call error taxonomy onto HTTP statuses.
func abortCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, callcontrol.ErrNotReady):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "call service not ready"})
	case errors.Is(err, callcontrol.ErrBusy):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "another call is already in flight"})
	case errors.Is(err, callcontrol.ErrMediaDenied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "microphone access denied"})
	case errors.Is(err, callcontrol.ErrSignalingFailed):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider rejected the request"})
	case errors.Is(err, callcontrol.ErrNoRingingCall):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no ringing inbound call"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call operation failed"})
	}
}

type dialRequest struct {
	Number    string `json:"number"`
	ContactID string `json:"contact_id,omitempty"`
}

// Dial places an outbound call, holding one of the workspace's concurrent
// line slots for its duration.
func (h Handlers) Dial(c *gin.Context) {
	ctrl, workspaceID, ok := h.session(c)
	if !ok {
		return
	}
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Number == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}

	releaseSlot := func() {}
	if h.Redis != nil && h.Calls.MaxLinesPerWorkspace > 0 {
		key := utils.LineKey(workspaceID)
		got, err := utils.AcquireLineSlot(c.Request.Context(), h.Redis, key, h.Calls.MaxLinesPerWorkspace, h.Calls.LineCapTTL)
		if err != nil {
			// Cap bookkeeping must not take calling down with it.
			h.Log.Warn("line slot acquire failed, proceeding uncapped", "workspace_id", workspaceID, "error", err)
		} else if !got {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "all lines are busy"})
			return
		} else {
			rdb := h.Redis
			releaseSlot = func() {
				go func() {
					if err := utils.ReleaseLineSlot(context.Background(), rdb, key); err != nil {
						h.Log.Warn("line slot release failed", "workspace_id", workspaceID, "error", err)
					}
				}()
			}
		}
	}

	callID, err := ctrl.MakeCall(c.Request.Context(), req.Number, req.ContactID)
	if err != nil {
		releaseSlot()
		abortCallError(c, err)
		return
	}

	releaseWhenIdle(ctrl, releaseSlot)

	c.JSON(http.StatusOK, gin.H{"call_id": callID, "state": ctrl.GetState()})
}

// releaseWhenIdle runs release once the controller settles back to idle.
// The subscriber only signals a channel: a goroutine started after Subscribe
// returns owns the unsubscribe handle, so the notification callback never
// touches it. A teardown that finishes before the subscriber registers is
// caught by the state recheck.
func releaseWhenIdle(ctrl *callcontrol.Controller, release func()) {
	idle := make(chan struct{})
	var once sync.Once
	markIdle := func() { once.Do(func() { close(idle) }) }

	unsubscribe := ctrl.Subscribe(func(st callcontrol.CallState) {
		if st.Status == callcontrol.StatusIdle {
			markIdle()
		}
	})
	go func() {
		<-idle
		unsubscribe()
		release()
	}()

	if ctrl.GetState().Status == callcontrol.StatusIdle {
		markIdle()
	}
}

func (h Handlers) Answer(c *gin.Context) {
	ctrl, _, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.AnswerCall(c.Request.Context()); err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": ctrl.GetState()})
}

func (h Handlers) Hangup(c *gin.Context) {
	ctrl, _, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.EndCall(c.Request.Context()); err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": ctrl.GetState()})
}

func (h Handlers) ToggleMute(c *gin.Context) {
	ctrl, _, ok := h.session(c)
	if !ok {
		return
	}
	ctrl.ToggleMute()
	c.JSON(http.StatusOK, gin.H{"state": ctrl.GetState()})
}

func (h Handlers) State(c *gin.Context) {
	ctrl, _, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": ctrl.GetState()})
}

// --- Media signaling ---

type mediaOfferRequest struct {
	SDP string `json:"sdp"`
}

// MediaOffer answers the portal's WebRTC offer for the current call's
// microphone leg.
func (h Handlers) MediaOffer(c *gin.Context) {
	ctrl, _, ok := h.session(c)
	if !ok {
		return
	}
	if h.Gate == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "media signaling unavailable"})
		return
	}
	var req mediaOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SDP == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "sdp required"})
		return
	}
	track := ctrl.Track()
	if track == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no call in progress"})
		return
	}
	answer, err := h.Gate.Negotiate(track, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP})
	if err != nil {
		h.Log.Warn("media negotiation failed", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "negotiation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": "answer", "sdp": answer.SDP})
}

// --- History ---

func (h Handlers) History(c *gin.Context) {
	workspaceID, _, ok := identity(c)
	if !ok {
		return
	}

	filter := callrecords.ListFilter{
		ContactID: c.Query("contact_id"),
		Direction: callrecords.Direction(c.Query("direction")),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}

	rows, err := h.Records.History(c.Request.Context(), workspaceID, filter)
	if err != nil {
		if errors.Is(err, callrecords.ErrInvalidRecord) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
			return
		}
		h.Log.Error("call history lookup failed", "workspace_id", workspaceID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows})
}
