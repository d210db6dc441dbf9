package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"roofcrm/internal/auth"
	"roofcrm/internal/callcontrol"
	"roofcrm/internal/callrecords"
	"roofcrm/internal/config"
	"roofcrm/internal/media"
	"roofcrm/internal/telephony"
)

type stubTrack struct {
	remote chan []byte
	muted  bool
}

func (t *stubTrack) ID() string                 { return "stub" }
func (t *stubTrack) RemoteAudio() <-chan []byte { return t.remote }
func (t *stubTrack) Muted() bool                { return t.muted }

type stubGate struct{}

func (stubGate) AcquireLocal(ctx context.Context) (media.Track, error) {
	return &stubTrack{remote: make(chan []byte)}, nil
}
func (stubGate) Release(t media.Track)             {}
func (stubGate) SetMuted(t media.Track, muted bool) {}

type stubProvider struct {
	mu     sync.Mutex
	events chan telephony.Event
	placed []string
	hungup []string
}

func newStubProvider() *stubProvider {
	return &stubProvider{events: make(chan telephony.Event, 16)}
}

func (p *stubProvider) Name() string                    { return "stub" }
func (p *stubProvider) Connect(ctx context.Context) error { return nil }

func (p *stubProvider) PlaceCall(ctx context.Context, number, callerID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, number)
	return "stub-handle", nil
}

func (p *stubProvider) Answer(ctx context.Context, handle string) error { return nil }

func (p *stubProvider) Hangup(ctx context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hungup = append(p.hungup, handle)
	return nil
}

func (p *stubProvider) Events() <-chan telephony.Event { return p.events }
func (p *stubProvider) Close() error                   { return nil }

type apiRig struct {
	router   *gin.Engine
	handlers Handlers
	registry *callcontrol.Registry
	records  *callrecords.MemoryRepo
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := callrecords.NewMemoryRepo()
	svc := callrecords.NewService(repo)
	registry := callcontrol.NewRegistry(
		func(workspaceID, userID string) (telephony.Provider, error) {
			return newStubProvider(), nil
		},
		stubGate{}, svc, nil, "+15550005555", log,
	)
	t.Cleanup(registry.CloseAll)

	manager, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret-test-secret-test-secret",
		JWTIssuer:       "roofcrm-test",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	h := Handlers{
		Auth:     manager,
		Registry: registry,
		Records:  svc,
		Calls:    config.CallsConfig{},
		Log:      log,
	}

	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/webhooks/twilio/voice", h.TwilioVoice)
	r.POST("/webhooks/twilio/status", h.TwilioStatus)

	asOperator := func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "user-1", "ws-1", "office")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
	v1 := r.Group("/v1", asOperator)
	v1.POST("/calls/dial", h.Dial)
	v1.POST("/calls/answer", h.Answer)
	v1.POST("/calls/hangup", h.Hangup)
	v1.POST("/calls/mute", h.ToggleMute)
	v1.GET("/calls/state", h.State)
	v1.GET("/calls/history", h.History)
	v1.GET("/calls/stream", h.StateStream)

	return &apiRig{router: r, handlers: h, registry: registry, records: repo}
}

func (rig *apiRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) callcontrol.CallState {
	t.Helper()
	var out struct {
		State callcontrol.CallState `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out.State
}

func TestDialHangupFlow(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/v1/calls/dial", gin.H{"number": "+15551234567", "contact_id": "c-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("dial: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	st := decodeState(t, w)
	if st.Status != callcontrol.StatusConnecting || st.RemoteNumber != "+15551234567" {
		t.Fatalf("unexpected dial state: %+v", st)
	}

	w = rig.do(t, http.MethodGet, "/v1/calls/state", nil)
	if w.Code != http.StatusOK || decodeState(t, w).Status != callcontrol.StatusConnecting {
		t.Fatalf("state: expected connecting, got %d: %s", w.Code, w.Body.String())
	}

	w = rig.do(t, http.MethodPost, "/v1/calls/hangup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hangup: expected 200, got %d", w.Code)
	}
	if st := decodeState(t, w); st.Status != callcontrol.StatusIdle {
		t.Fatalf("expected idle after hangup, got %+v", st)
	}
}

func TestDialRequiresNumber(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodPost, "/v1/calls/dial", gin.H{"contact_id": "c-1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDialWhileBusyReturnsConflict(t *testing.T) {
	rig := newAPIRig(t)

	if w := rig.do(t, http.MethodPost, "/v1/calls/dial", gin.H{"number": "+15551234567"}); w.Code != http.StatusOK {
		t.Fatalf("first dial: %d", w.Code)
	}
	w := rig.do(t, http.MethodPost, "/v1/calls/dial", gin.H{"number": "+15559990000"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReleaseWhenIdleForIdleController(t *testing.T) {
	rig := newAPIRig(t)
	ctrl, err := rig.registry.Controller(context.Background(), "ws-1", "user-1")
	if err != nil {
		t.Fatalf("controller: %v", err)
	}

	released := make(chan struct{})
	releaseWhenIdle(ctrl, func() { close(released) })
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("slot never released for an already idle controller")
	}
}

func TestReleaseWhenIdleReleasesOnceAtTeardown(t *testing.T) {
	rig := newAPIRig(t)
	ctrl, err := rig.registry.Controller(context.Background(), "ws-1", "user-1")
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	if _, err := ctrl.MakeCall(context.Background(), "+15551230000", ""); err != nil {
		t.Fatalf("MakeCall: %v", err)
	}

	var mu sync.Mutex
	releases := 0
	releaseWhenIdle(ctrl, func() {
		mu.Lock()
		releases++
		mu.Unlock()
	})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	early := releases
	mu.Unlock()
	if early != 0 {
		t.Fatalf("slot released while the call was live, releases=%d", early)
	}

	if err := ctrl.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := releases
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot not released at teardown, releases=%d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A second call cycle must not release the same slot again.
	if _, err := ctrl.MakeCall(context.Background(), "+15551230001", ""); err != nil {
		t.Fatalf("MakeCall: %v", err)
	}
	if err := ctrl.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	final := releases
	mu.Unlock()
	if final != 1 {
		t.Fatalf("slot released %d times, want 1", final)
	}
}

func TestAnswerWithoutRingingReturnsConflict(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodPost, "/v1/calls/answer", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestMuteEndpointTogglesState(t *testing.T) {
	rig := newAPIRig(t)

	if w := rig.do(t, http.MethodPost, "/v1/calls/dial", gin.H{"number": "+15551234567"}); w.Code != http.StatusOK {
		t.Fatalf("dial: %d", w.Code)
	}
	w := rig.do(t, http.MethodPost, "/v1/calls/mute", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("mute: %d", w.Code)
	}
	if st := decodeState(t, w); !st.IsMuted {
		t.Fatalf("expected muted state, got %+v", st)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	rig := newAPIRig(t)

	svc := rig.handlers.Records
	seed := []callrecords.NewRecord{
		{WorkspaceID: "ws-1", Direction: callrecords.DirectionOutbound, Number: "+15550000001"},
		{WorkspaceID: "ws-2", Direction: callrecords.DirectionOutbound, Number: "+15550000002"},
	}
	for _, req := range seed {
		if _, err := svc.Create(context.Background(), req); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	w := rig.do(t, http.MethodGet, "/v1/calls/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", w.Code)
	}
	var out struct {
		Records []callrecords.CallRecord `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Records) != 1 || out.Records[0].WorkspaceID != "ws-1" {
		t.Fatalf("history must be workspace scoped, got %+v", out.Records)
	}

	if w := rig.do(t, http.MethodGet, "/v1/calls/history?limit=bogus", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestLoginAndRefresh(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/auth/login", gin.H{"user_id": "u1", "workspace_id": "ws-1", "role": "office"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	w = rig.do(t, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": tokens.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// An access token must not pass as a refresh token.
	w = rig.do(t, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": tokens.AccessToken})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token type, got %d", w.Code)
	}
}

func TestLoginValidation(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodPost, "/auth/login", gin.H{"user_id": "u1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTwilioWebhookUnknownSession(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/webhooks/twilio/voice?workspace_id=ws-9&user_id=u-9", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("voice webhook: expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); !bytes.Contains([]byte(body), []byte("<Reject")) {
		t.Fatalf("expected reject TwiML, got %q", body)
	}

	w = rig.do(t, http.MethodPost, "/webhooks/twilio/status?workspace_id=ws-9&user_id=u-9", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status webhook: expected 204, got %d", w.Code)
	}
}
