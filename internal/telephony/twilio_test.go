package telephony

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"roofcrm/internal/config"

	"github.com/gin-gonic/gin"
)

func testTwilioServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *TwilioProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewTwilioProvider(config.TwilioConfig{
		AccountSID:        "AC123",
		AuthToken:         "token",
		APIBaseURL:        srv.URL,
		VoiceURL:          "https://crm.example.com/webhooks/twilio/voice",
		StatusCallbackURL: "https://crm.example.com/webhooks/twilio/status",
	}, slog.Default())
	return srv, p
}

func TestTwilioProvider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*TwilioProvider)(nil)
}

func TestTwilioProvider_ConnectValidatesCredentials(t *testing.T) {
	_, p := testTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123.json" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func TestTwilioProvider_ConnectRejectsBadCredentials(t *testing.T) {
	_, p := testTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if err := p.Connect(context.Background()); err == nil {
		t.Fatalf("expected auth error")
	}
	if _, err := p.PlaceCall(context.Background(), "+15551234567", "+15550001111"); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestTwilioProvider_PlaceCallReturnsHandle(t *testing.T) {
	var placedForm url.Values
	_, p := testTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/Accounts/AC123/Calls.json" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		placedForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA999","status":"queued"}`))
	})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	handle, err := p.PlaceCall(context.Background(), "+15551234567", "+15550001111")
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if handle != "CA999" {
		t.Fatalf("expected handle CA999, got %q", handle)
	}
	if placedForm.Get("To") != "+15551234567" || placedForm.Get("From") != "+15550001111" {
		t.Fatalf("unexpected form: %v", placedForm)
	}
	if placedForm.Get("StatusCallback") == "" {
		t.Fatalf("expected status callback to be set")
	}
}

func TestTwilioProvider_PlaceCallSurfacesRejection(t *testing.T) {
	_, p := testTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_, err := p.PlaceCall(context.Background(), "not-a-number", "+15550001111")
	if err == nil {
		t.Fatalf("expected placement rejection")
	}
	if !strings.Contains(err.Error(), "21211") {
		t.Fatalf("expected twilio error code in message, got %v", err)
	}
}

func TestTwilioProvider_HangupMarksCompleted(t *testing.T) {
	var form url.Values
	_, p := testTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/Accounts/AC123/Calls/CA1.json" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusOK)
	})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if form.Get("Status") != "completed" {
		t.Fatalf("expected Status=completed, got %v", form)
	}
}

func TestStatusToEvent(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cases := []struct {
		status string
		kind   EventKind
		ok     bool
	}{
		{"ringing", EventRinging, true},
		{"in-progress", EventActive, true},
		{"completed", EventEnded, true},
		{"busy", EventEnded, true},
		{"no-answer", EventEnded, true},
		{"failed", EventFailed, true},
		{"queued", "", false},
		{"initiated", "", false},
	}
	for _, tc := range cases {
		ev, ok := statusToEvent(tc.status, "CA1", now)
		if ok != tc.ok {
			t.Fatalf("%s: expected ok=%v", tc.status, tc.ok)
		}
		if ok && ev.Kind != tc.kind {
			t.Fatalf("%s: expected kind %s, got %s", tc.status, tc.kind, ev.Kind)
		}
		if ok && ev.Handle != "CA1" {
			t.Fatalf("%s: expected handle", tc.status)
		}
	}
}

func TestTwilioProvider_VoiceWebhookEmitsIncoming(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, p := testTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := gin.New()
	r.POST("/webhooks/twilio/voice", p.HandleVoiceWebhook)

	body := strings.NewReader("CallSid=CA42&From=%2B15551234567&To=%2B15557654321&Direction=inbound")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Pause") {
		t.Fatalf("expected hold twiml, got %s", w.Body.String())
	}

	select {
	case ev := <-p.Events():
		if ev.Kind != EventIncoming || ev.Handle != "CA42" || ev.Number != "+15551234567" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected incoming event")
	}
}

func TestTwilioProvider_StatusCallbackEmitsEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, p := testTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := gin.New()
	r.POST("/webhooks/twilio/status", p.HandleStatusCallback)

	body := strings.NewReader("CallSid=CA42&CallStatus=in-progress")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	select {
	case ev := <-p.Events():
		if ev.Kind != EventActive || ev.Handle != "CA42" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected active event")
	}
}
