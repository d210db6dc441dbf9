package config

import (
	"strings"
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "roofcrm", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Provider: ProviderConfig{
			Name:     ProviderSIPBridge,
			CallerID: "+15550001111",
			SIPBridge: SIPBridgeConfig{
				URL: "wss://gateway.example.com/signal",
			},
		},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "roofcrm"
	c.Auth.JWTAudience = "roofcrm"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	if !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_ProviderSelection(t *testing.T) {
	c := validBase()
	c.Provider.Name = "asterisk"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown provider name")
	}

	c = validBase()
	c.Provider.Name = ProviderTwilio
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for twilio without credentials")
	}
	if !strings.Contains(err.Error(), "TWILIO_ACCOUNT_SID") {
		t.Fatalf("expected TWILIO_ACCOUNT_SID error, got %v", err)
	}

	c = validBase()
	c.Provider.Name = ProviderTwilio
	c.Provider.Twilio = TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		VoiceURL:   "https://crm.example.com/webhooks/twilio/voice",
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Provider.Twilio.APIBaseURL == "" {
		t.Fatalf("expected default twilio base url")
	}
}

func TestValidate_CallsDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Calls.MaxLinesPerWorkspace != 5 {
		t.Fatalf("expected default line cap 5, got %d", c.Calls.MaxLinesPerWorkspace)
	}
	if c.Calls.LineCapTTL != 4*time.Hour {
		t.Fatalf("expected default line cap ttl 4h, got %s", c.Calls.LineCapTTL)
	}
}

func TestValidate_TranscriptionRequiresSink(t *testing.T) {
	c := validBase()
	c.Transcription.Enabled = true
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for transcription without sink url")
	}
	c.Transcription.SinkURL = "wss://stt.example.com/stream"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
