package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Provider      ProviderConfig
	Media         MediaConfig
	Transcription TranscriptionConfig
	Calls         CallsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ProviderConfig selects and configures the telephony backend.
// Exactly one provider is active per process; the call controller never
// branches on the provider name.
type ProviderConfig struct {
	// Name selects the adapter: "twilio" or "sipbridge".
	Name string

	// CallerID is the workspace default outbound caller number (E.164).
	CallerID string

	Twilio    TwilioConfig
	SIPBridge SIPBridgeConfig
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// APIBaseURL is overridable for tests; defaults to the public Twilio API.
	APIBaseURL string

	// VoiceURL and StatusCallbackURL must be publicly reachable; Twilio posts
	// call progress to them.
	VoiceURL          string
	StatusCallbackURL string
}

type SIPBridgeConfig struct {
	// URL is the signaling websocket endpoint of the SIP media gateway.
	URL       string
	AuthToken string

	// CommandTimeout bounds how long we wait for the gateway to ack a command.
	CommandTimeout time.Duration
}

type MediaConfig struct {
	STUNServers []string
	UDPPortMin  uint16
	UDPPortMax  uint16
}

type TranscriptionConfig struct {
	// Enabled gates the live transcription bridge; calls work without it.
	Enabled   bool
	SinkURL   string
	AuthToken string
}

type CallsConfig struct {
	// MaxLinesPerWorkspace caps concurrent calls per workspace (0 = default 5).
	MaxLinesPerWorkspace int
	// LineCapTTL guards against leaked line slots on process crash.
	LineCapTTL time.Duration
}

const (
	ProviderTwilio    = "twilio"
	ProviderSIPBridge = "sipbridge"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Provider.Name = strings.TrimSpace(os.Getenv("PROVIDER_NAME"))
	c.Provider.CallerID = strings.TrimSpace(os.Getenv("PROVIDER_CALLER_ID"))

	c.Provider.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Provider.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Provider.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	c.Provider.Twilio.VoiceURL = strings.TrimSpace(os.Getenv("TWILIO_VOICE_URL"))
	c.Provider.Twilio.StatusCallbackURL = strings.TrimSpace(os.Getenv("TWILIO_STATUS_CALLBACK_URL"))

	c.Provider.SIPBridge.URL = strings.TrimSpace(os.Getenv("SIPBRIDGE_URL"))
	c.Provider.SIPBridge.AuthToken = os.Getenv("SIPBRIDGE_AUTH_TOKEN")
	c.Provider.SIPBridge.CommandTimeout = optDuration("SIPBRIDGE_COMMAND_TIMEOUT")

	if v := strings.TrimSpace(os.Getenv("MEDIA_STUN_SERVERS")); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Media.STUNServers = append(c.Media.STUNServers, s)
			}
		}
	}
	c.Media.UDPPortMin = optPort("MEDIA_UDP_PORT_MIN")
	c.Media.UDPPortMax = optPort("MEDIA_UDP_PORT_MAX")

	c.Transcription.Enabled = strings.EqualFold(strings.TrimSpace(os.Getenv("TRANSCRIPTION_ENABLED")), "true")
	c.Transcription.SinkURL = strings.TrimSpace(os.Getenv("TRANSCRIPTION_SINK_URL"))
	c.Transcription.AuthToken = os.Getenv("TRANSCRIPTION_AUTH_TOKEN")

	if v := strings.TrimSpace(os.Getenv("CALLS_MAX_LINES_PER_WORKSPACE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("CALLS_MAX_LINES_PER_WORKSPACE must be an integer, got %q", v))
		}
		c.Calls.MaxLinesPerWorkspace = n
	}
	c.Calls.LineCapTTL = optDuration("CALLS_LINE_CAP_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	switch c.Provider.Name {
	case "":
		errs = append(errs, errors.New("PROVIDER_NAME is required"))
	case ProviderTwilio:
		if c.Provider.Twilio.AccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required for provider twilio"))
		}
		if c.Provider.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required for provider twilio"))
		}
		if c.Provider.Twilio.VoiceURL == "" {
			errs = append(errs, errors.New("TWILIO_VOICE_URL is required for provider twilio"))
		}
		if c.Provider.Twilio.APIBaseURL == "" {
			c.Provider.Twilio.APIBaseURL = "https://api.twilio.com/2010-04-01"
		}
	case ProviderSIPBridge:
		if c.Provider.SIPBridge.URL == "" {
			errs = append(errs, errors.New("SIPBRIDGE_URL is required for provider sipbridge"))
		}
		if c.Provider.SIPBridge.CommandTimeout <= 0 {
			c.Provider.SIPBridge.CommandTimeout = 10 * time.Second
		}
	default:
		errs = append(errs, fmt.Errorf("PROVIDER_NAME must be twilio or sipbridge, got %q", c.Provider.Name))
	}
	if c.Provider.CallerID == "" {
		errs = append(errs, errors.New("PROVIDER_CALLER_ID is required"))
	}

	if c.Media.UDPPortMin > 0 && c.Media.UDPPortMax > 0 && c.Media.UDPPortMax < c.Media.UDPPortMin {
		errs = append(errs, fmt.Errorf("MEDIA_UDP_PORT_MAX (%d) must be >= MEDIA_UDP_PORT_MIN (%d)", c.Media.UDPPortMax, c.Media.UDPPortMin))
	}

	if c.Transcription.Enabled && c.Transcription.SinkURL == "" {
		errs = append(errs, errors.New("TRANSCRIPTION_SINK_URL is required when TRANSCRIPTION_ENABLED=true"))
	}

	if c.Calls.MaxLinesPerWorkspace < 0 {
		errs = append(errs, fmt.Errorf("CALLS_MAX_LINES_PER_WORKSPACE must be >= 0, got %d", c.Calls.MaxLinesPerWorkspace))
	}
	if c.Calls.MaxLinesPerWorkspace == 0 {
		c.Calls.MaxLinesPerWorkspace = 5
	}
	if c.Calls.LineCapTTL <= 0 {
		c.Calls.LineCapTTL = 4 * time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func optPort(key string) uint16 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
