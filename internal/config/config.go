package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config aggregates every configuration section of the widget backend.
type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Feedback FeedbackConfig
	Widget   WidgetConfig
	Log      LogConfig
}

// Load reads configuration from the environment, layering the optional
// WIDGET_CONFIG_FILE profile underneath the environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	provider, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}

	feedback, err := loadFeedbackConfig()
	if err != nil {
		return nil, err
	}

	widget, err := loadWidgetConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Provider: provider,
		Feedback: feedback,
		Widget:   widget,
		Log:      logCfg,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are accepted as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ProviderConfig describes the conversational-AI provider account.
type ProviderConfig struct {
	APIKey  string
	AgentID string
	BaseURL string
	Timeout time.Duration
}

// Enabled reports whether signed URLs can be issued.
func (c ProviderConfig) Enabled() bool {
	return c.APIKey != "" && c.AgentID != ""
}

func loadProviderConfig() (ProviderConfig, error) {
	timeout, err := parseDurationEnv("ELEVENLABS_TIMEOUT", 15*time.Second)
	if err != nil {
		return ProviderConfig{}, err
	}

	return ProviderConfig{
		APIKey:  strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		AgentID: strings.TrimSpace(os.Getenv("ELEVENLABS_AGENT_ID")),
		BaseURL: strings.TrimRight(getEnvOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"), "/"),
		Timeout: timeout,
	}, nil
}

// FeedbackConfig describes where feedback and ratings are recorded.
type FeedbackConfig struct {
	WebhookURL string
	DBPath     string
	Timeout    time.Duration
}

func loadFeedbackConfig() (FeedbackConfig, error) {
	timeout, err := parseDurationEnv("FEEDBACK_TIMEOUT", 10*time.Second)
	if err != nil {
		return FeedbackConfig{}, err
	}

	return FeedbackConfig{
		WebhookURL: strings.TrimSpace(os.Getenv("GOOGLE_SHEETS_WEBHOOK_URL")),
		DBPath:     strings.TrimSpace(os.Getenv("FEEDBACK_DB_PATH")),
		Timeout:    timeout,
	}, nil
}

// WidgetConfig describes the agent identity shown by the widget and the
// session policy constants.
type WidgetConfig struct {
	AgentName      string
	Title          string
	Subtitle       string
	Greeting       string
	BackendURL     string
	SettleDelay    time.Duration
	ConnectTimeout time.Duration
	VoiceCapable   bool
}

// profileFile mirrors the TOML layout of WIDGET_CONFIG_FILE.
type profileFile struct {
	Agent struct {
		Name     string `toml:"name"`
		Title    string `toml:"title"`
		Subtitle string `toml:"subtitle"`
		Greeting string `toml:"greeting"`
	} `toml:"agent"`
	Session struct {
		SettleDelay    string `toml:"settle_delay"`
		ConnectTimeout string `toml:"connect_timeout"`
	} `toml:"session"`
}

func defaultWidgetConfig() WidgetConfig {
	return WidgetConfig{
		AgentName:      "Jacky",
		Title:          "Jacky 2.0",
		Subtitle:       "City of Midland, Texas",
		Greeting:       "Hi, I'm Jacky 2.0 👋!",
		BackendURL:     "http://localhost:8080",
		SettleDelay:    300 * time.Millisecond,
		ConnectTimeout: 15 * time.Second,
	}
}

func loadWidgetConfig() (WidgetConfig, error) {
	cfg := defaultWidgetConfig()

	if path := strings.TrimSpace(os.Getenv("WIDGET_CONFIG_FILE")); path != "" {
		if err := applyProfileFile(&cfg, path); err != nil {
			return WidgetConfig{}, err
		}
	}

	cfg.AgentName = getEnvOrDefault("WIDGET_AGENT_NAME", cfg.AgentName)
	cfg.Title = getEnvOrDefault("WIDGET_TITLE", cfg.Title)
	cfg.Subtitle = getEnvOrDefault("WIDGET_SUBTITLE", cfg.Subtitle)
	cfg.Greeting = getEnvOrDefault("WIDGET_GREETING", cfg.Greeting)
	cfg.BackendURL = strings.TrimRight(getEnvOrDefault("WIDGET_BACKEND_URL", cfg.BackendURL), "/")

	settle, err := parseDurationEnv("WIDGET_SETTLE_DELAY", cfg.SettleDelay)
	if err != nil {
		return WidgetConfig{}, err
	}
	cfg.SettleDelay = settle

	connectTimeout, err := parseDurationEnv("WIDGET_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return WidgetConfig{}, err
	}
	cfg.ConnectTimeout = connectTimeout

	voice, err := parseBoolEnv("WIDGET_VOICE_CAPABLE", false)
	if err != nil {
		return WidgetConfig{}, err
	}
	cfg.VoiceCapable = voice

	return cfg, nil
}

func applyProfileFile(cfg *WidgetConfig, path string) error {
	var file profileFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("invalid WIDGET_CONFIG_FILE %q: %w", path, err)
	}

	if v := strings.TrimSpace(file.Agent.Name); v != "" {
		cfg.AgentName = v
	}
	if v := strings.TrimSpace(file.Agent.Title); v != "" {
		cfg.Title = v
	}
	if v := strings.TrimSpace(file.Agent.Subtitle); v != "" {
		cfg.Subtitle = v
	}
	if v := strings.TrimSpace(file.Agent.Greeting); v != "" {
		cfg.Greeting = v
	}

	if raw := strings.TrimSpace(file.Session.SettleDelay); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid session.settle_delay %q: %w", raw, err)
		}
		cfg.SettleDelay = d
	}
	if raw := strings.TrimSpace(file.Session.ConnectTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid session.connect_timeout %q: %w", raw, err)
		}
		cfg.ConnectTimeout = d
	}

	return nil
}

// LogConfig describes the process logger.
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Pretty: pretty,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// Bare integers are milliseconds.
	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, errors.New("invalid " + key + " value: must not be negative")
	}
	return val, nil
}
