// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/videonote/internal/media"
)

// Static errors for configuration validation.
var (
	// ErrHeyGenAPIKeyRequired is returned when API_HEYGEN is not set.
	ErrHeyGenAPIKeyRequired = errors.New("config: API_HEYGEN is required")
	// ErrVoiceIDRequired is returned when HEYGEN_VOICE_ID is not set.
	ErrVoiceIDRequired = errors.New("config: HEYGEN_VOICE_ID is required")
	// ErrBotTokenRequired is returned when the Telegram bot is enabled without BOT_TOKEN.
	ErrBotTokenRequired = errors.New("config: BOT_TOKEN is required when TELEGRAM_ENABLED is true")
	// ErrNoFrontEnd is returned when both the HTTP API and the bot are disabled.
	ErrNoFrontEnd = errors.New("config: at least one of HTTP_ENABLED or TELEGRAM_ENABLED must be true")
	// ErrInvalid is returned when a value fails validation.
	ErrInvalid = errors.New("config: invalid value")
)

// DotEnvFile is the optional file read before the environment is processed.
const DotEnvFile = ".env"

// Config holds all configuration for the application.
type Config struct {
	// Front-ends
	HTTPEnabled     bool   `env:"HTTP_ENABLED, default=true" json:"http_enabled"`
	TelegramEnabled bool   `env:"TELEGRAM_ENABLED, default=true" json:"telegram_enabled"`
	BotToken        string `env:"BOT_TOKEN" json:"-" validate:"required_if=TelegramEnabled true"` // Masked in JSON

	// Server settings
	Port               int      `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE, default=30" json:"rate_limit_per_minute" validate:"min=0"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"cors_allowed_origins"`

	// HeyGen settings
	HeyGenAPIKey       string          `env:"API_HEYGEN, required" json:"-"` // Masked in JSON
	HeyGenVoiceID      string          `env:"HEYGEN_VOICE_ID, required" json:"heygen_voice_id"`
	HeyGenAPIURL       string          `env:"HEYGEN_API_URL, default=https://api.heygen.com" json:"heygen_api_url" validate:"url"`
	HeyGenUploadURL    string          `env:"HEYGEN_UPLOAD_URL, default=https://upload.heygen.com" json:"heygen_upload_url" validate:"url"`
	ScriptMaxChars     int             `env:"HEYGEN_SCRIPT_MAX_CHARS, default=1000" json:"script_max_chars" validate:"min=1"`
	HTTPTimeout        time.Duration   `env:"HTTP_TIMEOUT, default=60s" json:"http_timeout" validate:"gt=0"`
	HTTPConnectTimeout time.Duration   `env:"HTTP_CONNECT_TIMEOUT, default=30s" json:"http_connect_timeout" validate:"gt=0"`
	PollSchedule       []time.Duration `env:"POLL_SCHEDULE, default=3s,5s,8s,8s,8s,13s,21s,34s,55s" json:"poll_schedule" validate:"min=1"`
	RenderConfigFile   string          `env:"RENDER_CONFIG_FILE" json:"render_config_file,omitempty"`

	// Video note settings
	VideoNoteSize   int    `env:"VIDEO_NOTE_SIZE, default=640" json:"video_note_size" validate:"min=2,max=2048,notesize"`
	TransformPolicy string `env:"TRANSFORM_POLICY, default=crop" json:"transform_policy" validate:"oneof=crop pad circle"`
	BackgroundColor string `env:"BACKGROUND_COLOR, default=#0E0E12" json:"background_color" validate:"notecolor"`
	FFmpegPath      string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/videonote" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=json text JSON TEXT"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads an optional .env file and then the environment using go-envconfig.
// Variables already set in the environment win over the .env file.
// It returns an error if required variables are not set or a value is invalid.
func Load() (*Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "API_HEYGEN") {
			return nil, ErrHeyGenAPIKeyRequired
		}
		if strings.Contains(err.Error(), "HEYGEN_VOICE_ID") {
			return nil, ErrVoiceIDRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: read %s: %w", path, err)
}

// Validate checks that all required configuration is present and well formed.
func (c *Config) Validate() error {
	if c.HeyGenAPIKey == "" {
		return ErrHeyGenAPIKeyRequired
	}
	if c.HeyGenVoiceID == "" {
		return ErrVoiceIDRequired
	}
	if !c.HTTPEnabled && !c.TelegramEnabled {
		return ErrNoFrontEnd
	}

	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	for _, fe := range verrs {
		if fe.Field() == "BotToken" {
			return ErrBotTokenRequired
		}
	}
	fe := verrs[0]
	return fmt.Errorf("%w: %s failed %q", ErrInvalid, fe.Field(), fe.Tag())
}

// newValidator returns a validator with the transformer's note size and
// padding color rules registered as "notesize" and "notecolor".
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notesize", func(fl validator.FieldLevel) bool {
		return media.ValidateSize(int(fl.Field().Int())) == nil
	})
	_ = v.RegisterValidation("notecolor", func(fl validator.FieldLevel) bool {
		return media.ValidateBackground(fl.Field().String()) == nil
	})
	return v
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{HTTPEnabled: %t, TelegramEnabled: %t, Port: %d, HeyGenVoiceID: %s, HeyGenAPIURL: %s, PollSchedule: %v, VideoNoteSize: %d, TransformPolicy: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.HTTPEnabled,
		c.TelegramEnabled,
		c.Port,
		c.HeyGenVoiceID,
		c.HeyGenAPIURL,
		c.PollSchedule,
		c.VideoNoteSize,
		c.TransformPolicy,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
