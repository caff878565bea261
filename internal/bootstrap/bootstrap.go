// Package bootstrap provides dependency initialization for the video note service.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/videonote/internal/config"
	"github.com/maauso/videonote/internal/heygen"
	"github.com/maauso/videonote/internal/job"
	"github.com/maauso/videonote/internal/media"
	"github.com/maauso/videonote/internal/server"
	"github.com/maauso/videonote/internal/storage"
	"github.com/maauso/videonote/internal/telegram"
)

// Dependencies holds all initialized dependencies for the front-ends.
type Dependencies struct {
	Pipeline *job.Pipeline
}

// NewDependencies creates and initializes all dependencies for the application.
// It fails when ffmpeg cannot be run.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	policy, err := media.ParsePolicy(cfg.TransformPolicy)
	if err != nil {
		return nil, err
	}
	transformer := media.NewFFmpegTransformer(cfg.FFmpegPath, policy)
	if err := transformer.CheckAvailable(ctx); err != nil {
		return nil, fmt.Errorf("check ffmpeg: %w", err)
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := heygen.NewClient(
		heygen.WithAPIKey(cfg.HeyGenAPIKey),
		heygen.WithBaseURL(cfg.HeyGenAPIURL),
		heygen.WithUploadURL(cfg.HeyGenUploadURL),
		heygen.WithScriptLimit(cfg.ScriptMaxChars),
		heygen.WithTimeouts(cfg.HTTPConnectTimeout, cfg.HTTPTimeout),
		heygen.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create HeyGen client: %w", err)
	}

	schedule, err := job.NewBackoffSchedule(cfg.PollSchedule...)
	if err != nil {
		return nil, fmt.Errorf("poll schedule: %w", err)
	}

	render := heygen.DefaultRenderConfig()
	if cfg.RenderConfigFile != "" {
		render, err = heygen.LoadRenderConfig(cfg.RenderConfigFile)
		if err != nil {
			return nil, fmt.Errorf("load render config: %w", err)
		}
	}

	pipeline, err := job.NewPipeline(
		client,
		transformer,
		store,
		cfg.HeyGenVoiceID,
		logger,
		job.WithRepository(job.NewMemoryRepository()),
		job.WithSchedule(schedule),
		job.WithRenderConfig(render),
		job.WithVideoSize(cfg.VideoNoteSize),
		job.WithBackground(cfg.BackgroundColor),
		job.WithOutputExt(policy.Ext()),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	logger.Info("pipeline configured",
		slog.String("policy", string(policy)),
		slog.Int("video_note_size", cfg.VideoNoteSize),
		slog.String("poll_schedule", schedule.String()),
		slog.Duration("poll_budget", schedule.Total()),
	)

	return &Dependencies{Pipeline: pipeline}, nil
}

// NewHandlers builds the HTTP job API.
func (d *Dependencies) NewHandlers(baseCtx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Handlers, server.Config) {
	handlers := server.NewHandlers(d.Pipeline, logger, server.WithBaseContext(baseCtx))
	serverCfg := server.Config{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	return handlers, serverCfg
}

// NewTelegram connects to the Bot API and builds the chat bot.
func (d *Dependencies) NewTelegram(cfg *config.Config, logger *slog.Logger) (*telegram.API, *telegram.Bot, error) {
	api, err := telegram.NewAPI(cfg.BotToken, telegram.WithAPILogger(logger))
	if err != nil {
		return nil, nil, err
	}
	bot := telegram.NewBot(api, d.Pipeline, logger,
		telegram.WithNoteLength(cfg.VideoNoteSize),
	)
	return api, bot, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
