package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"

	"github.com/maauso/videonote/internal/heygen"
	"github.com/maauso/videonote/internal/media"
	"github.com/maauso/videonote/internal/storage"
)

const (
	defaultVideoSize      = 640
	defaultCleanupTimeout = 15 * time.Second
	defaultResultName     = "result.mp4"
	s3KeyPrefix           = "videonotes/"
)

// Input is one request to turn a photo and a script into a video note.
type Input struct {
	// Image is the raw source image.
	Image []byte `validate:"required"`
	// MIMEType is the declared image type; unknown types are sent as jpeg.
	MIMEType string
	// Script is the text to speak.
	Script string `validate:"required"`
	// PushToS3 archives the finished note to S3 when storage supports it.
	PushToS3 bool
}

// Output is a finished video note. The caller owns VideoPath and must call
// Release once the file has been delivered.
type Output struct {
	JobID     string
	VideoPath string
	// VideoURL is set when the note was archived to S3.
	VideoURL string

	workDir string
	store   storage.Storage
	once    sync.Once
	err     error
}

// Release deletes the output file and its work directory. It is safe to call
// more than once; only the first call does anything.
func (o *Output) Release(ctx context.Context) error {
	o.once.Do(func() {
		o.err = o.store.CleanupTemp(ctx, []string{o.VideoPath, o.workDir})
	})
	return o.err
}

// Pipeline runs photo-to-video-note jobs against HeyGen and ffmpeg.
// A Pipeline holds no per-job state and is safe for concurrent use.
type Pipeline struct {
	client         heygen.Client
	transformer    media.Transformer
	store          storage.Storage
	repo           Repository
	poller         *Poller
	validator      *validator.Validate
	logger         *slog.Logger
	meter          metric.Meter
	metrics        *pipelineMetrics
	schedule       BackoffSchedule
	render         heygen.RenderConfig
	voiceID        string
	size           int
	background     string
	outputExt      string
	cleanupTimeout time.Duration
}

// PipelineOption is a function that configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRepository publishes a job snapshot after every state change.
func WithRepository(repo Repository) PipelineOption {
	return func(p *Pipeline) {
		p.repo = repo
	}
}

// WithSchedule sets the polling schedule.
func WithSchedule(s BackoffSchedule) PipelineOption {
	return func(p *Pipeline) {
		if s.Len() > 0 {
			p.schedule = s
		}
	}
}

// WithRenderConfig sets the HeyGen render configuration.
func WithRenderConfig(cfg heygen.RenderConfig) PipelineOption {
	return func(p *Pipeline) {
		p.render = cfg
	}
}

// WithVideoSize sets the side length of the square output.
func WithVideoSize(size int) PipelineOption {
	return func(p *Pipeline) {
		if size > 0 {
			p.size = size
		}
	}
}

// WithBackground sets the padding color passed to the transformer.
func WithBackground(color string) PipelineOption {
	return func(p *Pipeline) {
		p.background = color
	}
}

// WithOutputExt sets the extension of the transformed file, including the dot.
func WithOutputExt(ext string) PipelineOption {
	return func(p *Pipeline) {
		if ext != "" {
			p.outputExt = ext
		}
	}
}

// WithCleanupTimeout bounds the remote asset deletion at the end of a job.
func WithCleanupTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.cleanupTimeout = d
		}
	}
}

// WithMeter sets the OpenTelemetry meter. Defaults to the global provider.
func WithMeter(m metric.Meter) PipelineOption {
	return func(p *Pipeline) {
		p.meter = m
	}
}

// NewPipeline creates a new Pipeline.
func NewPipeline(
	client heygen.Client,
	transformer media.Transformer,
	store storage.Storage,
	voiceID string,
	logger *slog.Logger,
	opts ...PipelineOption,
) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		client:         client,
		transformer:    transformer,
		store:          store,
		validator:      validator.New(),
		logger:         logger,
		schedule:       DefaultBackoffSchedule(),
		render:         heygen.DefaultRenderConfig(),
		voiceID:        voiceID,
		size:           defaultVideoSize,
		background:     heygen.DefaultRenderConfig().BackgroundColor,
		outputExt:      media.PolicyCrop.Ext(),
		cleanupTimeout: defaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	m, err := newPipelineMetrics(p.meter)
	if err != nil {
		return nil, err
	}
	p.metrics = m
	p.poller = NewPoller(client, logger)

	return p, nil
}

// Schedule returns the polling schedule in use.
func (p *Pipeline) Schedule() BackoffSchedule {
	return p.schedule
}

// VideoSize returns the side length of the square output.
func (p *Pipeline) VideoSize() int {
	return p.size
}

// CreateJob validates the input and registers a new job in CREATED state.
func (p *Pipeline) CreateJob(ctx context.Context, in Input) (*Job, error) {
	if err := p.validate(in); err != nil {
		return nil, err
	}

	j := New()
	j.MIMEType = in.MIMEType
	j.Script = in.Script
	j.VoiceID = p.voiceID
	j.PushToS3 = in.PushToS3
	p.save(ctx, j)

	return j, nil
}

// GetJob returns the latest snapshot of a job.
func (p *Pipeline) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if p.repo == nil {
		return nil, ErrRepositoryNotConfigured
	}
	return p.repo.FindByID(ctx, jobID)
}

// ListJobs returns every job snapshot, oldest first.
func (p *Pipeline) ListJobs(ctx context.Context) ([]*Job, error) {
	if p.repo == nil {
		return nil, ErrRepositoryNotConfigured
	}
	return p.repo.List(ctx)
}

// DeleteJob removes a job snapshot.
func (p *Pipeline) DeleteJob(ctx context.Context, jobID string) error {
	if p.repo == nil {
		return ErrRepositoryNotConfigured
	}
	return p.repo.Delete(ctx, jobID)
}

// Run creates a job and processes it to completion.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Output, error) {
	j, err := p.CreateJob(ctx, in)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, j, in)
}

// Process drives an existing job through upload, submission, polling,
// download and transformation.
//
// Every local file other than the returned output, and the uploaded remote
// asset, is released before Process returns, whatever the outcome.
// Release errors are logged and never replace the job's own result.
func (p *Pipeline) Process(ctx context.Context, j *Job, in Input) (out *Output, err error) {
	start := time.Now()
	logger := p.logger.With(slog.String("job_id", j.ID))

	var handedOff bool

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in pipeline",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: panic: %v", ErrInternal, r)
			out = nil
			handedOff = false
		}

		p.release(ctx, logger, j, handedOff)
		p.finish(ctx, logger, j, err, time.Since(start))
	}()

	if err := p.validate(in); err != nil {
		return nil, err
	}

	out, err = p.process(ctx, logger, j, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("job: cancelled: %w (cause: %v)", ctxErr, err)
		}
		return nil, err
	}

	handedOff = true
	return out, nil
}

func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, j *Job, in Input) (*Output, error) {
	workDir, err := p.store.CreateWorkDir(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("job: create work dir: %w", err)
	}
	j.WorkDir = workDir

	sourcePath, err := p.store.SaveTemp(ctx, workDir, "source_*"+imageExt(in.MIMEType), bytes.NewReader(in.Image))
	if err != nil {
		return nil, fmt.Errorf("job: save source image: %w", err)
	}
	j.SourcePath = sourcePath

	// Upload
	if err := p.transition(ctx, j, StatusUploading); err != nil {
		return nil, err
	}
	talkingPhotoID, err := p.client.UploadTalkingPhoto(ctx, in.Image, in.MIMEType)
	if err != nil {
		return nil, err
	}
	j.TalkingPhotoID = talkingPhotoID
	logger.Info("talking photo uploaded", slog.String("talking_photo_id", talkingPhotoID))

	// Submit
	videoID, err := p.client.GenerateVideo(ctx, heygen.GenerateRequest{
		TalkingPhotoID: talkingPhotoID,
		Script:         in.Script,
		VoiceID:        p.voiceID,
		Render:         p.render,
	})
	if err != nil {
		return nil, err
	}
	j.VideoID = videoID
	if err := p.transition(ctx, j, StatusSubmitted); err != nil {
		return nil, err
	}
	logger.Info("video submitted", slog.String("video_id", videoID))

	// Poll
	if err := p.transition(ctx, j, StatusPolling); err != nil {
		return nil, err
	}
	resultURL, err := p.poller.PollUntilReady(ctx, videoID, p.schedule)
	if err != nil {
		return nil, err
	}
	j.ResultURL = resultURL
	if err := p.transition(ctx, j, StatusReady); err != nil {
		return nil, err
	}

	// Fetch
	name := resultFileName(resultURL)
	downloaded := filepath.Join(workDir, name)
	j.DownloadedPath = downloaded
	if err := p.client.Download(ctx, resultURL, downloaded); err != nil {
		if heygen.IsNotFound(err) {
			logger.Warn("result URL no longer available", slog.String("video_id", videoID))
		}
		return nil, err
	}

	// Transform
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	transformed := filepath.Join(workDir, stem+"_square"+p.outputExt)
	j.OutputPath = transformed
	if err := p.transformer.TransformToSquare(ctx, downloaded, transformed, p.size, p.background); err != nil {
		var ffErr *media.FFmpegError
		if errors.As(err, &ffErr) {
			logger.Error("ffmpeg failed",
				slog.Int("exit_code", ffErr.ExitCode),
				slog.String("stderr", ffErr.Stderr),
			)
		}
		return nil, err
	}

	var videoURL string
	if in.PushToS3 {
		videoURL = p.archive(ctx, logger, j.ID, transformed)
	}

	j.SetOutput(transformed, videoURL)
	return &Output{
		JobID:     j.ID,
		VideoPath: transformed,
		VideoURL:  videoURL,
		workDir:   workDir,
		store:     p.store,
	}, nil
}

// archive uploads the note to S3. Failures are logged and the local file kept.
func (p *Pipeline) archive(ctx context.Context, logger *slog.Logger, jobID, videoPath string) string {
	f, err := p.store.LoadTemp(ctx, videoPath)
	if err != nil {
		logger.Warn("open note for S3 upload", slog.String("error", err.Error()))
		return ""
	}
	defer func() { _ = f.Close() }()

	key := s3KeyPrefix + jobID + filepath.Ext(videoPath)
	videoURL, err := p.store.UploadToS3(ctx, key, f)
	if err != nil {
		logger.Warn("S3 upload failed, keeping local note", slog.String("error", err.Error()))
		return ""
	}
	logger.Info("note archived to S3", slog.String("url", videoURL))
	return videoURL
}

// release removes everything the job acquired except a handed-off output.
// Files go before their directory; the remote asset goes last.
func (p *Pipeline) release(ctx context.Context, logger *slog.Logger, j *Job, handedOff bool) {
	cleanupCtx := context.WithoutCancel(ctx)

	var paths []string
	if !handedOff {
		paths = append(paths, j.OutputPath)
	}
	paths = append(paths, j.DownloadedPath, j.SourcePath)
	if !handedOff {
		paths = append(paths, j.WorkDir)
	}
	if err := p.store.CleanupTemp(cleanupCtx, paths); err != nil {
		logger.Warn("failed to clean up job files", slog.String("error", err.Error()))
	}

	if j.TalkingPhotoID == "" {
		return
	}
	delCtx, cancel := context.WithTimeout(cleanupCtx, p.cleanupTimeout)
	defer cancel()
	if err := p.client.DeleteTalkingPhoto(delCtx, j.TalkingPhotoID); err != nil {
		logger.Warn("failed to delete talking photo",
			slog.String("talking_photo_id", j.TalkingPhotoID),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("talking photo deleted", slog.String("talking_photo_id", j.TalkingPhotoID))
}

// finish records the outcome on the job, in metrics and in the repository.
func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, j *Job, err error, elapsed time.Duration) {
	kind := KindOf(err)
	p.metrics.record(context.WithoutCancel(ctx), kind, elapsed)

	if err == nil {
		p.save(ctx, j)
		logger.Info("video note ready",
			slog.String("output", j.OutputPath),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	j.ClearOutput()

	var terr error
	if kind == KindTimeout {
		terr = j.Timeout(err.Error())
	} else {
		terr = j.Fail(kind, err.Error())
	}
	if terr != nil {
		logger.Error("could not record job failure",
			slog.String("status", string(j.Status)),
			slog.String("error", terr.Error()),
		)
	}
	p.save(ctx, j)

	logger.Error("job failed",
		slog.String("kind", string(kind)),
		slog.String("status", string(j.Status)),
		slog.String("error", err.Error()),
		slog.Duration("elapsed", elapsed),
	)
}

func (p *Pipeline) transition(ctx context.Context, j *Job, status Status) error {
	if err := j.TransitionTo(status); err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", ErrInternal, j.Status, status, err)
	}
	p.save(ctx, j)
	return nil
}

func (p *Pipeline) save(ctx context.Context, j *Job) {
	if p.repo == nil {
		return
	}
	if err := p.repo.Save(context.WithoutCancel(ctx), j); err != nil {
		p.logger.Warn("failed to save job snapshot",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) validate(in Input) error {
	if err := p.validator.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.Script) == "" {
		return fmt.Errorf("%w: script is blank", ErrInvalidInput)
	}
	return nil
}

// resultFileName derives a safe local file name from the result URL path,
// falling back to result.mp4.
func resultFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultResultName
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || path.Ext(base) == "" {
		return defaultResultName
	}

	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if strings.HasPrefix(safe, ".") {
		return defaultResultName
	}
	return safe
}

func imageExt(mimeType string) string {
	effective, _ := heygen.NormalizeImageMIME(mimeType)
	if effective == "image/png" {
		return ".png"
	}
	return ".jpg"
}
