package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/maauso/videonote/internal/heygen"
	"github.com/maauso/videonote/internal/job/jobtest"
	"github.com/maauso/videonote/internal/media"
	"github.com/maauso/videonote/internal/storage"
)

// archivingStorage is a LocalStorage whose S3 upload always succeeds.
type archivingStorage struct {
	*storage.LocalStorage

	mu   sync.Mutex
	keys []string
}

func (s *archivingStorage) UploadToS3(_ context.Context, key string, data io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return "https://bucket.example/" + key, nil
}

const (
	testResultURL = "https://cdn.example/videos/x.mp4"
	testVoiceID   = "voice_1"
)

var testImage = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

type pipelineFixture struct {
	pipeline    *Pipeline
	client      *jobtest.MockHeyGen
	transformer *jobtest.MockTransformer
	repo        *MemoryRepository
	tempDir     string
}

func newPipelineFixture(t *testing.T, store storage.Storage, tempDir string, opts ...PipelineOption) *pipelineFixture {
	t.Helper()

	client := &jobtest.MockHeyGen{}
	transformer := &jobtest.MockTransformer{}
	repo := NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	schedule, err := NewBackoffSchedule(time.Millisecond, time.Millisecond, time.Millisecond)
	require.NoError(t, err)

	base := []PipelineOption{WithRepository(repo), WithSchedule(schedule)}
	p, err := NewPipeline(client, transformer, store, testVoiceID, logger, append(base, opts...)...)
	require.NoError(t, err)

	return &pipelineFixture{
		pipeline:    p,
		client:      client,
		transformer: transformer,
		repo:        repo,
		tempDir:     tempDir,
	}
}

func newLocalFixture(t *testing.T, opts ...PipelineOption) *pipelineFixture {
	t.Helper()
	tempDir := t.TempDir()
	store, err := storage.NewLocalStorage(tempDir)
	require.NoError(t, err)
	return newPipelineFixture(t, store, tempDir, opts...)
}

// expectHappyPath wires every remote call and the transform to succeed.
func (f *pipelineFixture) expectHappyPath(t *testing.T, talkingPhotoID string) {
	f.client.On("UploadTalkingPhoto", mock.Anything, testImage, "image/jpeg").Return(talkingPhotoID, nil).Once()
	f.client.On("GenerateVideo", mock.Anything, mock.MatchedBy(func(req heygen.GenerateRequest) bool {
		return req.TalkingPhotoID == talkingPhotoID && req.VoiceID == testVoiceID && req.Script == "Hello"
	})).Return("job_456", nil).Once()
	f.client.On("VideoStatus", mock.Anything, "job_456").Return(heygen.StatusResult{Status: heygen.StatusProcessing}, nil).Once()
	f.client.On("VideoStatus", mock.Anything, "job_456").Return(heygen.StatusResult{Status: heygen.StatusCompleted, VideoURL: testResultURL}, nil).Once()
	f.client.On("Download", mock.Anything, testResultURL, mock.Anything).Run(jobtest.WriteFileArg(t, 2, "raw")).Return(nil).Once()
	f.transformer.On("TransformToSquare", mock.Anything, mock.Anything, mock.Anything, 640, "#0E0E12").
		Run(jobtest.WriteFileArg(t, 2, "square")).Return(nil).Once()
	f.client.On("DeleteTalkingPhoto", mock.Anything, talkingPhotoID).Return(nil).Once()
}

func testInput() Input {
	return Input{Image: testImage, MIMEType: "image/jpeg", Script: "Hello"}
}

func TestPipeline_Run_Success(t *testing.T) {
	f := newLocalFixture(t)
	f.expectHappyPath(t, "tp_123")

	out, err := f.pipeline.Run(context.Background(), testInput())
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "x_square.mp4", filepath.Base(out.VideoPath))
	assert.FileExists(t, out.VideoPath)
	assert.Empty(t, out.VideoURL)

	j, err := f.pipeline.GetJob(context.Background(), out.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, j.Status)
	assert.True(t, j.IsTerminal())
	assert.Equal(t, "tp_123", j.TalkingPhotoID)
	assert.Equal(t, "job_456", j.VideoID)
	assert.Equal(t, testResultURL, j.ResultURL)
	assert.Equal(t, filepath.Join(j.WorkDir, "x.mp4"), j.DownloadedPath)

	// Intermediates are gone, the output is kept for the caller.
	assert.NoFileExists(t, j.DownloadedPath)
	assert.NoFileExists(t, j.SourcePath)
	assert.DirExists(t, j.WorkDir)

	f.client.AssertExpectations(t)
	f.transformer.AssertExpectations(t)
	f.client.AssertNumberOfCalls(t, "VideoStatus", 2)
	f.client.AssertNumberOfCalls(t, "DeleteTalkingPhoto", 1)

	require.NoError(t, out.Release(context.Background()))
	assert.NoFileExists(t, out.VideoPath)
	assert.NoDirExists(t, j.WorkDir)

	// Second release is a no-op.
	assert.NoError(t, out.Release(context.Background()))
}

func TestPipeline_Run_FailureStages(t *testing.T) {
	uploadErr := &heygen.APIError{Kind: heygen.ErrUploadFailed, StatusCode: 400, Message: "bad image"}
	submitErr := &heygen.APIError{Kind: heygen.ErrSubmissionFailed, StatusCode: 400, Message: "voice not found"}
	downloadErr := &heygen.APIError{Kind: heygen.ErrDownloadFailed, StatusCode: 404}
	transformErr := &media.FFmpegError{ExitCode: 1, Stderr: "moov atom not found", Err: errors.New("exit status 1")}

	tests := []struct {
		name          string
		setup         func(t *testing.T, f *pipelineFixture)
		wantKind      ErrorKind
		wantUploaded  bool
		wantLastState Status
	}{
		{
			name: "upload rejected",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("", uploadErr)
			},
			wantKind:      KindRemoteService,
			wantUploaded:  false,
			wantLastState: StatusFailed,
		},
		{
			name: "submission rejected",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
				f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("", submitErr)
			},
			wantKind:      KindRemoteService,
			wantUploaded:  true,
			wantLastState: StatusFailed,
		},
		{
			name: "render failed",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
				f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("job_456", nil)
				f.client.On("VideoStatus", mock.Anything, "job_456").
					Return(heygen.StatusResult{Status: heygen.StatusFailed, Detail: "no face"}, nil)
			},
			wantKind:      KindRenderFailed,
			wantUploaded:  true,
			wantLastState: StatusFailed,
		},
		{
			name: "schedule exhausted",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
				f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("job_456", nil)
				f.client.On("VideoStatus", mock.Anything, "job_456").
					Return(heygen.StatusResult{Status: heygen.StatusProcessing}, nil)
			},
			wantKind:      KindTimeout,
			wantUploaded:  true,
			wantLastState: StatusTimedOut,
		},
		{
			name: "download failed",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
				f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("job_456", nil)
				f.client.On("VideoStatus", mock.Anything, "job_456").
					Return(heygen.StatusResult{Status: heygen.StatusCompleted, VideoURL: testResultURL}, nil)
				f.client.On("Download", mock.Anything, testResultURL, mock.Anything).Return(downloadErr)
			},
			wantKind:      KindRemoteService,
			wantUploaded:  true,
			wantLastState: StatusFailed,
		},
		{
			name: "transform failed",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
				f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("job_456", nil)
				f.client.On("VideoStatus", mock.Anything, "job_456").
					Return(heygen.StatusResult{Status: heygen.StatusCompleted, VideoURL: testResultURL}, nil)
				f.client.On("Download", mock.Anything, testResultURL, mock.Anything).Run(jobtest.WriteFileArg(t, 2, "raw")).Return(nil)
				// ffmpeg may leave a partial output behind.
				f.transformer.On("TransformToSquare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Run(jobtest.WriteFileArg(t, 2, "partial")).Return(transformErr)
			},
			wantKind:      KindTransformFailed,
			wantUploaded:  true,
			wantLastState: StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLocalFixture(t)
			tt.setup(t, f)
			if tt.wantUploaded {
				f.client.On("DeleteTalkingPhoto", mock.Anything, "tp_123").Return(nil)
			}

			out, err := f.pipeline.Run(context.Background(), testInput())

			require.Error(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tt.wantKind, KindOf(err))

			jobs, _ := f.repo.List(context.Background())
			require.Len(t, jobs, 1)
			assert.Equal(t, tt.wantLastState, jobs[0].Status)
			assert.Equal(t, tt.wantKind, jobs[0].ErrorKind)
			assert.NotEmpty(t, jobs[0].Error)
			assert.Empty(t, jobs[0].OutputPath)

			if tt.wantUploaded {
				f.client.AssertNumberOfCalls(t, "DeleteTalkingPhoto", 1)
			} else {
				f.client.AssertNotCalled(t, "DeleteTalkingPhoto", mock.Anything, mock.Anything)
			}

			entries, err := os.ReadDir(f.tempDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "job left files behind")
		})
	}
}

func TestPipeline_Run_TimeoutQueriesScheduleLength(t *testing.T) {
	f := newLocalFixture(t)
	f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
	f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("job_456", nil)
	f.client.On("VideoStatus", mock.Anything, "job_456").Return(heygen.StatusResult{Status: heygen.StatusWaiting}, nil)
	f.client.On("DeleteTalkingPhoto", mock.Anything, "tp_123").Return(nil)

	_, err := f.pipeline.Run(context.Background(), testInput())

	require.ErrorIs(t, err, ErrGenerationTimeout)
	f.client.AssertNumberOfCalls(t, "VideoStatus", f.pipeline.Schedule().Len())
	f.client.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Run_DeleteFailureDoesNotMaskResult(t *testing.T) {
	f := newLocalFixture(t)
	f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
	f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("job_456", nil)
	f.client.On("VideoStatus", mock.Anything, "job_456").
		Return(heygen.StatusResult{Status: heygen.StatusCompleted, VideoURL: testResultURL}, nil)
	f.client.On("Download", mock.Anything, testResultURL, mock.Anything).Run(jobtest.WriteFileArg(t, 2, "raw")).Return(nil)
	f.transformer.On("TransformToSquare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(jobtest.WriteFileArg(t, 2, "square")).Return(nil)
	f.client.On("DeleteTalkingPhoto", mock.Anything, "tp_123").Return(errors.New("503"))

	out, err := f.pipeline.Run(context.Background(), testInput())

	require.NoError(t, err)
	assert.FileExists(t, out.VideoPath)
	require.NoError(t, out.Release(context.Background()))
}

func TestPipeline_Run_EachRunUploadsItsOwnAsset(t *testing.T) {
	f := newLocalFixture(t)
	f.expectHappyPath(t, "tp_1")
	f.expectHappyPath(t, "tp_2")

	for i := 0; i < 2; i++ {
		out, err := f.pipeline.Run(context.Background(), testInput())
		require.NoError(t, err)
		require.NoError(t, out.Release(context.Background()))
	}

	f.client.AssertNumberOfCalls(t, "UploadTalkingPhoto", 2)
	f.client.AssertCalled(t, "DeleteTalkingPhoto", mock.Anything, "tp_1")
	f.client.AssertCalled(t, "DeleteTalkingPhoto", mock.Anything, "tp_2")
}

func TestPipeline_Run_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"no image", Input{Script: "Hello"}},
		{"no script", Input{Image: testImage}},
		{"blank script", Input{Image: testImage, Script: "  \n\t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLocalFixture(t)

			_, err := f.pipeline.Run(context.Background(), tt.in)

			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, KindInvalidInput, KindOf(err))
			f.client.AssertNotCalled(t, "UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	f := newLocalFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
	f.client.On("GenerateVideo", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).Return("job_456", nil)
	f.client.On("DeleteTalkingPhoto", mock.Anything, "tp_123").Return(nil)

	_, err := f.pipeline.Run(ctx, testInput())

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCancelled, KindOf(err))
	f.client.AssertNotCalled(t, "VideoStatus", mock.Anything, mock.Anything)
	f.client.AssertNumberOfCalls(t, "DeleteTalkingPhoto", 1)

	entries, _ := os.ReadDir(f.tempDir)
	assert.Empty(t, entries)
}

func TestPipeline_Run_RecoversPanic(t *testing.T) {
	f := newLocalFixture(t)
	f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
	f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("job_456", nil)
	f.client.On("VideoStatus", mock.Anything, "job_456").
		Return(heygen.StatusResult{Status: heygen.StatusCompleted, VideoURL: testResultURL}, nil)
	f.client.On("Download", mock.Anything, testResultURL, mock.Anything).Run(jobtest.WriteFileArg(t, 2, "raw")).Return(nil)
	f.transformer.On("TransformToSquare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Panic("unexpected")
	f.client.On("DeleteTalkingPhoto", mock.Anything, "tp_123").Return(nil)

	out, err := f.pipeline.Run(context.Background(), testInput())

	require.ErrorIs(t, err, ErrInternal)
	assert.Nil(t, out)
	f.client.AssertNumberOfCalls(t, "DeleteTalkingPhoto", 1)

	entries, _ := os.ReadDir(f.tempDir)
	assert.Empty(t, entries)
}

func TestPipeline_Run_ArchivesToS3(t *testing.T) {
	tempDir := t.TempDir()
	local, err := storage.NewLocalStorage(tempDir)
	require.NoError(t, err)
	store := &archivingStorage{LocalStorage: local}

	f := newPipelineFixture(t, store, tempDir)
	f.expectHappyPath(t, "tp_123")

	in := testInput()
	in.PushToS3 = true
	out, err := f.pipeline.Run(context.Background(), in)
	require.NoError(t, err)
	defer func() { _ = out.Release(context.Background()) }()

	require.Len(t, store.keys, 1)
	assert.Equal(t, "videonotes/"+out.JobID+".mp4", store.keys[0])
	assert.Equal(t, "https://bucket.example/"+store.keys[0], out.VideoURL)
}

func TestPipeline_Run_S3FailureKeepsLocalNote(t *testing.T) {
	f := newLocalFixture(t)
	f.expectHappyPath(t, "tp_123")

	in := testInput()
	in.PushToS3 = true
	out, err := f.pipeline.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Empty(t, out.VideoURL)
	assert.FileExists(t, out.VideoPath)
	require.NoError(t, out.Release(context.Background()))
}

func TestPipeline_ListJobs(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	first := New()
	second := New()
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, f.repo.Save(ctx, second))
	require.NoError(t, f.repo.Save(ctx, first))

	jobs, err := f.pipeline.ListJobs(ctx)

	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

func TestPipeline_JobQueriesWithoutRepository(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewPipeline(&jobtest.MockHeyGen{}, &jobtest.MockTransformer{}, store, testVoiceID, logger)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.ListJobs(ctx)
	assert.ErrorIs(t, err, ErrRepositoryNotConfigured)
	_, err = p.GetJob(ctx, "any")
	assert.ErrorIs(t, err, ErrRepositoryNotConfigured)
	assert.ErrorIs(t, p.DeleteJob(ctx, "any"), ErrRepositoryNotConfigured)
}

func TestPipeline_Options(t *testing.T) {
	f := newLocalFixture(t,
		WithVideoSize(480),
		WithBackground("#000000"),
		WithOutputExt(".webm"),
	)
	f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return("tp_123", nil)
	f.client.On("GenerateVideo", mock.Anything, mock.Anything).Return("job_456", nil)
	f.client.On("VideoStatus", mock.Anything, "job_456").
		Return(heygen.StatusResult{Status: heygen.StatusCompleted, VideoURL: testResultURL}, nil)
	f.client.On("Download", mock.Anything, testResultURL, mock.Anything).Run(jobtest.WriteFileArg(t, 2, "raw")).Return(nil)
	f.transformer.On("TransformToSquare", mock.Anything, mock.Anything, mock.Anything, 480, "#000000").
		Run(jobtest.WriteFileArg(t, 2, "square")).Return(nil)
	f.client.On("DeleteTalkingPhoto", mock.Anything, "tp_123").Return(nil)

	out, err := f.pipeline.Run(context.Background(), testInput())

	require.NoError(t, err)
	assert.Equal(t, "x_square.webm", filepath.Base(out.VideoPath))
	assert.Equal(t, 480, f.pipeline.VideoSize())
	require.NoError(t, out.Release(context.Background()))
}

func TestPipeline_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	f := newLocalFixture(t, WithMeter(provider.Meter("test")))
	f.expectHappyPath(t, "tp_123")
	f.client.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).
		Return("", &heygen.APIError{Kind: heygen.ErrUploadFailed, StatusCode: 500}).Once()

	out, err := f.pipeline.Run(context.Background(), testInput())
	require.NoError(t, err)
	require.NoError(t, out.Release(context.Background()))

	_, err = f.pipeline.Run(context.Background(), testInput())
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(1), sumOf(t, rm, "videonote.jobs.completed"))
	assert.Equal(t, int64(1), sumOf(t, rm, "videonote.jobs.failed"))
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestResultFileName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example/videos/x.mp4", "x.mp4"},
		{"https://cdn.example/videos/x.mp4?Expires=1&Signature=abc", "x.mp4"},
		{"https://cdn.example/", "result.mp4"},
		{"https://cdn.example/videos/noext", "result.mp4"},
		{"https://cdn.example/a/b%20c.mp4", "b_c.mp4"},
		{"https://cdn.example/.mp4", "result.mp4"},
		{"::not a url", "result.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, resultFileName(tt.url))
		})
	}
}
