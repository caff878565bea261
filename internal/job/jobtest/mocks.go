// Package jobtest provides testify mocks for the ports the job pipeline
// depends on, for use by tests of the pipeline and its front-ends.
package jobtest

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videonote/internal/heygen"
	"github.com/maauso/videonote/internal/media"
)

// Compile-time checks that the mocks implement their ports.
var (
	_ heygen.Client     = (*MockHeyGen)(nil)
	_ media.Transformer = (*MockTransformer)(nil)
)

// MockHeyGen implements heygen.Client for testing.
type MockHeyGen struct {
	mock.Mock
}

func (m *MockHeyGen) UploadTalkingPhoto(ctx context.Context, image []byte, mimeType string) (string, error) {
	args := m.Called(ctx, image, mimeType)
	return args.String(0), args.Error(1)
}

func (m *MockHeyGen) GenerateVideo(ctx context.Context, req heygen.GenerateRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockHeyGen) VideoStatus(ctx context.Context, videoID string) (heygen.StatusResult, error) {
	args := m.Called(ctx, videoID)
	return args.Get(0).(heygen.StatusResult), args.Error(1)
}

func (m *MockHeyGen) Download(ctx context.Context, url, destPath string) error {
	args := m.Called(ctx, url, destPath)
	return args.Error(0)
}

func (m *MockHeyGen) DeleteTalkingPhoto(ctx context.Context, talkingPhotoID string) error {
	args := m.Called(ctx, talkingPhotoID)
	return args.Error(0)
}

// ExpectRender wires a successful upload, submission and a single
// completed status answer pointing at resultURL. Download is left to the caller.
func (m *MockHeyGen) ExpectRender(talkingPhotoID, videoID, resultURL string) {
	m.On("UploadTalkingPhoto", mock.Anything, mock.Anything, mock.Anything).Return(talkingPhotoID, nil)
	m.On("GenerateVideo", mock.Anything, mock.Anything).Return(videoID, nil)
	m.On("VideoStatus", mock.Anything, videoID).
		Return(heygen.StatusResult{Status: heygen.StatusCompleted, VideoURL: resultURL}, nil)
	m.On("DeleteTalkingPhoto", mock.Anything, talkingPhotoID).Return(nil)
}

// MockTransformer implements media.Transformer for testing.
type MockTransformer struct {
	mock.Mock
}

func (m *MockTransformer) TransformToSquare(ctx context.Context, in, out string, size int, background string) error {
	args := m.Called(ctx, in, out, size, background)
	return args.Error(0)
}

// WriteFileArg returns a mock Run func that writes content to the path
// passed as argument i.
func WriteFileArg(t *testing.T, i int, content string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		require.NoError(t, os.WriteFile(args.String(i), []byte(content), 0o600))
	}
}
