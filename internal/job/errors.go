package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/maauso/videonote/internal/heygen"
	"github.com/maauso/videonote/internal/media"
)

// Static errors for pipeline operations.
var (
	// ErrInvalidInput is returned when a request is missing its image or script.
	ErrInvalidInput = errors.New("job: invalid input")
	// ErrRenderFailed is returned when HeyGen reports the render as failed.
	ErrRenderFailed = errors.New("job: render failed")
	// ErrGenerationTimeout is returned when the polling schedule is exhausted.
	ErrGenerationTimeout = errors.New("job: generation timed out")
	// ErrPollTransport is returned when a status query could not be completed.
	ErrPollTransport = errors.New("job: status poll failed")
	// ErrRepositoryNotConfigured is returned by lookups on a pipeline without a repository.
	ErrRepositoryNotConfigured = errors.New("job: repository not configured")
	// ErrInternal is returned for unexpected failures such as a recovered panic.
	ErrInternal = errors.New("job: internal error")
)

// RenderFailedError carries the failure detail reported by HeyGen.
type RenderFailedError struct {
	VideoID string
	Detail  string
}

func (e *RenderFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: video %s", ErrRenderFailed, e.VideoID)
	}
	return fmt.Sprintf("%v: video %s: %s", ErrRenderFailed, e.VideoID, e.Detail)
}

func (e *RenderFailedError) Unwrap() error {
	return ErrRenderFailed
}

// PollTransportError is a status query that failed below the render level:
// a network error or a non-2xx answer from the status endpoint.
type PollTransportError struct {
	VideoID string
	Attempt int
	Err     error
}

func (e *PollTransportError) Error() string {
	return fmt.Sprintf("%v: video %s, attempt %d: %v", ErrPollTransport, e.VideoID, e.Attempt, e.Err)
}

func (e *PollTransportError) Unwrap() []error {
	return []error{ErrPollTransport, e.Err}
}

// ErrorKind classifies a pipeline failure for front-ends and metrics.
type ErrorKind string

// Error kinds, from most to least specific.
const (
	KindNone              ErrorKind = ""
	KindInvalidInput      ErrorKind = "invalid_input"
	KindRemoteService     ErrorKind = "remote_service"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindRenderFailed      ErrorKind = "render_failed"
	KindTimeout           ErrorKind = "timeout"
	KindPollTransport     ErrorKind = "poll_transport"
	KindTransformFailed   ErrorKind = "transform_failed"
	KindCancelled         ErrorKind = "cancelled"
	KindInternal          ErrorKind = "internal"
)

// KindOf maps an error returned by the pipeline to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrRenderFailed):
		return KindRenderFailed
	case errors.Is(err, ErrGenerationTimeout):
		return KindTimeout
	case errors.Is(err, heygen.ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrPollTransport):
		return KindPollTransport
	case errors.Is(err, heygen.ErrUploadFailed),
		errors.Is(err, heygen.ErrSubmissionFailed),
		errors.Is(err, heygen.ErrDownloadFailed):
		return KindRemoteService
	case errors.Is(err, media.ErrTransformFailed):
		return KindTransformFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

const maxDetailInMessage = 200

// UserMessage renders err as a short message suitable for an end user.
// ffmpeg output and raw response bodies never appear in it.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindInvalidInput:
		return "Please send a photo and a non-empty text."
	case KindRemoteService:
		msg := "The video service rejected the request"
		var apiErr *heygen.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			msg += ": " + shorten(apiErr.Message)
		}
		return msg + ". Please try again later."
	case KindMalformedResponse:
		return "The video service returned an unexpected response. Please try again later."
	case KindRenderFailed:
		msg := "Video generation failed"
		var rf *RenderFailedError
		if errors.As(err, &rf) && rf.Detail != "" {
			msg += ": " + shorten(rf.Detail)
		}
		return msg + ". Try another photo or a shorter text."
	case KindTimeout:
		return "The video is taking too long to render. Please try again later."
	case KindPollTransport:
		return "A temporary network problem interrupted the generation. Please try again."
	case KindTransformFailed:
		return "The generated video could not be processed. Please try again."
	case KindCancelled:
		return "The request was cancelled."
	default:
		return "Something went wrong. Please try again."
	}
}

func shorten(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetailInMessage {
		return s
	}
	cut := maxDetailInMessage
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
