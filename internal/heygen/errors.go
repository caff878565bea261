package heygen

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Static errors for HeyGen client operations.
var (
	// ErrAPIKeyRequired is returned when the client is built without an API key.
	ErrAPIKeyRequired = errors.New("heygen: API key is required")
	// ErrEmptyImage is returned when an upload is attempted with no bytes.
	ErrEmptyImage = errors.New("heygen: image is empty")
	// ErrTalkingPhotoIDRequired is returned when a call needs an asset handle and none is given.
	ErrTalkingPhotoIDRequired = errors.New("heygen: talking photo ID is required")
	// ErrVideoIDRequired is returned when a status query is made without a video ID.
	ErrVideoIDRequired = errors.New("heygen: video ID is required")
	// ErrUploadFailed is returned when the asset upload is rejected.
	ErrUploadFailed = errors.New("heygen: upload failed")
	// ErrSubmissionFailed is returned when the generate request is rejected.
	ErrSubmissionFailed = errors.New("heygen: video submission failed")
	// ErrStatusFailed is returned when the status endpoint answers with a non-2xx code.
	ErrStatusFailed = errors.New("heygen: status request failed")
	// ErrDownloadFailed is returned when the result URL cannot be fetched.
	ErrDownloadFailed = errors.New("heygen: download failed")
	// ErrDeleteFailed is returned when an uploaded asset cannot be removed.
	ErrDeleteFailed = errors.New("heygen: delete failed")
	// ErrMalformedResponse is returned when a 2xx response lacks the expected fields.
	ErrMalformedResponse = errors.New("heygen: malformed response")
)

// APIError is a non-2xx answer from HeyGen. Kind is one of the sentinel
// errors above and is what errors.Is matches against.
type APIError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: HTTP %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%v: HTTP %d: %s", e.Kind, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// MalformedResponseError is a successful response whose body could not be
// interpreted. Body holds the raw payload for diagnostics.
type MalformedResponseError struct {
	Op   string
	Body string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	msg := fmt.Sprintf("%v: %s", ErrMalformedResponse, e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + ": " + truncateBody(e.Body)
}

func (e *MalformedResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedResponse}
	}
	return []error{ErrMalformedResponse, e.Err}
}

const maxBodyInError = 512

func truncateBody(body string) string {
	if len(body) <= maxBodyInError {
		return body
	}
	cut := maxBodyInError
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
