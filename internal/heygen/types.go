// Package heygen provides an HTTP client for the HeyGen talking-photo video API.
package heygen

import (
	"encoding/json"
	"strings"
)

// Status represents the render status reported by HeyGen for a video.
type Status string

// HeyGen video statuses. Anything not listed is treated as still in progress.
const (
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusError      Status = "error"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s.IsFailure()
}

// IsFailure returns true if the render ended without a result.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusError
}

// StatusResult is the outcome of a single status query.
type StatusResult struct {
	Status   Status
	VideoURL string
	// Detail carries the service-provided failure description, if any.
	Detail string
}

// GenerateRequest contains everything needed to submit a render job.
type GenerateRequest struct {
	TalkingPhotoID string
	Script         string
	VoiceID        string
	Render         RenderConfig
}

// uploadResponse covers both response shapes seen from the upload endpoint.
type uploadResponse struct {
	Data *struct {
		TalkingPhotoID string `json:"talking_photo_id"`
	} `json:"data"`
	TalkingPhotoID string `json:"talking_photo_id"`
}

type generatePayload struct {
	Title       string       `json:"title,omitempty"`
	CallbackID  string       `json:"callback_id,omitempty"`
	Dimension   dimension    `json:"dimension"`
	VideoInputs []videoInput `json:"video_inputs"`
}

type dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type videoInput struct {
	Character  character  `json:"character"`
	Voice      voice      `json:"voice"`
	Background background `json:"background"`
}

type character struct {
	Type              string  `json:"type"`
	TalkingPhotoID    string  `json:"talking_photo_id"`
	TalkingStyle      string  `json:"talking_style,omitempty"`
	Expression        string  `json:"expression,omitempty"`
	TalkingPhotoStyle string  `json:"talking_photo_style,omitempty"`
	Scale             float64 `json:"scale"`
	Offset            offset  `json:"offset"`
}

type offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type voice struct {
	Type      string  `json:"type"`
	VoiceID   string  `json:"voice_id"`
	InputText string  `json:"input_text"`
	Speed     float64 `json:"speed"`
	Locale    string  `json:"locale,omitempty"`
	Emotion   string  `json:"emotion,omitempty"`
}

type background struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type generateResponse struct {
	Data *struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type statusResponse struct {
	Data *struct {
		Status   string          `json:"status"`
		VideoURL string          `json:"video_url"`
		Error    json.RawMessage `json:"error"`
	} `json:"data"`
}

// errorBody is the error envelope HeyGen returns on non-2xx responses.
type errorBody struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// rawMessageText renders a JSON value that may be a string or an object with
// a message field. Returns "" for null or empty values.
func rawMessageText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj.Message != "" && obj.Detail != "":
			return obj.Message + ": " + obj.Detail
		case obj.Message != "":
			return obj.Message
		case obj.Detail != "":
			return obj.Detail
		}
	}

	return trimmed
}

// extractErrorMessage pulls a human-readable message out of an error response,
// preferring "message", then "error", then the raw body.
func extractErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if msg := rawMessageText(eb.Error); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}
