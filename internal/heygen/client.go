package heygen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultAPIURL      = "https://api.heygen.com"
	defaultUploadURL   = "https://upload.heygen.com"
	defaultScriptLimit = 1000
	defaultMIME        = "image/jpeg"
)

// allowedMIME lists the image types the upload endpoint accepts as-is.
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Client defines the interface for interacting with the HeyGen API.
type Client interface {
	// UploadTalkingPhoto uploads a portrait and returns its talking photo ID.
	UploadTalkingPhoto(ctx context.Context, image []byte, mimeType string) (talkingPhotoID string, err error)

	// GenerateVideo submits a render job and returns the video ID.
	GenerateVideo(ctx context.Context, req GenerateRequest) (videoID string, err error)

	// VideoStatus performs exactly one status query for a video.
	VideoStatus(ctx context.Context, videoID string) (StatusResult, error)

	// Download streams the result at url into destPath.
	Download(ctx context.Context, url, destPath string) error

	// DeleteTalkingPhoto removes a previously uploaded asset.
	DeleteTalkingPhoto(ctx context.Context, talkingPhotoID string) error
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of the HeyGen Client interface.
type HTTPClient struct {
	apiKey         string
	apiURL         string
	uploadURL      string
	scriptLimit    int
	httpClient     *http.Client
	downloadClient *http.Client
	logger         *slog.Logger
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key sent in the X-Api-Key header.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets the HTTP client used for API calls and downloads.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
		hc.downloadClient = c
	}
}

// WithBaseURL sets the base URL for the generate, status and delete endpoints.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiURL = strings.TrimRight(u, "/")
	}
}

// WithUploadURL sets the base URL for the upload endpoint.
func WithUploadURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.uploadURL = strings.TrimRight(u, "/")
	}
}

// WithScriptLimit sets the maximum script length in characters.
// Non-positive values are ignored.
func WithScriptLimit(n int) ClientOption {
	return func(hc *HTTPClient) {
		if n > 0 {
			hc.scriptLimit = n
		}
	}
}

// WithTimeouts sets the connect timeout and the per-request timeout.
// Downloads only get the connect and response-header limits so that large
// results are not cut off mid-stream.
func WithTimeouts(connect, request time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient, hc.downloadClient = newHTTPClients(connect, request)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(hc *HTTPClient) {
		if l != nil {
			hc.logger = l
		}
	}
}

// NewClient creates a new HeyGen HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable API_HEYGEN.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	api, download := newHTTPClients(30*time.Second, 60*time.Second)
	c := &HTTPClient{
		apiURL:         defaultAPIURL,
		uploadURL:      defaultUploadURL,
		scriptLimit:    defaultScriptLimit,
		httpClient:     api,
		downloadClient: download,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("API_HEYGEN")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	return c, nil
}

func newHTTPClients(connect, request time.Duration) (api, download *http.Client) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: request,
		MaxIdleConnsPerHost:   4,
	}
	return &http.Client{Transport: transport, Timeout: request},
		&http.Client{Transport: transport}
}

// UploadTalkingPhoto uploads a portrait and returns its talking photo ID.
// MIME types outside the allow-list are sent as image/jpeg.
func (c *HTTPClient) UploadTalkingPhoto(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}

	contentType, coerced := NormalizeImageMIME(mimeType)
	if coerced {
		c.logger.Warn("unsupported image MIME type, uploading as jpeg",
			slog.String("declared", mimeType),
			slog.String("effective", contentType),
		)
	}

	status, body, err := c.do(ctx, http.MethodPost, c.uploadURL+"/v1/talking_photo", contentType, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if !isSuccess(status) {
		return "", &APIError{Kind: ErrUploadFailed, StatusCode: status, Message: extractErrorMessage(body)}
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &MalformedResponseError{Op: "upload", Body: string(body), Err: err}
	}

	switch {
	case resp.Data != nil && resp.Data.TalkingPhotoID != "":
		c.logger.Debug("talking photo uploaded", slog.String("shape", "data.talking_photo_id"))
		return resp.Data.TalkingPhotoID, nil
	case resp.TalkingPhotoID != "":
		c.logger.Debug("talking photo uploaded", slog.String("shape", "talking_photo_id"))
		return resp.TalkingPhotoID, nil
	default:
		return "", &MalformedResponseError{Op: "upload: no talking_photo_id", Body: string(body)}
	}
}

// GenerateVideo submits a render job and returns the video ID.
// The script is cut to the configured character limit.
func (c *HTTPClient) GenerateVideo(ctx context.Context, req GenerateRequest) (string, error) {
	if req.TalkingPhotoID == "" {
		return "", ErrTalkingPhotoIDRequired
	}

	script := TruncateScript(req.Script, c.scriptLimit)
	if len(script) != len(req.Script) {
		c.logger.Debug("script truncated",
			slog.Int("limit", c.scriptLimit),
			slog.Int("original_chars", utf8.RuneCountInString(req.Script)),
		)
	}

	payload := req.Render.payload(req.TalkingPhotoID, req.VoiceID, script)
	callbackID := uuid.NewString()
	payload.Title = "videonote-" + callbackID
	payload.CallbackID = callbackID

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("heygen: marshal request: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, c.apiURL+"/v2/video/generate", "application/json", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	if !isSuccess(status) {
		return "", &APIError{Kind: ErrSubmissionFailed, StatusCode: status, Message: strings.TrimSpace(string(body))}
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &MalformedResponseError{Op: "generate", Body: string(body), Err: err}
	}
	if resp.Data == nil || resp.Data.VideoID == "" {
		return "", &MalformedResponseError{Op: "generate: no video_id", Body: string(body)}
	}

	c.logger.Debug("video submitted",
		slog.String("video_id", resp.Data.VideoID),
		slog.String("callback_id", callbackID),
	)
	return resp.Data.VideoID, nil
}

// VideoStatus performs exactly one status query for a video.
func (c *HTTPClient) VideoStatus(ctx context.Context, videoID string) (StatusResult, error) {
	if videoID == "" {
		return StatusResult{}, ErrVideoIDRequired
	}

	endpoint := c.apiURL + "/v1/video_status.get?video_id=" + url.QueryEscape(videoID)
	status, body, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return StatusResult{}, err
	}
	if !isSuccess(status) {
		return StatusResult{}, &APIError{Kind: ErrStatusFailed, StatusCode: status, Message: extractErrorMessage(body)}
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return StatusResult{}, &MalformedResponseError{Op: "status", Body: string(body), Err: err}
	}
	if resp.Data == nil || resp.Data.Status == "" {
		return StatusResult{}, &MalformedResponseError{Op: "status: no data.status", Body: string(body)}
	}

	result := StatusResult{
		Status:   Status(strings.ToLower(resp.Data.Status)),
		VideoURL: resp.Data.VideoURL,
	}
	if result.Status.IsFailure() {
		result.Detail = rawMessageText(resp.Data.Error)
		if result.Detail == "" {
			result.Detail = truncateBody(string(body))
		}
	}
	return result, nil
}

// Download streams the result at rawURL into destPath.
// A partially written file is removed on failure.
func (c *HTTPClient) Download(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("heygen: create download request: %w", err)
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyInError))
		return &APIError{Kind: ErrDownloadFailed, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	f, err := os.Create(destPath) // #nosec G304 - path is built by the pipeline
	if err != nil {
		return fmt.Errorf("heygen: create output file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: write output file: %w", ErrDownloadFailed, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("heygen: close output file: %w", err)
	}

	return nil
}

// DeleteTalkingPhoto removes a previously uploaded asset.
// A 404 answer means the asset is already gone and is not an error.
func (c *HTTPClient) DeleteTalkingPhoto(ctx context.Context, talkingPhotoID string) error {
	if talkingPhotoID == "" {
		return ErrTalkingPhotoIDRequired
	}

	endpoint := c.apiURL + "/v2/photo_avatar/" + url.PathEscape(talkingPhotoID)
	status, body, err := c.do(ctx, http.MethodDelete, endpoint, "", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if !isSuccess(status) {
		return &APIError{Kind: ErrDeleteFailed, StatusCode: status, Message: extractErrorMessage(body)}
	}
	return nil
}

// do performs a single authenticated request and returns the status code and body.
// Only transport-level failures are returned as errors; callers tag them
// with the sentinel for their operation.
func (c *HTTPClient) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("heygen: create request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("heygen: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("heygen: read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// NormalizeImageMIME maps a declared MIME type onto the upload allow-list.
// Parameters and case are ignored. Anything outside the list becomes
// image/jpeg and coerced reports true.
func NormalizeImageMIME(declared string) (effective string, coerced bool) {
	base, _, _ := strings.Cut(declared, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	if allowedMIME[base] {
		return base, false
	}
	return defaultMIME, true
}

// TruncateScript returns at most limit characters (Unicode code points) of
// script. A non-positive limit returns script unchanged.
func TruncateScript(script string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(script) <= limit {
		return script
	}
	n := 0
	for i := range script {
		if n == limit {
			return script[:i]
		}
		n++
	}
	return script
}

// IsNotFound reports whether err is an APIError with a 404 status.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
