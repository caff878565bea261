package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/videonote/internal/job"
	"github.com/maauso/videonote/internal/media"
)

// defaultMaxBodyBytes bounds a create request: a base64 portrait plus the script.
const defaultMaxBodyBytes = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	pipeline           *job.Pipeline
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	baseCtx            context.Context
	maxBodyBytes       int64

	wg sync.WaitGroup
	mu sync.Mutex
	// inFlight holds jobs whose output has not been registered yet.
	inFlight map[string]struct{}
	outputs  map[string]*job.Output
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob processes the job before responding.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithBaseContext sets the parent context of background jobs.
// Cancelling it cancels every job still running.
func WithBaseContext(ctx context.Context) HandlerOption {
	return func(h *Handlers) {
		h.baseCtx = ctx
	}
}

// WithMaxBodyBytes limits the size of a create request body.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(pipeline *job.Pipeline, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		pipeline:           pipeline,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
		baseCtx:            context.Background(),
		maxBodyBytes:       defaultMaxBodyBytes,
		inFlight:           make(map[string]struct{}),
		outputs:            make(map[string]*job.Output),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil || len(image) == 0 {
		writeError(w, http.StatusBadRequest, "image_base64 is not valid base64", "VALIDATION_ERROR")
		return
	}
	if req.MIMEType == "" {
		if _, err := media.DetectImageMIME(image); err != nil {
			writeError(w, http.StatusBadRequest, "image_base64 is not a supported image", "UNSUPPORTED_IMAGE")
			return
		}
	}

	input := job.Input{
		Image:    image,
		MIMEType: media.ResolveImageMIME(req.MIMEType, image),
		Script:   req.Text,
		PushToS3: req.PushToS3,
	}

	// Create job first (synchronously)
	createdJob, err := h.pipeline.CreateJob(r.Context(), input)
	if err != nil {
		if errors.Is(err, job.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.String("mime_type", input.MIMEType),
		slog.Int("script_chars", len([]rune(input.Script))),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	// Snapshot the response before processing starts mutating the job.
	resp := CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	}

	h.begin(createdJob.ID)
	if h.enableAsyncProcess {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.process(h.baseCtx, createdJob, input)
		}()
	} else {
		h.process(r.Context(), createdJob, input)
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// process runs the pipeline and keeps the output until the job is deleted.
func (h *Handlers) process(ctx context.Context, j *job.Job, input job.Input) {
	// On failure the pipeline already logged and recorded the error; out is nil.
	out, _ := h.pipeline.Process(ctx, j, input)
	h.register(ctx, j.ID, out)
}

// begin marks a job as in flight. DeleteJob refuses it until register runs,
// even when the stored snapshot is already terminal.
func (h *Handlers) begin(jobID string) {
	h.mu.Lock()
	h.inFlight[jobID] = struct{}{}
	h.mu.Unlock()
}

// register takes ownership of a finished job's output and ends its in-flight
// window. Notes archived to S3 are served by URL, so the local copy is
// released at once.
func (h *Handlers) register(ctx context.Context, jobID string, out *job.Output) {
	if out != nil && out.VideoURL != "" {
		if err := out.Release(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("failed to release archived note",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
		out = nil
	}

	h.mu.Lock()
	delete(h.inFlight, jobID)
	if out != nil {
		h.outputs[jobID] = out
	}
	h.mu.Unlock()
}

func (h *Handlers) isInFlight(jobID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.inFlight[jobID]
	return ok
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.pipeline.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	resp := jobResponse(foundJob)

	// Include video content once the note is finished
	if foundJob.Status == job.StatusReady && foundJob.VideoURL == "" {
		if out := h.output(jobID); out != nil {
			videoData, err := os.ReadFile(out.VideoPath)
			if err != nil {
				h.logger.Error("failed to read output video",
					slog.String("job_id", jobID),
					slog.String("path", out.VideoPath),
					slog.String("error", err.Error()),
				)
				// Don't fail the request, just log and omit video
			} else {
				resp.VideoBase64 = base64.StdEncoding.EncodeToString(videoData)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.pipeline.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, jobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

func jobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Error:     j.Error,
		ErrorCode: string(j.ErrorKind),
		VideoURL:  j.VideoURL,
		CreatedAt: j.CreatedAt,
	}
}

// DeleteJob handles DELETE /jobs/{id} requests. Running jobs cannot be deleted.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	foundJob, err := h.pipeline.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}
	// A job leaves the in-flight set only once, so checking before the
	// delete is enough for its output to be found below.
	if !foundJob.IsTerminal() || h.isInFlight(jobID) {
		writeError(w, http.StatusConflict, "job is still running", "JOB_RUNNING")
		return
	}

	if err := h.pipeline.DeleteJob(r.Context(), jobID); err != nil && !errors.Is(err, job.ErrJobNotFound) {
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}

	h.mu.Lock()
	out := h.outputs[jobID]
	delete(h.outputs, jobID)
	h.mu.Unlock()

	if out != nil {
		if err := out.Release(r.Context()); err != nil {
			h.logger.Warn("failed to release note",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Shutdown waits for background jobs and releases every note still held.
func (h *Handlers) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	outputs := h.outputs
	h.outputs = make(map[string]*job.Output)
	h.mu.Unlock()

	var errs []error
	for _, out := range outputs {
		if err := out.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handlers) output(jobID string) *job.Output {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outputs[jobID]
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
