// Package job provides the video note generation pipeline: the Job aggregate
// and its state machine, the polling schedule, and the orchestrator that
// drives HeyGen and ffmpeg for a single request.
package job

import (
	"errors"
	"time"

	"github.com/maauso/videonote/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusCreated indicates the job exists but nothing was sent yet.
	StatusCreated Status = "CREATED"
	// StatusUploading indicates the source image is being uploaded.
	StatusUploading Status = "UPLOADING"
	// StatusSubmitted indicates the render job was accepted by the service.
	StatusSubmitted Status = "SUBMITTED"
	// StatusPolling indicates the render is being waited on.
	StatusPolling Status = "POLLING"
	// StatusReady indicates the render finished and a result URL is known.
	StatusReady Status = "READY"
	// StatusFailed indicates the job ended with an error.
	StatusFailed Status = "FAILED"
	// StatusTimedOut indicates the polling schedule ran out before the render finished.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// READY may still fail while the result is downloaded and transformed.
var validTransitions = map[Status][]Status{
	StatusCreated:   {StatusUploading, StatusFailed},
	StatusUploading: {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusPolling, StatusFailed},
	StatusPolling:   {StatusReady, StatusFailed, StatusTimedOut},
	StatusReady:     {StatusFailed},
	StatusFailed:    {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one photo-to-video-note request.
// A Job is owned by the goroutine running it; other readers only ever see
// clones stored in a Repository.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status

	// MIMEType is the declared type of the source image.
	MIMEType string
	// Script is the text the photo should speak.
	Script string
	// VoiceID is the HeyGen voice used for the script.
	VoiceID string
	// PushToS3 indicates whether to archive the result to S3.
	PushToS3 bool

	// WorkDir is the per-job scratch directory.
	WorkDir string
	// SourcePath is the local copy of the source image.
	SourcePath string
	// TalkingPhotoID is the remote asset handle, empty until upload succeeds.
	TalkingPhotoID string
	// VideoID is the remote render job ID, empty until submission succeeds.
	VideoID string
	// ResultURL is the time-limited URL of the rendered clip.
	ResultURL string
	// DownloadedPath is where the rendered clip was saved.
	DownloadedPath string
	// OutputPath is the transformed video note.
	OutputPath string
	// VideoURL is the S3 URL if the note was archived.
	VideoURL string

	// Error contains the error message if the job failed.
	Error string
	// ErrorKind classifies the failure.
	ErrorKind ErrorKind

	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when the upload started.
	StartedAt time.Time
	// CompletedAt is when the job finished, successfully or not.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial CREATED status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial CREATED status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusUploading:
		j.StartedAt = j.UpdatedAt
	case StatusFailed, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Fail transitions the job to FAILED and records the cause.
func (j *Job) Fail(kind ErrorKind, errMsg string) error {
	if err := j.TransitionTo(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.ErrorKind = kind
	return nil
}

// Timeout transitions the job to TIMED_OUT and records the cause.
func (j *Job) Timeout(errMsg string) error {
	if err := j.TransitionTo(StatusTimedOut); err != nil {
		return err
	}
	j.Error = errMsg
	j.ErrorKind = KindTimeout
	return nil
}

// SetOutput attaches the finished note and marks the job complete.
func (j *Job) SetOutput(videoPath, videoURL string) {
	j.OutputPath = videoPath
	j.VideoURL = videoURL
	j.UpdatedAt = time.Now()
	j.CompletedAt = j.UpdatedAt
}

// ClearOutput forgets the local output after it has been released.
func (j *Job) ClearOutput() {
	j.OutputPath = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true once the job will not change any more:
// it failed, timed out, or is READY with its output attached.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case StatusFailed, StatusTimedOut:
		return true
	case StatusReady:
		return !j.CompletedAt.IsZero()
	default:
		return false
	}
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
