// Package server provides the HTTP API for video note jobs.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// ImageBase64 is the base64-encoded portrait.
	ImageBase64 string `json:"image_base64" validate:"required,base64"`
	// MIMEType is the declared image type. When empty it is sniffed from the bytes.
	MIMEType string `json:"mime_type" validate:"omitempty,startswith=image/"`
	// Text is the script the portrait should speak.
	Text string `json:"text" validate:"required,max=5000"`
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	// Error contains the error message if the job failed.
	Error string `json:"error,omitempty"`
	// ErrorCode classifies the failure, e.g. "render_failed" or "timeout".
	ErrorCode string `json:"error_code,omitempty"`
	// VideoBase64 is the finished note when it was not archived to S3.
	VideoBase64 string `json:"video_base64,omitempty"`
	// VideoURL is the S3 URL of the finished note.
	VideoURL  string    `json:"video_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListJobsResponse is the HTTP response for listing jobs. Entries never
// carry video content; fetch a single job for that.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
