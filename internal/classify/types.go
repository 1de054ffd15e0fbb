// Package classify defines core types shared across subsystems.
package classify

import (
	"fmt"
	"time"
)

// Class labels produced by the binary model.
const (
	ClassEnvironment = "environment"
	ClassStudio      = "studio"
	ClassUnknown     = "unknown"
)

// RecordStatus represents the lifecycle state of an image record.
// Error states carry their kind, e.g. "error: not-an-image".
type RecordStatus string

// Record status values persisted in the record store.
const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusSuccess    RecordStatus = "success"
)

// Error kinds embedded into error statuses.
const (
	ErrKindNotAnImage       = "not-an-image"
	ErrKindFetchFailed      = "fetch-failed"
	ErrKindDecodeFailed     = "decode-failed"
	ErrKindModelUnavailable = "model-unavailable"
	ErrKindStorageFailed    = "storage-failed"
	ErrKindInternal         = "internal"
)

// ErrorStatus builds the record status for a failed classification attempt.
func ErrorStatus(kind string) RecordStatus {
	return RecordStatus("error: " + kind)
}

// IsError reports whether the status encodes a failed attempt.
func (s RecordStatus) IsError() bool {
	return len(s) > 7 && s[:7] == "error: "
}

// ImageType records how an image entered the system.
type ImageType string

// Image type values.
const (
	ImageTypeURL    ImageType = "url"
	ImageTypeUpload ImageType = "upload"
)

// ImageRecord is the durable per-URL row tracking classification state.
// The URL is the primary key and immutable once created.
type ImageRecord struct {
	URL             string       `json:"url"`
	ImageType       ImageType    `json:"image_type"`
	PredictedClass  *string      `json:"predicted_class,omitempty"`
	Status          RecordStatus `json:"status"`
	ConfidenceLevel *float64     `json:"confidence_level,omitempty"`
	JobID           *string      `json:"job_id,omitempty"`
	StorageFolder   *string      `json:"storage_folder,omitempty"`
	StorageFilename *string      `json:"storage_filename,omitempty"`
	ContentHash     *string      `json:"content_hash,omitempty"`
	ReLabel         bool         `json:"re_label"`
	AdminReviewed   bool         `json:"admin_reviewed"`
	ModelVersion    *string      `json:"model_version,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ClassificationResult is the per-item outcome shape, returned both
// synchronously and inside a job's result list.
type ClassificationResult struct {
	URL             string `json:"url"`
	Status          string `json:"status"`
	PredictedClass  string `json:"predicted_class"`
	ConfidenceLevel string `json:"confidence_level"`
}

// ErrorResult builds the result returned for a failed item.
func ErrorResult(url, kind string) ClassificationResult {
	return ClassificationResult{
		URL:             url,
		Status:          string(ErrorStatus(kind)),
		PredictedClass:  ClassUnknown,
		ConfidenceLevel: "0",
	}
}

// Decide applies the binary decision rule to a sigmoid score in [0,1].
// Scores at or above 0.5 mean studio with confidence equal to the score;
// below 0.5 the class is environment with confidence 1-score.
func Decide(score float64) (class string, confidence float64) {
	if score >= 0.5 {
		return ClassStudio, score
	}
	return ClassEnvironment, 1 - score
}

// FormatConfidence renders a [0,1] confidence as a percentage with two
// decimal places, e.g. 0.9731 -> "97.31".
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.2f", confidence*100)
}

// JobStatus represents the lifecycle state of a classification job.
type JobStatus string

// Job status values held by the job store.
const (
	JobStatusPending JobStatus = "pending"
	JobStatusStarted JobStatus = "started"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailure JobStatus = "failure"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure
}

// Job is the transient coordination artifact for one batch submission.
// The record store remains the durable truth; jobs expire after a retention
// window once terminal.
type Job struct {
	Handle    string                 `json:"job_id"`
	Status    JobStatus              `json:"status"`
	URLs      []string               `json:"urls"`
	Results   []ClassificationResult `json:"result,omitempty"`
	Detail    string                 `json:"detail,omitempty"`
	Submitted time.Time              `json:"submitted_at"`
	Started   *time.Time             `json:"started_at,omitempty"`
	Finished  *time.Time             `json:"finished_at,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string   `json:"job_id"`
	URLs      []string `json:"urls"`
	Attempt   int      `json:"attempt"`
	Submitted int64    `json:"submitted"`
}
