package domain

import "time"

// JobState is the normalized status of a model customization job.
type JobState string

const (
	JobQueued     JobState = "QUEUED"
	JobInProgress JobState = "IN_PROGRESS"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
	// JobPendingVisibility means the platform does not list the job yet.
	JobPendingVisibility JobState = "PENDING_VISIBILITY"
)

// Terminal reports whether polling can stop.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobStatus is the status reader's answer for one job.
type JobStatus struct {
	JobArn           string   `json:"jobArn"`
	Status           JobState `json:"status"`
	CompletedModelID string   `json:"customModelArn,omitempty"`
	FailureMessage   string   `json:"failureMessage,omitempty"`
}

// CustomizationJob is the handle returned when a fine-tuning job is submitted.
type CustomizationJob struct {
	JobArn          string    `json:"jobArn"`
	JobName         string    `json:"jobName"`
	CustomModelName string    `json:"customModelName"`
	BaseModelID     string    `json:"baseModelId"`
	ModelArn        string    `json:"modelArn"`
	LaunchedAt      time.Time `json:"launchedAt"`
}
