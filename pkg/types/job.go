// Package types defines the shared data model for search jobs and their results.
package types

import (
	"time"
)

// JobStatus is the lifecycle status of a search job.
type JobStatus string

const (
	JobStatusPending     JobStatus = "PENDING"
	JobStatusRunning     JobStatus = "RUNNING"
	JobStatusDoneSuccess JobStatus = "DONE_SUCCESS"
	JobStatusDoneClarify JobStatus = "DONE_CLARIFY" // query needs clarification
	JobStatusDoneStopped JobStatus = "DONE_STOPPED" // search was stopped by a gate
	JobStatusDoneFailed  JobStatus = "DONE_FAILED"
)

// IsTerminal reports whether no further transitions happen from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDoneSuccess, JobStatusDoneClarify, JobStatusDoneStopped, JobStatusDoneFailed:
		return true
	default:
		return false
	}
}

// IsResolvedWithoutResults reports whether the job ended in a state that is answered
// with an assistant message instead of a result summary.
func (s JobStatus) IsResolvedWithoutResults() bool {
	return s == JobStatusDoneClarify || s == JobStatusDoneStopped
}

// Job is a background search job as seen by the result-delivery pipeline.
type Job struct {
	RequestID      string    `json:"requestId"`
	Status         JobStatus `json:"status"`
	OwnerSessionID string    `json:"ownerSessionId,omitempty"`
	OwnerUserID    string    `json:"ownerUserId,omitempty"`
	TraceID        string    `json:"traceId,omitempty"`
	Query          string    `json:"query,omitempty"`

	// Language candidates, in the order the assistant resolves them.
	AssistantLanguage string `json:"assistantLanguage,omitempty"`
	IntentLanguage    string `json:"intentLanguage,omitempty"`
	DetectedLanguage  string `json:"detectedLanguage,omitempty"`
	UILanguage        string `json:"uiLanguage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusSnapshot is the lightweight status view returned by job stores.
type StatusSnapshot struct {
	Status    JobStatus `json:"status"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Clarification describes what the user should answer before a search can run.
type Clarification struct {
	Message      string `json:"message"`
	Question     string `json:"question,omitempty"`
	BlocksSearch bool   `json:"blocksSearch"`
}

// SearchResult is the stored outcome of a finished job.
type SearchResult struct {
	RequestID     string         `json:"requestId"`
	Query         string         `json:"query"`
	Language      string         `json:"language,omitempty"`
	Restaurants   []Restaurant   `json:"restaurants"`
	Clarification *Clarification `json:"clarification,omitempty"`
	StopReason    string         `json:"stopReason,omitempty"`
	CompletedAt   time.Time      `json:"completedAt"`
}
