// Package jobstore persists search jobs and their results. The assistant stream only
// reads through Reader; the search runner writes through Writer.
package jobstore

import (
	"context"
	"errors"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

// ErrNotFound is returned by writers when the job does not exist.
var ErrNotFound = errors.New("jobstore: job not found")

// Reader is the read side consumed by the result-delivery pipeline.
// Every method returns (nil, nil) when the job or result is absent.
type Reader interface {
	GetJob(ctx context.Context, requestID string) (*types.Job, error)
	GetStatus(ctx context.Context, requestID string) (*types.StatusSnapshot, error)
	GetResult(ctx context.Context, requestID string) (*types.SearchResult, error)
}

// Writer is the write side used by the search runner.
type Writer interface {
	// SaveJob creates or replaces job.
	SaveJob(ctx context.Context, job *types.Job) error
	// UpdateStatus changes the status of an existing job.
	UpdateStatus(ctx context.Context, requestID string, status types.JobStatus) error
	// SaveResult stores the result of a finished job.
	SaveResult(ctx context.Context, result *types.SearchResult) error
}

// Store is a complete job store.
type Store interface {
	Reader
	Writer
	Ping(ctx context.Context) error
	Close() error
}

func copyJob(job *types.Job) *types.Job {
	if job == nil {
		return nil
	}
	c := *job
	return &c
}

func copyResult(result *types.SearchResult) *types.SearchResult {
	if result == nil {
		return nil
	}
	c := *result
	if result.Restaurants != nil {
		c.Restaurants = append([]types.Restaurant(nil), result.Restaurants...)
	}
	if result.Clarification != nil {
		cl := *result.Clarification
		c.Clarification = &cl
	}
	return &c
}
