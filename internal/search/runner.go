package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/dinescout/internal/jobstore"
	"github.com/blueberrycongee/dinescout/internal/metrics"
	"github.com/blueberrycongee/dinescout/internal/observability"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

// Owner identifies who submitted a search.
type Owner struct {
	SessionID string
	UserID    string
}

// RunnerConfig configures the job runner.
type RunnerConfig struct {
	JobTimeout    time.Duration `yaml:"job_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	// BlockedTerms stop a search before it reaches the provider.
	BlockedTerms []string `yaml:"blocked_terms"`
}

// DefaultRunnerConfig returns the default runner settings.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		JobTimeout:    15 * time.Second,
		MaxConcurrent: 32,
	}
}

// StopReasonBlocked is the stop reason of searches rejected by BlockedTerms.
const StopReasonBlocked = "unsupported_request"

// ErrRunnerClosed is returned by Submit after Shutdown.
var ErrRunnerClosed = errors.New("search runner is shut down")

// Runner executes search jobs in the background and records their progress in the job
// store, where assistant streams pick it up.
type Runner struct {
	jobs    jobstore.Writer
	service *Service
	cfg     RunnerConfig
	logger  *slog.Logger
	now     func() time.Time

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewRunner creates a runner.
func NewRunner(jobs jobstore.Writer, service *Service, cfg RunnerConfig, logger *slog.Logger) *Runner {
	d := DefaultRunnerConfig()
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = d.JobTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = d.MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		jobs:    jobs,
		service: service,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Submit stores a pending job for q and starts it. The job outlives ctx.
func (r *Runner) Submit(ctx context.Context, q types.SearchQuery, owner Owner) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRunnerClosed
	}

	now := r.now()
	job := &types.Job{
		RequestID:      uuid.NewString(),
		Status:         types.JobStatusPending,
		OwnerSessionID: owner.SessionID,
		OwnerUserID:    owner.UserID,
		TraceID:        observability.RequestIDFromContext(ctx),
		Query:          strings.TrimSpace(q.Text),
		UILanguage:     q.Language,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	r.wg.Add(1)
	go r.run(context.WithoutCancel(ctx), job.RequestID, q)

	r.logger.Info("search job submitted", "request_id", job.RequestID, "trace_id", job.TraceID)
	return job, nil
}

func (r *Runner) run(ctx context.Context, requestID string, q types.SearchQuery) {
	defer r.wg.Done()
	logger := r.logger.With("request_id", requestID)

	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("search job panicked", "panic", rec)
			r.finish(ctx, logger, &types.SearchResult{RequestID: requestID, Query: q.Text}, types.JobStatusDoneFailed)
		}
	}()

	if err := r.jobs.UpdateStatus(ctx, requestID, types.JobStatusRunning); err != nil {
		logger.Warn("could not mark job running", "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "search.job", trace.SpanKindInternal,
		attribute.String("search.request_id", requestID))

	start := r.now()
	result := &types.SearchResult{RequestID: requestID, Query: strings.TrimSpace(q.Text), Language: q.Language}
	status := r.execute(ctx, logger, q, result)
	result.CompletedAt = r.now()
	span.SetAttributes(attribute.String("search.status", string(status)), attribute.Int("search.results", len(result.Restaurants)))
	span.End()

	r.finish(ctx, logger, result, status)
	logger.Info("search job finished", "status", status, "results", len(result.Restaurants), "elapsed_ms", r.now().Sub(start).Milliseconds())
}

// execute runs the search and fills result. It returns the terminal status.
func (r *Runner) execute(ctx context.Context, logger *slog.Logger, q types.SearchQuery, result *types.SearchResult) types.JobStatus {
	text := strings.TrimSpace(q.Text)
	switch {
	case text == "":
		result.Clarification = &types.Clarification{
			Message:      "The search has no query.",
			Question:     "What would you like to eat?",
			BlocksSearch: true,
		}
		return types.JobStatusDoneClarify
	case !q.Location.HasCoordinates() && strings.TrimSpace(q.Location.Place) == "":
		result.Clarification = &types.Clarification{
			Message:      "The search has no location.",
			Question:     "Where should I look?",
			BlocksSearch: true,
		}
		return types.JobStatusDoneClarify
	case r.blocked(text):
		result.StopReason = StopReasonBlocked
		return types.JobStatusDoneStopped
	}

	page, err := r.service.Search(ctx, q)
	if err != nil {
		logger.Warn("search failed", "error", err)
		return types.JobStatusDoneFailed
	}
	result.Restaurants = page.Restaurants
	return types.JobStatusDoneSuccess
}

func (r *Runner) blocked(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range r.cfg.BlockedTerms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" && strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// finish stores the result before the status, so readers that see a terminal status
// always find the result.
func (r *Runner) finish(ctx context.Context, logger *slog.Logger, result *types.SearchResult, status types.JobStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.jobs.SaveResult(ctx, result); err != nil {
		logger.Error("could not save search result", "error", err)
		status = types.JobStatusDoneFailed
	}
	if err := r.jobs.UpdateStatus(ctx, result.RequestID, status); err != nil {
		logger.Error("could not update job status", "status", status, "error", err)
	}
	metrics.SearchJobs.WithLabelValues(string(status)).Inc()
}

// Shutdown stops accepting jobs and waits for running ones until ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
