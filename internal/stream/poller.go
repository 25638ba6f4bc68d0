package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/blueberrycongee/dinescout/internal/metrics"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

const (
	// DefaultPollInterval is the delay between job status queries.
	DefaultPollInterval = 400 * time.Millisecond
	// DefaultStreamTimeout bounds how long a stream waits for results.
	DefaultStreamTimeout = 20 * time.Second
)

// StatusSource answers job status queries. It returns (nil, nil) for unknown jobs.
type StatusSource interface {
	GetStatus(ctx context.Context, requestID string) (*types.StatusSnapshot, error)
}

// PollOutcome is the result of waiting for a job.
type PollOutcome struct {
	// ResultsReady is set when the job finished successfully.
	ResultsReady bool
	// LatestStatus is the last status observed.
	LatestStatus types.JobStatus
	// Cancelled is set when the caller went away; no further events may be sent.
	Cancelled bool
	// Queries is the number of status queries made.
	Queries int
}

// TimedOut reports whether the wait hit the deadline without the job finishing.
func (o PollOutcome) TimedOut() bool {
	return !o.ResultsReady && !o.Cancelled && !o.LatestStatus.IsTerminal()
}

// Poller waits for a job to reach a terminal status.
type Poller struct {
	source   StatusSource
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPoller creates a poller. Non-positive durations use the defaults.
func NewPoller(source StatusSource, interval, timeout time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{source: source, interval: interval, timeout: timeout, logger: logger}
}

// Wait polls the status of requestID until it is terminal, the deadline passes, or the
// caller is gone. Cancellation is checked before every status query. connected may be nil.
func (p *Poller) Wait(ctx context.Context, requestID string, initial types.JobStatus, connected func() bool) PollOutcome {
	start := time.Now()
	out := PollOutcome{LatestStatus: initial}
	defer func() {
		metrics.PollDuration.WithLabelValues(pollLabel(out)).Observe(time.Since(start).Seconds())
	}()

	if initial == types.JobStatusDoneSuccess {
		out.ResultsReady = true
		return out
	}
	if initial.IsTerminal() {
		return out
	}

	alive := func() bool {
		return ctx.Err() == nil && (connected == nil || connected())
	}

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if !alive() {
			out.Cancelled = true
			return out
		}

		out.Queries++
		snap, err := p.source.GetStatus(ctx, requestID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				out.Cancelled = true
				return out
			}
			p.logger.Warn("job status query failed, retrying", "request_id", requestID, "error", err)
		case snap == nil:
			p.logger.Warn("job disappeared while waiting", "request_id", requestID)
		default:
			out.LatestStatus = snap.Status
		}

		if out.LatestStatus == types.JobStatusDoneSuccess {
			out.ResultsReady = true
			return out
		}
		if out.LatestStatus.IsTerminal() {
			return out
		}
		if time.Since(start) >= p.timeout {
			return out
		}

		select {
		case <-ctx.Done():
			out.Cancelled = true
			return out
		case <-deadline.C:
			return out
		case <-ticker.C:
		}
	}
}

func pollLabel(o PollOutcome) string {
	switch {
	case o.Cancelled:
		return "cancelled"
	case o.ResultsReady:
		return "ready"
	case o.LatestStatus.IsTerminal():
		return "terminal"
	default:
		return "timeout"
	}
}
