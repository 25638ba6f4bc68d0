// Package stream drives an assistant stream for one search job: it validates access,
// narrates progress, waits for the job, and streams a generated answer as typed events.
package stream

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/dinescout/internal/assistant"
	"github.com/blueberrycongee/dinescout/internal/jobstore"
	"github.com/blueberrycongee/dinescout/internal/metrics"
	"github.com/blueberrycongee/dinescout/internal/observability"
	"github.com/blueberrycongee/dinescout/pkg/errors"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

const (
	// DefaultKeepAliveInterval is how often transports send ping events.
	DefaultKeepAliveInterval = 15 * time.Second
	// DefaultGenerationTimeout stays below the generation lock TTL.
	DefaultGenerationTimeout = 25 * time.Second
)

// Session outcomes, used as metric labels.
const (
	outcomeDone         = "done"
	outcomeTimeout      = "timeout"
	outcomeFailed       = "search_failed"
	outcomeUnauthorized = "unauthorized"
	outcomeError        = "error"
	outcomeDisconnected = "disconnected"
	outcomeLockHeld     = "lock_held"
)

var errDisconnected = stderrors.New("client disconnected")

// Config holds stream timing settings.
type Config struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	StreamTimeout     time.Duration `yaml:"stream_timeout"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	DefaultLanguage   string        `yaml:"default_language"`
}

// DefaultConfig returns the default stream settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:      DefaultPollInterval,
		StreamTimeout:     DefaultStreamTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		GenerationTimeout: DefaultGenerationTimeout,
		DefaultLanguage:   DefaultLanguage,
	}
}

// Locker is the generation lock. Release only drops a lock still owned by token.
type Locker interface {
	Acquire(ctx context.Context, requestID string) (token string, ok bool)
	Release(ctx context.Context, requestID, token string)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Jobs       jobstore.Reader
	Lock       Locker
	Generator  assistant.Generator
	Authorizer Authorizer // defaults to OwnershipAuthorizer
	Logger     *slog.Logger
}

// Request opens a stream.
type Request struct {
	RequestID  string
	Principal  Principal
	UILanguage string
	// Connected reports whether the client is still there. Optional; the context is
	// always checked.
	Connected func() bool
}

// Orchestrator produces the event sequence of assistant streams.
type Orchestrator struct {
	jobs       jobstore.Reader
	lock       Locker
	generator  assistant.Generator
	authorizer Authorizer
	poller     *Poller
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator creates a stream orchestrator.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	d := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = d.StreamTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = d.KeepAliveInterval
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = d.GenerationTimeout
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = d.DefaultLanguage
	}
	if deps.Authorizer == nil {
		deps.Authorizer = OwnershipAuthorizer{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		jobs:       deps.Jobs,
		lock:       deps.Lock,
		generator:  deps.Generator,
		authorizer: deps.Authorizer,
		poller:     NewPoller(deps.Jobs, cfg.PollInterval, cfg.StreamTimeout, deps.Logger),
		cfg:        cfg,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// KeepAliveInterval returns how often transports should ping.
func (o *Orchestrator) KeepAliveInterval() time.Duration {
	return o.cfg.KeepAliveInterval
}

// Stream returns the events of one session. The sequence is lazy: nothing happens until
// it is ranged over, and it can be ranged over only once. Stopping the range counts as a
// client disconnect. A session ends with done or error, except when another session
// owns the generation for the same job; then it ends without a terminal event.
func (o *Orchestrator) Stream(ctx context.Context, req Request) iter.Seq[Event] {
	var used atomic.Bool
	return func(yield func(Event) bool) {
		if !used.CompareAndSwap(false, true) {
			o.logger.Error("assistant stream consumed twice", "request_id", req.RequestID)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		s := &session{
			o:         o,
			ctx:       ctx,
			cancel:    cancel,
			req:       req,
			yield:     yield,
			fsm:       NewStateMachine(),
			startedAt: o.now(),
			logger:    o.logger.With("request_id", req.RequestID),
		}

		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()

		outcome := s.run()
		metrics.StreamSessions.WithLabelValues(outcome).Inc()
		s.logger.Info("assistant stream finished",
			"outcome", outcome,
			"state", s.fsm.State(),
			"elapsed_ms", o.now().Sub(s.startedAt).Milliseconds(),
		)
	}
}

// session is the per-connection state of one stream.
type session struct {
	o         *Orchestrator
	ctx       context.Context
	cancel    context.CancelFunc
	req       Request
	yield     func(Event) bool
	fsm       *StateMachine
	startedAt time.Time
	logger    *slog.Logger

	cancelled bool
	result    *types.SearchResult
}

func (s *session) run() (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("assistant stream panicked", "panic", r, "state", s.fsm.State())
			outcome = s.fail(fmt.Errorf("assistant stream failed: %v", r))
		}
	}()

	job, err := s.o.jobs.GetJob(s.ctx, s.req.RequestID)
	if err != nil {
		return s.fail(fmt.Errorf("load job: %w", err))
	}
	if err := s.o.authorizer.Authorize(s.ctx, job, s.req.Principal); err != nil || job == nil {
		if err == nil {
			err = errJobNotFound
		}
		s.logger.Warn("assistant stream unauthorized", "reason", err)
		s.emit(Error(errors.NewUnauthorizedStreamError(err.Error())))
		return outcomeUnauthorized
	}

	lang := s.resolveLanguage(job)

	s.fsm.MustTransition(StateMetaSent)
	if !s.emit(Meta(job.RequestID, lang, s.startedAt)) {
		return outcomeDisconnected
	}

	if job.Status.IsResolvedWithoutResults() {
		return s.answer(job, lang, job.Status)
	}
	return s.follow(job, lang)
}

// follow narrates an in-progress job, waits for it and answers.
func (s *session) follow(job *types.Job, lang string) string {
	s.fsm.MustTransition(StateNarrationSent)
	if !s.emit(Narration(NarrationText(lang, job.Query))) {
		return outcomeDisconnected
	}
	s.fsm.MustTransition(StateWaiting)

	out := s.o.poller.Wait(s.ctx, job.RequestID, job.Status, s.connected)
	switch {
	case out.Cancelled:
		s.cancelled = true
		return outcomeDisconnected
	case out.ResultsReady:
		return s.answer(job, lang, types.JobStatusDoneSuccess)
	case out.LatestStatus.IsResolvedWithoutResults():
		return s.answer(job, lang, out.LatestStatus)
	case out.LatestStatus == types.JobStatusDoneFailed:
		s.logger.Info("search failed while streaming")
		return s.fixedMessage(types.MessageFailed, FailedText(lang), lang, outcomeFailed)
	default:
		s.logger.Info("results not ready before deadline", "latest_status", out.LatestStatus, "queries", out.Queries)
		return s.fixedMessage(types.MessageTimeout, TimeoutText(lang), lang, outcomeTimeout)
	}
}

// answer generates and streams the reply for a job in a terminal status, holding the
// generation lock while doing so.
func (s *session) answer(job *types.Job, lang string, status types.JobStatus) string {
	if !s.connected() {
		return outcomeDisconnected
	}
	token, ok := s.o.lock.Acquire(s.ctx, job.RequestID)
	if !ok {
		s.logger.Info("generation owned by another stream, ending without message")
		return outcomeLockHeld
	}
	defer s.o.lock.Release(context.WithoutCancel(s.ctx), job.RequestID, token)

	result, err := s.loadResult(job.RequestID)
	if err != nil {
		return s.fail(err)
	}

	typ := types.MessageTypeForStatus(status)
	text, err := s.generate(typ, lang, job, result)
	if err != nil {
		return s.fail(err)
	}

	msg := MessageData{Type: typ, Message: text, Language: lang}
	switch typ {
	case types.MessageClarify:
		msg.BlocksSearch = true
		if result != nil && result.Clarification != nil {
			msg.Question = result.Clarification.Question
			msg.BlocksSearch = result.Clarification.BlocksSearch
		}
	case types.MessageStopped:
		msg.BlocksSearch = true
	}

	if !s.emit(Message(msg)) {
		return outcomeDisconnected
	}
	if typ == types.MessageSummary {
		s.fsm.MustTransition(StateSummarySent)
	} else {
		s.fsm.MustTransition(StateMessageSent)
	}
	return s.finish(outcomeDone)
}

// fixedMessage sends a message that needs no generation and ends the stream.
func (s *session) fixedMessage(typ types.MessageType, text, lang, outcome string) string {
	if !s.emit(Message(MessageData{Type: typ, Message: text, Language: lang})) {
		return outcomeDisconnected
	}
	s.fsm.MustTransition(StateMessageSent)
	return s.finish(outcome)
}

func (s *session) finish(outcome string) string {
	s.fsm.MustTransition(StateDone)
	if !s.emit(Done()) {
		return outcomeDisconnected
	}
	return outcome
}

// generate streams the generated reply as delta events and returns the full text.
func (s *session) generate(typ types.MessageType, lang string, job *types.Job, result *types.SearchResult) (text string, err error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.o.cfg.GenerationTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "assistant.generate", trace.SpanKindInternal,
		attribute.String("assistant.message_type", string(typ)),
		attribute.String("assistant.language", lang))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	label := "success"
	defer func() {
		metrics.GenerationLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	var sb strings.Builder
	for chunk, err := range s.o.generator.Generate(ctx, assistant.BuildRequest(typ, lang, job, result)) {
		if err != nil {
			label = "error"
			return "", fmt.Errorf("generate %s: %w", strings.ToLower(string(typ)), err)
		}
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if !s.emit(Delta(chunk)) {
			label = "disconnected"
			return "", errDisconnected
		}
	}
	if err := ctx.Err(); err != nil {
		label = "error"
		return "", fmt.Errorf("generate %s: %w", strings.ToLower(string(typ)), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// fail reports err as the terminal error event, unless the client is gone.
func (s *session) fail(err error) string {
	if !s.connected() || stderrors.Is(err, errDisconnected) {
		s.logger.Debug("assistant stream ended after disconnect", "error", err)
		return outcomeDisconnected
	}
	se := errors.Classify(err)
	s.logger.Warn("assistant stream failed", "code", se.Code, "error", err)
	s.emit(Error(se))
	return outcomeError
}

// emit hands ev to the consumer. It returns false once the client is gone.
func (s *session) emit(ev Event) bool {
	if !s.connected() {
		return false
	}
	if !s.yield(ev) {
		s.cancelled = true
		s.cancel()
		return false
	}
	metrics.StreamEvents.WithLabelValues(string(ev.Name)).Inc()
	return true
}

func (s *session) connected() bool {
	if s.cancelled || s.ctx.Err() != nil {
		return false
	}
	return s.req.Connected == nil || s.req.Connected()
}

// loadResult reads the stored result. Only a found result is kept; a result that was
// absent when the stream opened is read again once the job has finished.
func (s *session) loadResult(requestID string) (*types.SearchResult, error) {
	if s.result != nil {
		return s.result, nil
	}
	result, err := s.o.jobs.GetResult(s.ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	s.result = result
	return result, nil
}

// resolveLanguage walks the language cascade. The stored result is only read when no
// job-level candidate is usable.
func (s *session) resolveLanguage(job *types.Job) string {
	lang, source, ok := firstLanguage([]Candidate{
		{Source: SourceAssistant, Value: job.AssistantLanguage},
		{Source: SourceIntent, Value: job.IntentLanguage},
		{Source: SourceDetected, Value: job.DetectedLanguage},
	})
	if !ok {
		var resultLang string
		if result, err := s.loadResult(job.RequestID); err != nil {
			s.logger.Warn("could not read result language", "error", err)
		} else if result != nil {
			resultLang = result.Language
		}
		lang, source = ResolveLanguage(s.o.cfg.DefaultLanguage,
			Candidate{Source: SourceResult, Value: resultLang},
			Candidate{Source: SourceUI, Value: s.req.UILanguage},
			Candidate{Source: SourceUI, Value: job.UILanguage},
		)
	}
	s.logger.Info("resolved assistant language", "language", lang, "source", source)
	return lang
}
