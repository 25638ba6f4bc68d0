package stream

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/dinescout/internal/assistant"
	"github.com/blueberrycongee/dinescout/internal/jobstore"
	"github.com/blueberrycongee/dinescout/internal/lock"
	apierrors "github.com/blueberrycongee/dinescout/pkg/errors"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

type fakeGenerator struct {
	chunks []string
	err    error
	calls  atomic.Int32
	// hook runs before the first chunk, with the generation context.
	hook func(ctx context.Context) error

	mu       sync.Mutex
	requests []assistant.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req assistant.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		g.calls.Add(1)
		g.mu.Lock()
		g.requests = append(g.requests, req)
		g.mu.Unlock()
		if g.hook != nil {
			if err := g.hook(ctx); err != nil {
				yield("", err)
				return
			}
		}
		for _, c := range g.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
		}
	}
}

type testEnv struct {
	jobs *jobstore.MemoryStore
	gen  *fakeGenerator
	orch *Orchestrator
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = 100 * time.Millisecond
	}
	env := &testEnv{
		jobs: jobstore.NewMemoryStore(),
		gen:  &fakeGenerator{chunks: []string{"Forno ", "is ", "great."}},
	}
	env.orch = NewOrchestrator(cfg, Deps{
		Jobs:      env.jobs,
		Lock:      lock.New(lock.NewMemoryBackend(), lock.DefaultConfig(), nil),
		Generator: env.gen,
	})
	return env
}

func (e *testEnv) saveJob(t *testing.T, job *types.Job) {
	t.Helper()
	require.NoError(t, e.jobs.SaveJob(context.Background(), job))
}

func collectEvents(seq iter.Seq[Event]) []Event {
	var events []Event
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func eventNames(events []Event) []EventName {
	names := make([]EventName, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

func lastMessage(t *testing.T, events []Event) MessageData {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == EventMessage {
			return events[i].Data.(MessageData)
		}
	}
	t.Fatal("no message event")
	return MessageData{}
}

func TestStream_ScenarioA_ResultsReady(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req-a", Status: types.JobStatusDoneSuccess, Query: "pizza", UILanguage: "en"})
	require.NoError(t, env.jobs.SaveResult(context.Background(), &types.SearchResult{
		RequestID:   "req-a",
		Restaurants: []types.Restaurant{{ID: "1", Name: "Forno"}},
	}))

	events := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req-a"}))

	assert.Equal(t, []EventName{
		EventMeta, EventNarration, EventDelta, EventDelta, EventDelta, EventMessage, EventDone,
	}, eventNames(events))

	meta := events[0].Data.(MetaData)
	assert.Equal(t, "req-a", meta.RequestID)
	assert.Equal(t, "en", meta.Language)
	assert.False(t, meta.StartedAt.IsZero())

	assert.Equal(t, "Looking for pizza…", events[1].Data.(TextData).Text)

	msg := lastMessage(t, events)
	assert.Equal(t, types.MessageSummary, msg.Type)
	assert.Equal(t, "Forno is great.", msg.Message)
	assert.False(t, msg.BlocksSearch)
	assert.Equal(t, int32(1), env.gen.calls.Load())
}

func (g *fakeGenerator) lastRequest(t *testing.T) assistant.Request {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.requests, "generator was not called")
	return g.requests[len(g.requests)-1]
}

func TestStream_ScenarioA_ResultArrivesWhileWaiting(t *testing.T) {
	env := newTestEnv(t, Config{StreamTimeout: 2 * time.Second})
	ctx := context.Background()
	// No job-level language, so the cascade reads the result before the job has one.
	env.saveJob(t, &types.Job{RequestID: "req-a", Status: types.JobStatusRunning, Query: "sushi"})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = env.jobs.SaveResult(ctx, &types.SearchResult{
			RequestID:   "req-a",
			Query:       "sushi",
			Restaurants: []types.Restaurant{{ID: "1", Name: "Sakura Bar"}},
		})
		_ = env.jobs.UpdateStatus(ctx, "req-a", types.JobStatusDoneSuccess)
	}()

	events := collectEvents(env.orch.Stream(ctx, Request{RequestID: "req-a"}))

	require.Equal(t, EventDone, events[len(events)-1].Name)
	assert.Equal(t, types.MessageSummary, lastMessage(t, events).Type)

	req := env.gen.lastRequest(t)
	require.NotNil(t, req.Result, "summary is generated from the stored result")
	top := req.TopRestaurants()
	require.Len(t, top, 1)
	assert.Equal(t, "Sakura Bar", top[0].Name)
}

func TestStream_ScenarioB_Timeout(t *testing.T) {
	env := newTestEnv(t, Config{StreamTimeout: 50 * time.Millisecond})
	env.saveJob(t, &types.Job{RequestID: "req-b", Status: types.JobStatusRunning, DetectedLanguage: "he"})

	events := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req-b"}))

	assert.Equal(t, []EventName{EventMeta, EventNarration, EventMessage, EventDone}, eventNames(events))
	msg := lastMessage(t, events)
	assert.Equal(t, types.MessageTimeout, msg.Type)
	assert.Equal(t, TimeoutText("he"), msg.Message)
	assert.Equal(t, "he", msg.Language)
	assert.Equal(t, int32(0), env.gen.calls.Load(), "no generation on timeout")
}

func TestStream_ScenarioC_ConcurrentStreamsGenerateOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req-c", Status: types.JobStatusDoneClarify, Query: "food"})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.gen.hook = func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}

	first := make(chan []Event, 1)
	go func() {
		first <- collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req-c"}))
	}()

	<-started
	second := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req-c"}))
	close(release)
	firstEvents := <-first

	assert.Equal(t, []EventName{EventMeta, EventDelta, EventDelta, EventDelta, EventMessage, EventDone}, eventNames(firstEvents))
	assert.Equal(t, []EventName{EventMeta}, eventNames(second), "lock loser ends without message or done")
	assert.Equal(t, int32(1), env.gen.calls.Load())
}

func TestStream_ResolvedJobMessage(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneClarify})
	require.NoError(t, env.jobs.SaveResult(context.Background(), &types.SearchResult{
		RequestID:     "req",
		Language:      "fr",
		Clarification: &types.Clarification{Message: "m", Question: "Dans quelle ville ?", BlocksSearch: true},
	}))

	events := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req"}))
	require.NotEmpty(t, events)
	assert.Equal(t, "fr", events[0].Data.(MetaData).Language, "result language used when the job has none")

	msg := lastMessage(t, events)
	assert.Equal(t, types.MessageClarify, msg.Type)
	assert.Equal(t, "Dans quelle ville ?", msg.Question)
	assert.True(t, msg.BlocksSearch)
	assert.Equal(t, EventDone, events[len(events)-1].Name)
}

func TestStream_StoppedWhileWaiting(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusRunning})

	go func() {
		time.Sleep(15 * time.Millisecond)
		_ = env.jobs.UpdateStatus(context.Background(), "req", types.JobStatusDoneStopped)
	}()

	events := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req"}))
	assert.Equal(t, EventNarration, events[1].Name)
	msg := lastMessage(t, events)
	assert.Equal(t, types.MessageStopped, msg.Type)
	assert.True(t, msg.BlocksSearch)
	assert.Equal(t, EventDone, events[len(events)-1].Name)
}

func TestStream_SearchFailed(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneFailed})

	events := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req"}))
	assert.Equal(t, []EventName{EventMeta, EventNarration, EventMessage, EventDone}, eventNames(events))
	assert.Equal(t, types.MessageFailed, lastMessage(t, events).Type)
	assert.Equal(t, int32(0), env.gen.calls.Load())
}

func TestStream_Unauthorized(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneSuccess, OwnerSessionID: "owner"})

	events := collectEvents(env.orch.Stream(context.Background(), Request{
		RequestID: "req",
		Principal: Principal{SessionID: "intruder"},
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Name)
	assert.Equal(t, apierrors.CodeUnauthorized, events[0].Data.(*apierrors.StreamError).Code)

	events = collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "missing"}))
	require.Len(t, events, 1)
	assert.Equal(t, apierrors.CodeUnauthorized, events[0].Data.(*apierrors.StreamError).Code)
}

func TestStream_OwnerIsAuthorized(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneSuccess, OwnerSessionID: "owner"})

	events := collectEvents(env.orch.Stream(context.Background(), Request{
		RequestID: "req",
		Principal: Principal{SessionID: "owner"},
	}))
	assert.Equal(t, EventDone, events[len(events)-1].Name)
}

func TestStream_GenerationErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apierrors.Code
	}{
		{"timeout", errors.New("upstream request timed out"), apierrors.CodeLLMTimeout},
		{"abort", errors.New("request aborted by provider"), apierrors.CodeAborted},
		{"generic", errors.New("status 500"), apierrors.CodeLLMFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			env.gen.chunks = []string{"partial "}
			env.gen.err = tt.err
			env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneSuccess})

			events := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req"}))
			last := events[len(events)-1]
			require.Equal(t, EventError, last.Name)
			assert.Equal(t, tt.want, last.Data.(*apierrors.StreamError).Code)
			assert.NotContains(t, eventNames(events), EventDone, "error and done are exclusive")
		})
	}
}

func TestStream_GenerationTimeout(t *testing.T) {
	env := newTestEnv(t, Config{GenerationTimeout: 20 * time.Millisecond})
	env.gen.hook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneSuccess})

	events := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req"}))
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Name)
	assert.Equal(t, apierrors.CodeLLMTimeout, last.Data.(*apierrors.StreamError).Code)
}

func TestStream_LockReleasedAfterGeneration(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneClarify})

	first := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req"}))
	second := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: "req"}))

	assert.Equal(t, EventDone, first[len(first)-1].Name)
	assert.Equal(t, EventDone, second[len(second)-1].Name, "sequential viewers each get an answer")
}

func TestStream_ConsumerStopsEarly(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusRunning})

	var seen []EventName
	for ev := range env.orch.Stream(context.Background(), Request{RequestID: "req"}) {
		seen = append(seen, ev.Name)
		if ev.Name == EventNarration {
			break
		}
	}
	assert.Equal(t, []EventName{EventMeta, EventNarration}, seen)
	assert.Equal(t, int32(0), env.gen.calls.Load())
}

func TestStream_ClientDisconnectDuringPoll(t *testing.T) {
	env := newTestEnv(t, Config{StreamTimeout: 5 * time.Second})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusRunning})

	var connected atomic.Bool
	connected.Store(true)

	start := time.Now()
	var seen []EventName
	for ev := range env.orch.Stream(context.Background(), Request{RequestID: "req", Connected: connected.Load}) {
		seen = append(seen, ev.Name)
		if ev.Name == EventNarration {
			go func() {
				time.Sleep(20 * time.Millisecond)
				connected.Store(false)
			}()
		}
	}
	assert.Equal(t, []EventName{EventMeta, EventNarration}, seen, "nothing is emitted after disconnect")
	assert.Less(t, time.Since(start), time.Second)
}

func TestStream_ContextCancelledSuppressesError(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	env.gen.hook = func(context.Context) error {
		cancel()
		return context.Canceled
	}
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneSuccess})

	events := collectEvents(env.orch.Stream(ctx, Request{RequestID: "req"}))
	assert.Equal(t, []EventName{EventMeta, EventNarration}, eventNames(events))
}

func TestStream_SingleUse(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.saveJob(t, &types.Job{RequestID: "req", Status: types.JobStatusDoneFailed})

	seq := env.orch.Stream(context.Background(), Request{RequestID: "req"})
	assert.NotEmpty(t, collectEvents(seq))
	assert.Empty(t, collectEvents(seq), "a stream cannot be replayed")
}

func TestStream_LanguageCascade(t *testing.T) {
	env := newTestEnv(t, Config{DefaultLanguage: "he"})

	tests := []struct {
		name string
		job  types.Job
		ui   string
		want string
	}{
		{"assistant wins", types.Job{AssistantLanguage: "fr", IntentLanguage: "es"}, "en", "fr"},
		{"intent", types.Job{IntentLanguage: "es-AR", DetectedLanguage: "fr"}, "", "es"},
		{"detected", types.Job{DetectedLanguage: "fr"}, "en", "fr"},
		{"request ui", types.Job{UILanguage: "fr"}, "es", "es"},
		{"job ui", types.Job{UILanguage: "fr"}, "", "fr"},
		{"default", types.Job{}, "", "he"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			job.RequestID = "req-" + tt.name
			job.Status = types.JobStatusDoneFailed
			env.saveJob(t, &job)

			events := collectEvents(env.orch.Stream(context.Background(), Request{RequestID: job.RequestID, UILanguage: tt.ui}))
			assert.Equal(t, tt.want, events[0].Data.(MetaData).Language)
		})
	}
}
