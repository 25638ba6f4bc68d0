package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/dinescout/caches/redis"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

// DefaultRetention is how long jobs and results are kept in Redis.
const DefaultRetention = 24 * time.Hour

// RedisStore implements Store on the shared Redis backend, so every instance can serve
// streams for jobs started elsewhere.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore creates a Redis-backed store. Non-positive retention uses DefaultRetention.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, retention: retention, now: time.Now}
}

func jobKey(requestID string) string    { return "job:" + requestID }
func resultKey(requestID string) string { return "job:" + requestID + ":result" }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, requestID string) (*types.Job, error) {
	data, err := s.client.Get(ctx, jobKey(requestID))
	if err != nil || data == nil {
		return nil, err
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", requestID, err)
	}
	return &job, nil
}

func (s *RedisStore) GetStatus(ctx context.Context, requestID string) (*types.StatusSnapshot, error) {
	job, err := s.GetJob(ctx, requestID)
	if err != nil || job == nil {
		return nil, err
	}
	return &types.StatusSnapshot{Status: job.Status, UpdatedAt: job.UpdatedAt}, nil
}

func (s *RedisStore) GetResult(ctx context.Context, requestID string) (*types.SearchResult, error) {
	data, err := s.client.Get(ctx, resultKey(requestID))
	if err != nil || data == nil {
		return nil, err
	}
	var result types.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", requestID, err)
	}
	return &result, nil
}

func (s *RedisStore) SaveJob(ctx context.Context, job *types.Job) error {
	c := copyJob(job)
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return s.put(ctx, jobKey(c.RequestID), c)
}

// UpdateStatus rewrites the job document. The search runner is the only writer of a job,
// so the read-modify-write does not race.
func (s *RedisStore) UpdateStatus(ctx context.Context, requestID string, status types.JobStatus) error {
	job, err := s.GetJob(ctx, requestID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}
	job.Status = status
	job.UpdatedAt = s.now()
	return s.put(ctx, jobKey(requestID), job)
}

func (s *RedisStore) SaveResult(ctx context.Context, result *types.SearchResult) error {
	return s.put(ctx, resultKey(result.RequestID), result)
}

func (s *RedisStore) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.client.SetEX(ctx, key, data, s.retention)
}
