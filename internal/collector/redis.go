package collector

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/framerelay/internal/runtime/frames"
)

const (
	DefaultStream       = "framerelay:frames"
	DefaultStreamMaxLen = 100000
)

// RedisStreamStore appends every frame to a capped Redis stream.
type RedisStreamStore struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// RedisOptions configures NewRedisStreamStore.
type RedisOptions struct {
	// URL is host:port or a redis:// / rediss:// URL.
	URL    string
	Stream string
	// MaxLen trims the stream approximately to this many entries.
	MaxLen int64
}

// NewRedisStreamStore connects and pings the server.
func NewRedisStreamStore(ctx context.Context, opts RedisOptions) (*RedisStreamStore, error) {
	client, err := newRedisClient(opts.URL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	s := &RedisStreamStore{client: client, stream: opts.Stream, maxLen: opts.MaxLen}
	if s.stream == "" {
		s.stream = DefaultStream
	}
	if s.maxLen <= 0 {
		s.maxLen = DefaultStreamMaxLen
	}
	return s, nil
}

func newRedisClient(addr string) (redis.UniversalClient, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("collector: redis address is required")
	}
	if !strings.Contains(addr, "://") {
		return redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}}), nil
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// Handle appends frame to the stream.
func (s *RedisStreamStore) Handle(ctx context.Context, frame frames.CapturedFrame) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":    frame.Kind,
			"payload": frame.Payload,
			"ts":      frames.Millis(frame.CapturedAt),
		},
	}).Err()
}

func (s *RedisStreamStore) Stream() string { return s.stream }

func (s *RedisStreamStore) Close() error {
	return s.client.Close()
}
