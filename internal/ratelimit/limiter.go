package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Result describes the state of a key after a hit.
type Result struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Reached   bool
}

// Limiter counts a hit for key and reports whether the limit is reached.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Fixed is a fixed-window limiter backed by ulule/limiter.
type Fixed struct {
	l *limiter.Limiter
}

// New builds a limiter over store using a rate in ulule's "<limit>-<period>"
// format, e.g. "10-M" for ten hits a minute.
func New(store limiter.Store, formatted string) (*Fixed, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	return &Fixed{l: limiter.New(store, rate)}, nil
}

// NewRedis builds a limiter whose counters live in Redis under prefix.
func NewRedis(client *redis.Client, prefix, formatted string) (*Fixed, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	return New(store, formatted)
}

// Allow implements Limiter.
func (f *Fixed) Allow(ctx context.Context, key string) (Result, error) {
	c, err := f.l.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Limit:     int(c.Limit),
		Remaining: int(c.Remaining),
		Reset:     time.Unix(c.Reset, 0),
		Reached:   c.Reached,
	}, nil
}
