package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rag-assistant/internal/config"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
)

var tracer = otel.Tracer("rag-assistant/internal/embedding")

// Client wraps a Provider with a per attempt timeout and linear backoff
// between sequential retries.
type Client struct {
	provider    Provider
	cache       *Cache
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithBackoff sets the base delay; the wait after attempt n is n*d.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

func WithCache(cache *Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider:    provider,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		sleep:       Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// NewClientFromConfig applies the timeout and retry settings of cfg.
func NewClientFromConfig(provider Provider, cfg *config.EmbeddingConfig, opts ...Option) *Client {
	base := []Option{
		WithTimeout(cfg.Timeout),
		WithMaxAttempts(cfg.MaxAttempts),
		WithBackoff(cfg.Backoff),
	}
	return NewClient(provider, append(base, opts...)...)
}

// Embed returns the vector for text, trying up to maxAttempts times.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "embedding.Embed", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int("text.length", len(text)))

	if c.cache != nil {
		if vec, ok, err := c.cache.Get(ctx, text); err != nil {
			log.Warn().Err(err).Msg("embedding cache lookup failed")
		} else if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return vec, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		vec, err := c.attempt(ctx, text)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			if c.cache != nil {
				if err := c.cache.Set(ctx, text, vec); err != nil {
					log.Warn().Err(err).Msg("embedding cache store failed")
				}
			}
			return vec, nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			return nil, ctx.Err()
		}

		lastErr = err
		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.maxAttempts).
			Msg("Embedding attempt failed")

		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "embedding failed")
	return nil, &EmbeddingError{Attempts: c.maxAttempts, Err: lastErr}
}

// attempt races one provider call against the timeout. On timeout the call's
// context is cancelled and its result is dropped into a buffered channel.
func (c *Client) attempt(parent context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	done := make(chan result, 1)
	go func() {
		vec, err := c.provider.EmbedQuery(ctx, text)
		done <- result{vec: vec, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, r.err)
			}
			return nil, r.err
		}
		if len(r.vec) == 0 {
			return nil, ErrEmptyEmbedding
		}
		return r.vec, nil
	case <-ctx.Done():
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, ctx.Err()
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
