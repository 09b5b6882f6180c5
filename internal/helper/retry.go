package helper

import (
	"context"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"utbk-tutor/internal/config"
)

// nonTransientRe matches provider replies that will not change on retry: bad
// requests, auth failures and unknown models. The openai client reports
// "status code: 401"; ollama reports the HTTP status line, e.g. "401 Unauthorized".
var nonTransientRe = regexp.MustCompile(`(?i)status code: (400|401|403|404)\b|^(400|401|403|404) |unauthorized|forbidden|invalid api key`)

// IsNonTransient reports whether err is a provider error that retrying cannot fix.
func IsNonTransient(err error) bool {
	return err != nil && nonTransientRe.MatchString(err.Error())
}

// Retrier runs provider calls with bounded exponential backoff.
type Retrier struct {
	maxAttempts uint
	initial     time.Duration
	max         time.Duration
}

func NewRetrier(cfg config.RetryConfig) *Retrier {
	r := &Retrier{
		maxAttempts: cfg.MaxAttempts,
		initial:     cfg.InitialInterval,
		max:         cfg.MaxInterval,
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r
}

// NoRetry runs each call exactly once.
func NoRetry() *Retrier {
	return &Retrier{maxAttempts: 1}
}

func (r *Retrier) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.initial > 0 {
		b.InitialInterval = r.initial
	}
	if r.max > 0 {
		b.MaxInterval = r.max
	}
	return b
}

// Retry calls op until it succeeds, returns a non-transient or
// backoff.Permanent error, the context ends or the attempts run out. The last
// error is returned as is.
func Retry[T any](ctx context.Context, r *Retrier, name string, op func() (T, error)) (T, error) {
	if r == nil {
		r = NoRetry()
	}
	classified := func() (T, error) {
		res, err := op()
		if IsNonTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	return backoff.Retry(ctx, classified,
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("call", name).Dur("retry_in", next).Msg("Provider call failed, retrying")
		}),
	)
}
