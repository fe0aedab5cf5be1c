// Package pipeline runs moderation batches end to end: validation, bounded
// concurrent calls to the external detector, retry with backoff, and result
// merging. The rate limiter, circuit breaker and adaptive concurrency
// manager are shared singletons injected at construction.
package pipeline

import (
	"context"
	"math/rand"
	"time"

	"photosort-server-go/internal/core/breaker"
	"photosort-server-go/internal/core/providers/detector"
	"photosort-server-go/internal/core/ratelimit"
	domainimage "photosort-server-go/internal/domain/image"
	"photosort-server-go/internal/domain/moderation"
	platformerrors "photosort-server-go/internal/platform/errors"
	"photosort-server-go/internal/platform/logging"
	"photosort-server-go/internal/platform/metrics"
)

// Executor runs the moderation call for one image, layering the rate
// limiter, the circuit breaker, the per-image timeout and retry with
// exponential backoff around the detector.
type Executor struct {
	limiter  *ratelimit.SlidingWindow
	breaker  *breaker.CircuitBreaker
	detector detector.Detector
	logger   *logging.Logger

	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	imageTimeout time.Duration

	// sleep is context-aware and replaceable in tests.
	sleep func(context.Context, time.Duration) error
}

// ExecutorOptions bundles the executor collaborators and tuning.
type ExecutorOptions struct {
	Limiter      *ratelimit.SlidingWindow
	Breaker      *breaker.CircuitBreaker
	Detector     detector.Detector
	Logger       *logging.Logger
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ImageTimeout time.Duration
}

// NewExecutor builds an executor from the shared pipeline collaborators.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = 8 * time.Second
	}
	return &Executor{
		limiter:      opts.Limiter,
		breaker:      opts.Breaker,
		detector:     opts.Detector,
		logger:       opts.Logger,
		maxRetries:   opts.MaxRetries,
		baseDelay:    opts.BaseDelay,
		maxDelay:     opts.MaxDelay,
		imageTimeout: opts.ImageTimeout,
		sleep:        sleepCtx,
	}
}

// ModerateImage runs the full retry loop for one validated image and always
// returns a Result; failures after the final attempt become the result's
// error field, never a panic or a dropped image.
func (e *Executor) ModerateImage(ctx context.Context, img domainimage.Validated, threshold float64, categories []string) moderation.Result {
	start := time.Now()
	var lastErr error
	retries := 0

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			retries = attempt
			metrics.RetriesTotal.Inc()
			delay := e.backoffDelay(attempt)
			e.logger.DebugTag("PIPELINE", "retrying image %s (attempt %d/%d, backoff %v)",
				img.ID, attempt, e.maxRetries, delay)
			if err := e.sleep(ctx, delay); err != nil {
				lastErr = platformerrors.Wrap(platformerrors.KindTimeout, "moderate",
					"batch deadline reached while backing off", err)
				break
			}
		}

		labels, err := e.attempt(ctx, img, threshold)
		if err == nil {
			isNSFW, score := moderation.EvaluateLabels(labels, threshold, categories)
			elapsed := time.Since(start)
			metrics.ImageDuration.Observe(elapsed.Seconds())
			return moderation.Result{
				ImageID:          img.ID,
				IsNSFW:           isNSFW,
				Labels:           labels,
				ConfidenceScore:  score,
				ProcessingTimeMs: elapsed.Milliseconds(),
				RetryCount:       retries,
			}
		}

		lastErr = err
		if !platformerrors.IsRetryable(err) {
			break
		}
	}

	elapsed := time.Since(start)
	metrics.ImageDuration.Observe(elapsed.Seconds())
	e.logger.WarnTag("PIPELINE", "image %s failed after %d retries: %v", img.ID, retries, lastErr)
	return moderation.ErrorResult(img.ID, retries, elapsed, lastErr)
}

// attempt makes exactly one guarded call to the detector: wait for a rate
// limit slot, record the call, then run it through the breaker under the
// per-image deadline.
func (e *Executor) attempt(ctx context.Context, img domainimage.Validated, threshold float64) ([]moderation.Label, error) {
	if err := e.limiter.WaitForAvailability(ctx); err != nil {
		return nil, err
	}
	e.limiter.RecordRequest()

	callCtx, cancel := context.WithTimeout(ctx, e.imageTimeout)
	defer cancel()

	var labels []moderation.Label
	err := e.breaker.Execute(callCtx, func(ctx context.Context) error {
		var detectErr error
		labels, detectErr = e.detector.DetectModerationLabels(ctx, img.Bytes, img.Format, threshold)
		return detectErr
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// backoffDelay computes min(base * 2^(attempt-1) + jitter, cap), with the
// jitter drawn uniformly from [0, base).
func (e *Executor) backoffDelay(attempt int) time.Duration {
	delay := e.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.maxDelay {
			return e.maxDelay
		}
	}
	jitter := time.Duration(rand.Int63n(int64(e.baseDelay)))
	if delay+jitter > e.maxDelay {
		return e.maxDelay
	}
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
