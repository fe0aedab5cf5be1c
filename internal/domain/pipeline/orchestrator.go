package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"photosort-server-go/internal/core/adaptive"
	"photosort-server-go/internal/core/ratelimit"
	"photosort-server-go/internal/domain/eventbus"
	domainimage "photosort-server-go/internal/domain/image"
	"photosort-server-go/internal/domain/moderation"
	"photosort-server-go/internal/domain/moderation/cache"
	"photosort-server-go/internal/platform/config"
	platformerrors "photosort-server-go/internal/platform/errors"
	"photosort-server-go/internal/platform/logging"
	"photosort-server-go/internal/platform/metrics"
)

// Orchestrator drives a batch through its three phases: validate every
// payload, moderate the valid ones in adaptively sized concurrent chunks,
// then merge per-image results back into the original input order.
type Orchestrator struct {
	cfg       *config.ModerationConfig
	validator *domainimage.Validator
	executor  *Executor
	manager   *adaptive.Manager
	limiter   *ratelimit.SlidingWindow
	cache     cache.Store
	bus       *eventbus.Bus
	logger    *logging.Logger

	pause func(context.Context, time.Duration) error
}

// OrchestratorOptions bundles the orchestrator collaborators. Cache and Bus
// are optional.
type OrchestratorOptions struct {
	Config    *config.ModerationConfig
	Validator *domainimage.Validator
	Executor  *Executor
	Manager   *adaptive.Manager
	Limiter   *ratelimit.SlidingWindow
	Cache     cache.Store
	Bus       *eventbus.Bus
	Logger    *logging.Logger
}

// NewOrchestrator wires the batch pipeline.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		cfg:       opts.Config,
		validator: opts.Validator,
		executor:  opts.Executor,
		manager:   opts.Manager,
		limiter:   opts.Limiter,
		cache:     opts.Cache,
		bus:       opts.Bus,
		logger:    opts.Logger,
		pause:     sleepCtx,
	}
}

// job is one valid image awaiting moderation, pinned to its input position.
type job struct {
	index int
	img   domainimage.Validated
	key   string
}

// ProcessBatch moderates every image of the request and returns exactly one
// result per input image, in input order. Per-image failures are folded into
// their result; only an empty batch fails the request as a whole.
func (o *Orchestrator) ProcessBatch(ctx context.Context, req moderation.Request) (*moderation.BatchResponse, error) {
	if len(req.Images) == 0 {
		return nil, platformerrors.New(platformerrors.KindValidation, "batch",
			"batch contains no images")
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	monitor := NewMonitor()
	batchCtx, cancel := context.WithTimeout(ctx, o.cfg.Batch.BatchTimeout())
	defer cancel()

	threshold, categories, maxConcurrent := o.effectiveSettings(req.Settings)
	o.logger.InfoTag("PIPELINE", "batch %s: %d images (threshold=%.0f)",
		batchID, len(req.Images), threshold)

	results := make([]moderation.Result, len(req.Images))
	pending := o.validatePhase(batchCtx, req.Images, results)
	monitor.Checkpoint("validated")

	o.processPhase(batchCtx, pending, results, threshold, categories, maxConcurrent)
	monitor.Checkpoint("processed")

	response := o.mergePhase(batchID, results, monitor)
	metrics.BatchesTotal.Inc()

	if o.bus != nil {
		o.bus.Publish(eventbus.TopicBatchCompleted, eventbus.BatchCompleted{
			BatchID:     batchID,
			TotalImages: response.TotalImages,
			Successful:  response.Successful,
			Failed:      response.Failed,
			ElapsedMs:   response.TotalProcessingTimeMs,
		})
	}

	o.logger.InfoTag("PIPELINE", "batch %s done: %d ok, %d failed in %dms",
		batchID, response.Successful, response.Failed, response.TotalProcessingTimeMs)
	return response, nil
}

// effectiveSettings folds optional per-request overrides over the configured
// detection defaults.
func (o *Orchestrator) effectiveSettings(s *moderation.Settings) (threshold float64, categories []string, maxConcurrent int) {
	threshold = o.cfg.Detection.ConfidenceThreshold
	categories = o.cfg.Detection.Categories
	if s == nil {
		return threshold, categories, 0
	}
	if s.ConfidenceThreshold > 0 {
		threshold = s.ConfidenceThreshold
	}
	if len(s.Categories) > 0 {
		categories = s.Categories
	}
	return threshold, categories, s.MaxConcurrent
}

// validatePhase checks every payload concurrently, fills failure results in
// place, and returns the surviving jobs in input order. Cached results
// short-circuit here too.
func (o *Orchestrator) validatePhase(ctx context.Context, images []moderation.Image, results []moderation.Result) []job {
	checks := make([]domainimage.ValidationResult, len(images))
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, img moderation.Image) {
			defer wg.Done()
			defer func() { <-sem }()
			checks[i] = o.validator.ValidateBase64(img.ID, img.Base64)
		}(i, img)
	}
	wg.Wait()

	pending := make([]job, 0, len(images))
	for i, img := range images {
		vr := checks[i]
		if !vr.IsValid {
			results[i] = moderation.ErrorResult(img.ID, 0, 0, vr.Error)
			metrics.ImagesTotal.WithLabelValues("validation_failed").Inc()
			continue
		}

		key := cache.Key(vr.Image.Bytes)
		if o.cache != nil {
			if cached, ok, err := o.cache.Get(ctx, key); err == nil && ok {
				metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
				cached.ImageID = img.ID
				results[i] = cached
				metrics.ImagesTotal.WithLabelValues(outcomeOf(cached)).Inc()
				continue
			}
			metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
		}

		pending = append(pending, job{index: i, img: vr.Image, key: key})
	}
	return pending
}

// processPhase moderates the pending jobs in chunks sized by the adaptive
// manager, feeding chunk outcomes back into it between chunks.
func (o *Orchestrator) processPhase(ctx context.Context, pending []job, results []moderation.Result, threshold float64, categories []string, maxConcurrent int) {
	processed := 0
	hintEvery := o.cfg.Batch.MemoryHintEvery

	for start := 0; start < len(pending); {
		size := o.manager.Concurrency()
		if maxConcurrent > 0 && size > maxConcurrent {
			size = maxConcurrent
		}
		if size < 1 {
			size = 1
		}
		end := start + size
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		var wg sync.WaitGroup
		var successCount, totalMs int64
		for _, j := range chunk {
			wg.Add(1)
			go func(j job) {
				defer wg.Done()
				res := o.executor.ModerateImage(ctx, j.img, threshold, categories)
				results[j.index] = res
				atomic.AddInt64(&totalMs, res.ProcessingTimeMs)
				if res.Error == "" {
					atomic.AddInt64(&successCount, 1)
					if o.cache != nil {
						_ = o.cache.Set(ctx, j.key, res)
					}
				}
				metrics.ImagesTotal.WithLabelValues(outcomeOf(res)).Inc()
			}(j)
		}
		wg.Wait()

		avgMs := float64(totalMs) / float64(len(chunk))
		o.manager.UpdateMetrics(int(successCount), len(chunk), avgMs)
		metrics.ConcurrencyLevel.Set(float64(o.manager.Concurrency()))

		processed += len(chunk)
		if hintEvery > 0 && processed%hintEvery == 0 {
			o.logger.DebugTag("PIPELINE", "processed %d images, rss=%.1fMB", processed, rssMB())
		}

		start = end
		if start < len(pending) {
			if err := o.pause(ctx, o.cfg.Batch.ChunkPause()); err != nil {
				// Batch deadline hit between chunks; remaining calls will
				// fail fast and fold into their results.
				o.logger.WarnTag("PIPELINE", "batch deadline reached after %d images", processed)
			}
		}
	}
}

// mergePhase aggregates the per-image results into the batch response.
func (o *Orchestrator) mergePhase(batchID string, results []moderation.Result, monitor *Monitor) *moderation.BatchResponse {
	successful := 0
	var sumMs int64
	for _, r := range results {
		if r.Error == "" {
			successful++
		}
		sumMs += r.ProcessingTimeMs
	}

	total := len(results)
	response := &moderation.BatchResponse{
		BatchID:                   batchID,
		TotalImages:               total,
		Successful:                successful,
		Failed:                    total - successful,
		Results:                   results,
		TotalProcessingTimeMs:     monitor.ElapsedMs(),
		AverageProcessingTimeMs:   float64(sumMs) / float64(total),
		ThroughputImagesPerSecond: monitor.Throughput(total),
	}
	if o.limiter != nil {
		response.RateLimit = &moderation.RateLimitInfo{
			RemainingRequests: o.limiter.RemainingRequests(),
			ResetTime:         o.limiter.ResetTime(),
		}
	}
	return response
}

func outcomeOf(r moderation.Result) string {
	switch {
	case r.Error != "":
		return "error"
	case r.IsNSFW:
		return "flagged"
	default:
		return "ok"
	}
}
