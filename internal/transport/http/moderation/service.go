// Package moderation exposes the batch moderation pipeline over HTTP: the
// moderate endpoint accepting both the batch envelope and the legacy
// single-image shape, and the health endpoint.
package moderation

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"photosort-server-go/internal/core/adaptive"
	"photosort-server-go/internal/core/breaker"
	"photosort-server-go/internal/core/providers/detector"
	"photosort-server-go/internal/core/ratelimit"
	"photosort-server-go/internal/domain/moderation"
	platformerrors "photosort-server-go/internal/platform/errors"
	"photosort-server-go/internal/platform/logging"
	httptransport "photosort-server-go/internal/transport/http"
)

// BatchProcessor is the pipeline behaviour the HTTP layer depends on.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, req moderation.Request) (*moderation.BatchResponse, error)
}

// Service is the moderation HTTP transport.
type Service struct {
	cfg       *serviceConfig
	logger    *logging.Logger
	processor BatchProcessor
	detector  detector.Detector
	limiter   *ratelimit.SlidingWindow
	breaker   *breaker.CircuitBreaker
	manager   *adaptive.Manager
	started   time.Time
}

// serviceConfig holds the subset of configuration the handlers report or enforce.
type serviceConfig struct {
	ProviderType        string
	ModelName           string
	MaxFileSize         int64
	AllowedFormats      []string
	ConfidenceThreshold float64
}

// Options bundles the service collaborators.
type Options struct {
	ProviderType        string
	ModelName           string
	MaxFileSize         int64
	AllowedFormats      []string
	ConfidenceThreshold float64

	Logger    *logging.Logger
	Processor BatchProcessor
	Detector  detector.Detector
	Limiter   *ratelimit.SlidingWindow
	Breaker   *breaker.CircuitBreaker
	Manager   *adaptive.Manager
}

// NewService creates the moderation HTTP service.
func NewService(opts Options) (*Service, error) {
	if opts.Processor == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "moderation.new",
			"batch processor is required")
	}
	if opts.Logger == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "moderation.new",
			"logger is required")
	}
	return &Service{
		cfg: &serviceConfig{
			ProviderType:        opts.ProviderType,
			ModelName:           opts.ModelName,
			MaxFileSize:         opts.MaxFileSize,
			AllowedFormats:      opts.AllowedFormats,
			ConfidenceThreshold: opts.ConfidenceThreshold,
		},
		logger:    opts.Logger,
		processor: opts.Processor,
		detector:  opts.Detector,
		limiter:   opts.Limiter,
		breaker:   opts.Breaker,
		manager:   opts.Manager,
		started:   time.Now(),
	}, nil
}

// Register mounts the moderation routes on the API group.
func (s *Service) Register(router *gin.RouterGroup) {
	router.POST("/moderate", s.handleModerate)
	router.GET("/health", s.handleHealth)
	s.logger.InfoTag("HTTP", "moderation routes registered")
}

// moderateEnvelope accepts both request shapes: the batch envelope and the
// legacy single-image body.
type moderateEnvelope struct {
	BatchID  string               `json:"batch_id"`
	Images   []moderation.Image   `json:"images"`
	Settings *moderation.Settings `json:"settings"`

	ImageBase64 string `json:"image_base64"`
	ImageID     string `json:"image_id"`
}

func (s *Service) handleModerate(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest,
			"could not read request body", err.Error(), platformerrors.KindValidation)
		return
	}

	var env moderateEnvelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest,
			"malformed JSON body", err.Error(), platformerrors.KindValidation)
		return
	}

	if len(env.Images) == 0 && env.ImageBase64 != "" {
		s.moderateSingle(c, env)
		return
	}
	s.moderateBatch(c, env)
}

// legacyResult is the pre-batch response shape: the result fields flat at the
// top level with the limiter snapshot carried alongside.
type legacyResult struct {
	moderation.Result
	RateLimit *moderation.RateLimitInfo `json:"rate_limit_info,omitempty"`
}

// moderateSingle keeps the pre-batch contract: one image in, a flat result
// out, with the HTTP status reflecting the per-image outcome.
func (s *Service) moderateSingle(c *gin.Context, env moderateEnvelope) {
	req := moderation.Request{
		Images: []moderation.Image{{ID: env.ImageID, Base64: env.ImageBase64}},
	}

	resp, err := s.processor.ProcessBatch(c.Request.Context(), req)
	if err != nil {
		s.respondPipelineError(c, err)
		return
	}

	result := resp.Results[0]
	s.setRateLimitHeaders(c, resp.RateLimit)

	status := http.StatusOK
	if result.Error != "" {
		status = httptransport.StatusForKind(platformerrors.Kind(result.ErrorType))
		if status == http.StatusInternalServerError {
			// Dependency failures on a single image stay a 200 with the
			// error folded into the result, like inside a batch.
			status = http.StatusOK
		}
		if status == http.StatusTooManyRequests {
			s.setRetryAfter(c)
		}
	}
	c.JSON(status, legacyResult{Result: result, RateLimit: resp.RateLimit})
}

func (s *Service) moderateBatch(c *gin.Context, env moderateEnvelope) {
	if len(env.Images) == 0 {
		httptransport.RespondError(c, http.StatusBadRequest,
			"images array is required", "", platformerrors.KindValidation)
		return
	}

	req := moderation.Request{
		BatchID:  env.BatchID,
		Images:   env.Images,
		Settings: env.Settings,
	}

	resp, err := s.processor.ProcessBatch(c.Request.Context(), req)
	if err != nil {
		s.respondPipelineError(c, err)
		return
	}

	s.setRateLimitHeaders(c, resp.RateLimit)
	c.JSON(http.StatusOK, resp)
}

func (s *Service) respondPipelineError(c *gin.Context, err error) {
	kind := platformerrors.KindOf(err)
	status := httptransport.StatusForKind(kind)
	if status == http.StatusTooManyRequests {
		s.setRetryAfter(c)
	}
	httptransport.RespondError(c, status, "moderation request failed", err.Error(), kind)
}

func (s *Service) setRateLimitHeaders(c *gin.Context, info *moderation.RateLimitInfo) {
	if info == nil {
		return
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(info.RemainingRequests))
	c.Header("X-RateLimit-Reset", info.ResetTime.UTC().Format(time.RFC3339))
}

func (s *Service) setRetryAfter(c *gin.Context) {
	if s.limiter == nil {
		return
	}
	wait := time.Until(s.limiter.ResetTime())
	if wait < 0 {
		wait = 0
	}
	c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
}

func (s *Service) handleHealth(c *gin.Context) {
	status := "ok"

	credentials := s.detector != nil && s.detector.CredentialsConfigured()
	if !credentials {
		status = "degraded"
	}

	breakerState := ""
	consecutiveFailures := 0
	if s.breaker != nil {
		state := s.breaker.State()
		breakerState = state.String()
		consecutiveFailures = s.breaker.ConsecutiveFailures()
		if state == breaker.StateOpen {
			status = "degraded"
		}
	}

	body := gin.H{
		"status":         status,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"provider": gin.H{
			"type":                   s.cfg.ProviderType,
			"model":                  s.cfg.ModelName,
			"credentials_configured": credentials,
		},
		"circuit_breaker": gin.H{
			"state":                breakerState,
			"consecutive_failures": consecutiveFailures,
		},
		"limits": gin.H{
			"max_file_size":        s.cfg.MaxFileSize,
			"allowed_formats":      s.cfg.AllowedFormats,
			"confidence_threshold": s.cfg.ConfidenceThreshold,
		},
	}
	if s.manager != nil {
		snapshot := s.manager.Snapshot()
		body["concurrency"] = gin.H{
			"level":           snapshot.Concurrency,
			"success_rate":    snapshot.SuccessRate,
			"avg_response_ms": snapshot.AvgResponseMs,
		}
	}
	if s.limiter != nil {
		body["rate_limit"] = gin.H{
			"remaining_requests": s.limiter.RemainingRequests(),
			"reset_time":         s.limiter.ResetTime().UTC().Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, body)
}
