package moderation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"photosort-server-go/internal/core/adaptive"
	"photosort-server-go/internal/core/breaker"
	"photosort-server-go/internal/core/ratelimit"
	domainmod "photosort-server-go/internal/domain/moderation"
	"photosort-server-go/internal/platform/config"
	platformerrors "photosort-server-go/internal/platform/errors"
	"photosort-server-go/internal/platform/logging"
	httptransport "photosort-server-go/internal/transport/http"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(logging.Config{
		Level:    "error",
		Dir:      t.TempDir(),
		Filename: "test.log",
	})
	if err != nil {
		t.Fatalf("create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// fakeProcessor scripts the pipeline answer for handler tests.
type fakeProcessor struct {
	fn func(req domainmod.Request) (*domainmod.BatchResponse, error)
}

func (f *fakeProcessor) ProcessBatch(_ context.Context, req domainmod.Request) (*domainmod.BatchResponse, error) {
	return f.fn(req)
}

type fakeDetector struct {
	configured bool
}

func (f *fakeDetector) Name() string                { return "fake" }
func (f *fakeDetector) CredentialsConfigured() bool { return f.configured }
func (f *fakeDetector) DetectModerationLabels(context.Context, []byte, string, float64) ([]domainmod.Label, error) {
	return nil, nil
}

func okBatchResponse(req domainmod.Request) *domainmod.BatchResponse {
	results := make([]domainmod.Result, len(req.Images))
	for i, img := range req.Images {
		results[i] = domainmod.Result{
			ImageID:         img.ID,
			IsNSFW:          true,
			ConfidenceScore: 95,
			Labels:          []domainmod.Label{{Name: "Explicit Nudity", Confidence: 95}},
		}
	}
	return &domainmod.BatchResponse{
		BatchID:     req.BatchID,
		TotalImages: len(req.Images),
		Successful:  len(req.Images),
		Results:     results,
		RateLimit: &domainmod.RateLimitInfo{
			RemainingRequests: 7,
			ResetTime:         time.Now().Add(time.Second),
		},
	}
}

func newTestEngine(t *testing.T, processor BatchProcessor, det *fakeDetector) *gin.Engine {
	t.Helper()

	router, err := httptransport.Build(httptransport.Options{
		Config: config.DefaultConfig(),
		Logger: testLogger(t),
	})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}

	limiter := ratelimit.NewSlidingWindow(10, time.Second)
	svc, err := NewService(Options{
		ProviderType:        "openai",
		ModelName:           "gpt-4o-mini",
		MaxFileSize:         5 * 1024 * 1024,
		AllowedFormats:      []string{"jpeg", "png", "gif", "webp", "bmp"},
		ConfidenceThreshold: 80,
		Logger:              testLogger(t),
		Processor:           processor,
		Detector:            det,
		Limiter:             limiter,
		Breaker:             breaker.New(5, 30*time.Second),
		Manager:             adaptive.NewManager(2, 4, 8, 2*time.Second),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Register(router.API)
	return router.Engine
}

func post(t *testing.T, engine *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/moderate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestModerate_LegacySingleImageFlatShape(t *testing.T) {
	processor := &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		if len(req.Images) != 1 || req.Images[0].ID != "photo-7" {
			t.Errorf("unexpected request: %+v", req)
		}
		return okBatchResponse(req), nil
	}}
	engine := newTestEngine(t, processor, &fakeDetector{configured: true})

	w := post(t, engine, `{"image_base64": "QUJD", "image_id": "photo-7"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// The legacy contract is a flat result object, not a batch envelope.
	var result domainmod.Result
	if err := sonic.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ImageID != "photo-7" || !result.IsNSFW {
		t.Errorf("unexpected result: %+v", result)
	}
	if strings.Contains(w.Body.String(), `"results"`) {
		t.Error("single-image response must not be wrapped in the batch envelope")
	}

	// The limiter snapshot rides along inside the flat body too.
	var withInfo struct {
		RateLimit *domainmod.RateLimitInfo `json:"rate_limit_info"`
	}
	if err := sonic.Unmarshal(w.Body.Bytes(), &withInfo); err != nil {
		t.Fatalf("decode rate limit info: %v", err)
	}
	if withInfo.RateLimit == nil || withInfo.RateLimit.RemainingRequests != 7 {
		t.Errorf("rate_limit_info missing or wrong: %+v", withInfo.RateLimit)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "7" {
		t.Errorf("missing rate limit header, got %q", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestModerate_LegacyValidationFailureIs400(t *testing.T) {
	processor := &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		resp := okBatchResponse(req)
		resp.Results[0] = domainmod.ErrorResult(req.Images[0].ID, 0, 0,
			platformerrors.New(platformerrors.KindValidation, "decode", "decode base64"))
		resp.Successful = 0
		resp.Failed = 1
		return resp, nil
	}}
	engine := newTestEngine(t, processor, &fakeDetector{configured: true})

	w := post(t, engine, `{"image_base64": "!!!", "image_id": "bad"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var result domainmod.Result
	if err := sonic.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Error == "" || result.ErrorType != "validation" {
		t.Errorf("expected validation error result, got %+v", result)
	}
}

func TestModerate_BatchEnvelope(t *testing.T) {
	processor := &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		return okBatchResponse(req), nil
	}}
	engine := newTestEngine(t, processor, &fakeDetector{configured: true})

	w := post(t, engine, `{"batch_id": "b-1", "images": [
		{"image_id": "a", "image_base64": "QUJD"},
		{"image_id": "b", "image_base64": "QUJD"}
	]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp domainmod.BatchResponse
	if err := sonic.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BatchID != "b-1" || resp.TotalImages != 2 || len(resp.Results) != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing rate limit reset header")
	}
}

func TestModerate_MalformedJSON(t *testing.T) {
	engine := newTestEngine(t, &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		t.Error("processor must not run for malformed bodies")
		return nil, nil
	}}, &fakeDetector{configured: true})

	w := post(t, engine, `{"images": [`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var body httptransport.ErrorBody
	if err := sonic.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Type != "validation" || body.RequestID == "" {
		t.Errorf("unexpected error body: %+v", body)
	}
}

func TestModerate_EmptyImages(t *testing.T) {
	engine := newTestEngine(t, &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		t.Error("processor must not run for an empty batch")
		return nil, nil
	}}, &fakeDetector{configured: true})

	w := post(t, engine, `{"images": []}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestModerate_RateLimitedEnvelope(t *testing.T) {
	processor := &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		return nil, platformerrors.New(platformerrors.KindRateLimit, "wait", "window exhausted")
	}}
	engine := newTestEngine(t, processor, &fakeDetector{configured: true})

	w := post(t, engine, `{"images": [{"image_id": "a", "image_base64": "QUJD"}]}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	var body httptransport.ErrorBody
	if err := sonic.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Type != "rate_limit" {
		t.Errorf("unexpected error type: %s", body.Type)
	}
}

func TestModerate_CircuitOpenEnvelope(t *testing.T) {
	processor := &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		return nil, platformerrors.New(platformerrors.KindBreaker, "admit", "failing fast")
	}}
	engine := newTestEngine(t, processor, &fakeDetector{configured: true})

	w := post(t, engine, `{"images": [{"image_id": "a", "image_base64": "QUJD"}]}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHealth(t *testing.T) {
	engine := newTestEngine(t, &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		return okBatchResponse(req), nil
	}}, &fakeDetector{configured: true})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := sonic.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected ok status, got %v", body["status"])
	}
	provider, _ := body["provider"].(map[string]any)
	if provider == nil || provider["credentials_configured"] != true {
		t.Errorf("unexpected provider block: %v", body["provider"])
	}
}

func TestHealth_DegradedWithoutCredentials(t *testing.T) {
	engine := newTestEngine(t, &fakeProcessor{fn: func(req domainmod.Request) (*domainmod.BatchResponse, error) {
		return okBatchResponse(req), nil
	}}, &fakeDetector{configured: false})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var body map[string]any
	if err := sonic.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", body["status"])
	}
}
