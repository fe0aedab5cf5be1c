// Package moderation defines the data model shared across the batch
// content-moderation pipeline: inbound batch requests, per-image results
// and the aggregate batch response.
package moderation

import (
	"strings"
	"time"

	platformerrors "photosort-server-go/internal/platform/errors"
)

// Image is a single payload inside a moderation batch.
type Image struct {
	ID     string `json:"image_id"`
	Base64 string `json:"image_base64"`
}

// Settings carries optional per-request overrides.
type Settings struct {
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
	Categories          []string `json:"categories,omitempty"`
	MaxConcurrent       int      `json:"max_concurrent,omitempty"`
}

// Request is the batch moderation request after envelope normalisation.
type Request struct {
	BatchID  string    `json:"batch_id,omitempty"`
	Images   []Image   `json:"images"`
	Settings *Settings `json:"settings,omitempty"`
}

// BoundingBox locates a label instance inside the image, in relative coordinates.
type BoundingBox struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
}

// LabelInstance is one concrete occurrence of a label.
type LabelInstance struct {
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// Label is a single moderation finding returned by the external detector.
// Confidence is expressed on a 0-100 scale.
type Label struct {
	Name       string          `json:"name"`
	Confidence float64         `json:"confidence"`
	Parent     string          `json:"parent,omitempty"`
	Instances  []LabelInstance `json:"instances,omitempty"`
}

// Result is the per-image outcome. Every image of a batch yields exactly
// one Result, whether the moderation call succeeded or not.
type Result struct {
	ImageID          string  `json:"image_id"`
	IsNSFW           bool    `json:"is_nsfw"`
	Labels           []Label `json:"labels"`
	ConfidenceScore  float64 `json:"confidence_score"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
	RetryCount       int     `json:"retry_count"`
	Error            string  `json:"error,omitempty"`
	ErrorType        string  `json:"error_type,omitempty"`
}

// RateLimitInfo mirrors the shared limiter state for caller-facing headers.
type RateLimitInfo struct {
	RemainingRequests int       `json:"remaining_requests"`
	ResetTime         time.Time `json:"reset_time"`
}

// BatchResponse is the aggregate answer for a batch request.
type BatchResponse struct {
	BatchID                   string         `json:"batch_id"`
	TotalImages               int            `json:"total_images"`
	Successful                int            `json:"successful"`
	Failed                    int            `json:"failed"`
	Results                   []Result       `json:"results"`
	TotalProcessingTimeMs     int64          `json:"total_processing_time_ms"`
	AverageProcessingTimeMs   float64        `json:"average_processing_time_ms"`
	ThroughputImagesPerSecond float64        `json:"throughput_images_per_second"`
	RateLimit                 *RateLimitInfo `json:"rate_limit_info,omitempty"`
}

// ErrorResult synthesises the failure Result for an image that never
// produced a detector answer.
func ErrorResult(imageID string, retryCount int, elapsed time.Duration, err error) Result {
	msg := ""
	kind := ""
	if err != nil {
		msg = err.Error()
		kind = string(platformerrors.KindOf(err))
	}
	return Result{
		ImageID:          imageID,
		IsNSFW:           false,
		Labels:           []Label{},
		ConfidenceScore:  0,
		ProcessingTimeMs: elapsed.Milliseconds(),
		RetryCount:       retryCount,
		Error:            msg,
		ErrorType:        kind,
	}
}

// EvaluateLabels applies the NSFW decision rule: the image is flagged iff
// some label reaches the confidence threshold and its name or parent matches
// one of the configured categories (case-insensitive substring match, both
// directions). The returned score is the maximum confidence across all labels.
func EvaluateLabels(labels []Label, threshold float64, categories []string) (isNSFW bool, score float64) {
	for _, label := range labels {
		if label.Confidence > score {
			score = label.Confidence
		}
		if label.Confidence < threshold {
			continue
		}
		if matchesCategory(label.Name, categories) || matchesCategory(label.Parent, categories) {
			isNSFW = true
		}
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return isNSFW, score
}

func matchesCategory(name string, categories []string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, category := range categories {
		c := strings.ToLower(strings.TrimSpace(category))
		if c == "" {
			continue
		}
		if strings.Contains(lower, c) || strings.Contains(c, lower) {
			return true
		}
	}
	return false
}
