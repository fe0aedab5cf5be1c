package detector

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"strings"

	"github.com/sashabaranov/go-openai"

	"photosort-server-go/internal/domain/moderation"
	"photosort-server-go/internal/platform/config"
	platformerrors "photosort-server-go/internal/platform/errors"
	"photosort-server-go/internal/platform/logging"
)

const visionPrompt = `You are an image content moderation system. Analyse the image and return ONLY a JSON array of detected content labels, no prose. Each element: {"name": string, "confidence": number 0-100, "parent": string (optional), "instances": [{"confidence": number, "bounding_box": {"width": number, "height": number, "left": number, "top": number}}] (optional)}. Report labels such as "Explicit Nudity", "Suggestive", "Violence", "Visually Disturbing" with your confidence. Return [] if nothing applies.`

// OpenAIDetector calls an OpenAI-compatible vision endpoint and parses the
// returned label JSON. It is safe for concurrent use.
type OpenAIDetector struct {
	config *config.ProviderConfig
	logger *logging.Logger
	client *openai.Client
}

// NewOpenAIDetector builds the detector from the moderation provider config.
func NewOpenAIDetector(cfg *config.ProviderConfig, logger *logging.Logger) (*OpenAIDetector, error) {
	if cfg == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "detector.new",
			"provider config is required")
	}

	d := &OpenAIDetector{config: cfg, logger: logger}
	if cfg.APIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		d.client = openai.NewClientWithConfig(clientConfig)
	}
	return d, nil
}

func (d *OpenAIDetector) Name() string { return "openai" }

func (d *OpenAIDetector) CredentialsConfigured() bool {
	return d.client != nil
}

// DetectModerationLabels sends the image inline as a data URL and parses the
// model's JSON reply into typed labels.
func (d *OpenAIDetector) DetectModerationLabels(ctx context.Context, image []byte, format string, minConfidence float64) ([]moderation.Label, error) {
	const op = "detector.detect"

	if d.client == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, op,
			"moderation provider API key is not configured")
	}

	encoded := base64.StdEncoding.EncodeToString(image)
	req := openai.ChatCompletionRequest{
		Model: d.config.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: visionPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Moderate this image.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: dataURL(format, encoded),
						},
					},
				},
			},
		},
		Temperature: 0,
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, platformerrors.New(platformerrors.KindDependency, op,
			"provider returned no choices")
	}

	labels, err := parseLabels(resp.Choices[0].Message.Content, minConfidence)
	if err != nil {
		return nil, err
	}

	d.logger.DebugTag("PROVIDER", "detected %d labels (model=%s)", len(labels), d.config.ModelName)
	return labels, nil
}

// classify converts a vendor or transport error into a tagged error whose
// retryable flag drives the retry executor. Throttling, server-side faults
// and network interruptions are transient; credential and request errors
// are permanent.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		wrapped := platformerrors.Wrap(platformerrors.KindTimeout, op, "provider call timed out", err)
		wrapped.Retryable = true
		return wrapped
	}
	if errors.Is(err, context.Canceled) {
		return platformerrors.Wrap(platformerrors.KindTimeout, op, "provider call canceled", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 408, 429, 500, 502, 503, 504:
			return platformerrors.Transient(op, "provider is throttling or unavailable", err)
		default:
			return platformerrors.Wrap(platformerrors.KindDependency, op,
				"provider rejected the request", err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return platformerrors.Transient(op, "network timeout calling provider", err)
	}

	msg := err.Error()
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected EOF") {
		return platformerrors.Transient(op, "connection to provider interrupted", err)
	}

	return platformerrors.Wrap(platformerrors.KindDependency, op, "provider call failed", err)
}
