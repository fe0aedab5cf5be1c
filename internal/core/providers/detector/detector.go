// Package detector wraps the external "detect moderation labels" dependency
// behind a narrow contract: raw image bytes plus a minimum confidence in,
// typed labels out. Vendor payloads are parsed at this boundary; nothing
// loosely typed crosses into the pipeline.
package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"photosort-server-go/internal/domain/moderation"
	platformerrors "photosort-server-go/internal/platform/errors"
)

// Detector is the opaque moderation collaborator. Implementations must
// return classified errors: transient upstream failures are marked
// retryable, credential and request errors are not.
type Detector interface {
	// Name identifies the provider type for logs and health reports.
	Name() string
	// DetectModerationLabels analyses the image and returns every label at
	// or above minConfidence (0-100 scale).
	DetectModerationLabels(ctx context.Context, image []byte, format string, minConfidence float64) ([]moderation.Label, error)
	// CredentialsConfigured reports whether the dependency can be called.
	CredentialsConfigured() bool
}

// labelPayload mirrors the provider wire shape before it is converted into
// the typed domain label.
type labelPayload struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Parent     string  `json:"parent,omitempty"`
	Instances  []struct {
		Confidence  float64 `json:"confidence"`
		BoundingBox struct {
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
			Left   float64 `json:"left"`
			Top    float64 `json:"top"`
		} `json:"bounding_box"`
	} `json:"instances,omitempty"`
}

// parseLabels decodes the provider's JSON label array, tolerating markdown
// code fences around the payload, and drops labels below minConfidence.
func parseLabels(raw string, minConfidence float64) ([]moderation.Label, error) {
	raw = stripCodeFence(raw)

	var payload []labelPayload
	if err := sonic.UnmarshalString(raw, &payload); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindDependency, "parse",
			"malformed label payload from provider", err)
	}

	labels := make([]moderation.Label, 0, len(payload))
	for _, p := range payload {
		if p.Name == "" {
			continue
		}
		confidence := clampConfidence(p.Confidence)
		if confidence < minConfidence {
			continue
		}
		label := moderation.Label{
			Name:       p.Name,
			Confidence: confidence,
			Parent:     p.Parent,
		}
		for _, inst := range p.Instances {
			label.Instances = append(label.Instances, moderation.LabelInstance{
				Confidence: clampConfidence(inst.Confidence),
				BoundingBox: moderation.BoundingBox{
					Width:  inst.BoundingBox.Width,
					Height: inst.BoundingBox.Height,
					Left:   inst.BoundingBox.Left,
					Top:    inst.BoundingBox.Top,
				},
			})
		}
		labels = append(labels, label)
	}
	return labels, nil
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

// dataURL renders the inline image reference the vision API expects.
func dataURL(format string, base64Image string) string {
	if format == "" {
		format = "jpeg"
	}
	return fmt.Sprintf("data:image/%s;base64,%s", format, base64Image)
}
