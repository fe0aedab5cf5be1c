// Package image performs layered validation of inbound image payloads:
// base64 decoding, size bounds, magic-byte signature detection and a deep
// decode of the image header.
package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"photosort-server-go/internal/platform/config"
	platformerrors "photosort-server-go/internal/platform/errors"
	"photosort-server-go/internal/platform/logging"
)

// Validator performs security checks against incoming image payloads.
type Validator struct {
	config *config.SecurityConfig
	logger *logging.Logger
}

// NewValidator constructs a new validator instance.
func NewValidator(cfg *config.SecurityConfig, logger *logging.Logger) *Validator {
	return &Validator{
		config: cfg,
		logger: logger,
	}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
	"bmp":  {0x42, 0x4D},
}

// ValidateBase64 validates a base64 encoded payload for the given image id.
// An optional data-URL prefix is stripped before decoding. The method never
// panics or returns a bare error; failures come back inside the result.
func (v *Validator) ValidateBase64(id, payload string) ValidationResult {
	result := ValidationResult{IsValid: false}

	payload = stripDataURLPrefix(strings.TrimSpace(payload))
	if payload == "" {
		result.Error = platformerrors.New(
			platformerrors.KindValidation, "decode", "missing image payload")
		return result
	}

	if idx := invalidBase64Index(payload); idx >= 0 {
		result.Error = platformerrors.New(
			platformerrors.KindValidation, "decode",
			fmt.Sprintf("invalid base64 character at offset %d", idx))
		result.Risk = "invalid base64 encoding"
		return result
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		result.Error = platformerrors.Wrap(
			platformerrors.KindValidation, "decode", "decode base64", err)
		result.Risk = "invalid base64 encoding"
		return result
	}

	return v.validateBytes(id, raw)
}

func (v *Validator) validateBytes(id string, raw []byte) ValidationResult {
	result := ValidationResult{IsValid: false}

	if len(raw) == 0 {
		result.Error = platformerrors.New(
			platformerrors.KindValidation, "validate", "empty image payload")
		return result
	}

	if v.config.MaxFileSize > 0 && int64(len(raw)) > v.config.MaxFileSize {
		result.Error = platformerrors.New(
			platformerrors.KindValidation, "validate",
			fmt.Sprintf("file size exceeds limit: %d bytes (max %d bytes)",
				len(raw), v.config.MaxFileSize))
		result.Risk = "file too large"
		v.logger.WarnTag("PIPELINE",
			"detected oversized image: id=%s size=%d max_size=%d",
			id, len(raw), v.config.MaxFileSize)
		return result
	}

	format := detectFormat(raw)
	if format == "" {
		header := fmt.Sprintf("%x", raw[:min(len(raw), 16)])
		result.Error = platformerrors.New(
			platformerrors.KindValidation, "validate",
			fmt.Sprintf("unrecognised image signature: header=%s", header))
		result.Risk = "unknown file signature"
		return result
	}

	if !v.isFormatAllowed(format) {
		result.Error = platformerrors.New(
			platformerrors.KindValidation, "validate",
			fmt.Sprintf("unsupported format: %s", format))
		result.Risk = "unapproved format"
		return result
	}

	return v.validateImageDecoding(id, raw, format)
}

// validateImageDecoding decodes the image header to confirm the payload is a
// coherent image and its dimensions are within bounds.
func (v *Validator) validateImageDecoding(id string, raw []byte, format string) ValidationResult {
	result := ValidationResult{IsValid: false}

	cfg, actualFormat, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		result.Error = platformerrors.Wrap(
			platformerrors.KindValidation, "decode", "decode image header", err)
		result.Risk = "corrupted image data"
		return result
	}
	if actualFormat != "" {
		format = actualFormat
	}

	if v.config.MaxWidth > 0 && v.config.MaxHeight > 0 &&
		(cfg.Width > v.config.MaxWidth || cfg.Height > v.config.MaxHeight) {
		result.Error = platformerrors.New(
			platformerrors.KindValidation, "validate",
			fmt.Sprintf("dimensions exceed limit: %dx%d (max %dx%d)",
				cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight))
		result.Risk = "dimensions too large"
		return result
	}

	totalPixels := int64(cfg.Width) * int64(cfg.Height)
	if v.config.MaxPixels > 0 && totalPixels > v.config.MaxPixels {
		result.Error = platformerrors.New(
			platformerrors.KindValidation, "validate",
			fmt.Sprintf("pixel count exceeds limit: %d (max %d)", totalPixels, v.config.MaxPixels))
		result.Risk = "pixel count too high"
		return result
	}

	result.IsValid = true
	result.FileSize = int64(len(raw))
	result.Image = Validated{
		ID:     id,
		Bytes:  raw,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}

	v.logger.DebugTag("PIPELINE",
		"image validation success: id=%s format=%s width=%d height=%d size=%d",
		id, format, cfg.Width, cfg.Height, len(raw))

	return result
}

func (v *Validator) isFormatAllowed(format string) bool {
	if v.config == nil || len(v.config.AllowedFormats) == 0 {
		return true
	}
	format = strings.ToLower(format)
	for _, allowed := range v.config.AllowedFormats {
		if strings.ToLower(allowed) == format {
			return true
		}
	}
	// jpeg and jpg are interchangeable in configs
	if format == "jpeg" {
		return v.isFormatAllowed("jpg")
	}
	return false
}

// detectFormat matches magic-byte signatures for the supported formats.
// WebP requires both the RIFF container header and the WEBP fourcc.
func detectFormat(raw []byte) string {
	for format, signature := range imageSignatures {
		if len(raw) < len(signature) || !bytes.Equal(signature, raw[:len(signature)]) {
			continue
		}
		if format == "webp" {
			if len(raw) < 12 || !bytes.Equal(raw[8:12], []byte("WEBP")) {
				continue
			}
		}
		return format
	}
	return ""
}

// stripDataURLPrefix removes a "data:image/...;base64," prefix when present.
func stripDataURLPrefix(payload string) string {
	if !strings.HasPrefix(payload, "data:") {
		return payload
	}
	if idx := strings.IndexByte(payload, ','); idx >= 0 {
		return payload[idx+1:]
	}
	return payload
}

// invalidBase64Index returns the offset of the first character outside the
// standard base64 alphabet, or -1 if the payload is clean.
func invalidBase64Index(payload string) int {
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '=':
		default:
			return i
		}
	}
	return -1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
