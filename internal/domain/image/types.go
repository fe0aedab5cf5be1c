package image

// Validated is a decoded, size- and signature-checked image payload. It is
// owned by the validation phase and must not be retained once the external
// moderation call for it completes.
type Validated struct {
	ID     string
	Bytes  []byte
	Format string
	Width  int
	Height int
}

// ValidationResult captures the outcome of payload validation. Failures are
// data, not panics: the caller decides how to fold them into batch results.
type ValidationResult struct {
	IsValid  bool
	Image    Validated
	FileSize int64
	Error    error
	Risk     string
}
