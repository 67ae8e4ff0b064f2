package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrPrecondition           = errors.New("precondition violation")
	ErrProviderAuth           = errors.New("provider authentication failed")
	ErrProviderQuota          = errors.New("provider quota exhausted")
	ErrProviderRateLimited    = errors.New("provider rate limited")
	ErrProviderServer         = errors.New("provider server error")
	ErrProviderMalformed      = errors.New("provider returned a malformed response")
	ErrProviderRejected       = errors.New("provider rejected the request")
	ErrJobTimeout             = errors.New("generation job timed out")
	ErrJobFailed              = errors.New("generation job failed")
	ErrJobCancelled           = errors.New("job cancelled")
	ErrUnsupportedAssetFormat = errors.New("unsupported asset format")
	ErrInvalidAsset           = errors.New("invalid asset")
	ErrStorageCorruption      = errors.New("storage corruption")
	ErrInterrupted            = errors.New("operation interrupted by restart")
)

// Failure kinds recorded on failed dreams.
const (
	KindPrecondition      = "precondition_violation"
	KindProviderAuth      = "provider_auth"
	KindProviderQuota     = "provider_quota"
	KindProviderRateLimit = "provider_rate_limited"
	KindProviderServer    = "provider_server"
	KindProviderMalformed = "provider_malformed_response"
	KindProviderRejected  = "provider_rejected_request"
	KindJobTimeout        = "job_timeout"
	KindJobFailed         = "job_failed"
	KindJobCancelled      = "job_cancelled"
	KindUnsupportedFormat = "unsupported_asset_format"
	KindInvalidAsset      = "invalid_asset"
	KindStorageCorruption = "storage_corruption"
	KindInterrupted       = "interrupted"
	KindUnknown           = "unknown"
)

// PreconditionError builds an ErrPrecondition with context.
func PreconditionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// UnsupportedFormatError names the format the asset cache refused.
type UnsupportedFormatError struct {
	Format string
	Cause  error
}

func (e *UnsupportedFormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unsupported asset format %q: %v", e.Format, e.Cause)
	}
	return fmt.Sprintf("unsupported asset format %q", e.Format)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedAssetFormat
}

func (e *UnsupportedFormatError) Unwrap() error {
	return e.Cause
}

// ProviderError carries the provider's own message and HTTP status along with
// the taxonomy sentinel it maps to.
type ProviderError struct {
	Kind       error
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	msg := e.Kind.Error()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// Transient reports whether err is worth retrying: rate limiting, server
// errors and raw network failures. Context errors never are.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrProviderRateLimited) || errors.Is(err, ErrProviderServer)
}

// Describe maps err to the failure kind and the message shown to the user.
func Describe(err error) (kind string, message string) {
	if err == nil {
		return "", ""
	}
	var unsupported *UnsupportedFormatError
	switch {
	case errors.As(err, &unsupported):
		return KindUnsupportedFormat, fmt.Sprintf("The generated model uses the %s format, which this device cannot display.", unsupported.Format)
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition, "This dream is not in a state that allows that action."
	case errors.Is(err, ErrProviderAuth):
		return KindProviderAuth, withDetail("The AI service rejected our credentials. Check the configured API key.", err)
	case errors.Is(err, ErrProviderQuota):
		return KindProviderQuota, withDetail("The AI service account has run out of quota or balance.", err)
	case errors.Is(err, ErrProviderRateLimited):
		return KindProviderRateLimit, withDetail("The AI service is receiving too many requests. Please wait a moment and try again.", err)
	case errors.Is(err, ErrProviderServer):
		return KindProviderServer, withDetail("The AI service is temporarily unavailable. Please try again.", err)
	case errors.Is(err, ErrProviderMalformed):
		return KindProviderMalformed, withDetail("The AI service returned a response we could not understand.", err)
	case errors.Is(err, ErrProviderRejected):
		return KindProviderRejected, withDetail("The AI service rejected this request.", err)
	case errors.Is(err, ErrJobTimeout):
		return KindJobTimeout, "Generation is taking longer than expected. Please try again later."
	case errors.Is(err, ErrJobFailed):
		return KindJobFailed, withDetail("Generation failed: this dream could not be visualized.", err)
	case errors.Is(err, ErrJobCancelled):
		return KindJobCancelled, "The operation was cancelled."
	case errors.Is(err, ErrInvalidAsset):
		return KindInvalidAsset, "The generated model could not be opened."
	case errors.Is(err, ErrStorageCorruption):
		return KindStorageCorruption, "Saved data was unreadable and has been reset."
	case errors.Is(err, ErrInterrupted):
		return KindInterrupted, "Generation was interrupted when the app restarted. Please try again."
	default:
		return KindUnknown, "Something went wrong: " + err.Error()
	}
}

// withDetail appends the provider's own message, when there is one.
func withDetail(message string, err error) string {
	if d := detail(err); d != "" {
		return message + " " + d
	}
	return message
}

func detail(err error) string {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return "(" + perr.Message + ")"
	}
	return ""
}
