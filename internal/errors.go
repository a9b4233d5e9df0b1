package internal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies the errors surfaced to callers of the extractor.
type ErrorType int

const (
	ErrInvalidURL ErrorType = iota
	ErrNoFilesFound
	ErrNoVideoFound
	ErrHost
	ErrTransport
	ErrTimeout
)

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrInvalidURL:
		return "InvalidURL"
	case ErrNoFilesFound:
		return "NoFilesFound"
	case ErrNoVideoFound:
		return "NoVideoFound"
	case ErrHost:
		return "HostError"
	case ErrTransport:
		return "TransportError"
	case ErrTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// ExtractError is the error type the extraction core surfaces. Host-side
// failures carry the upstream errno and a body excerpt; local failures wrap
// their cause.
type ExtractError struct {
	Type       ErrorType `json:"type"`
	Errno      int64     `json:"errno,omitempty"`
	Message    string    `json:"message"`
	URL        string    `json:"url,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *ExtractError) Error() string {
	var parts []string

	switch e.Type {
	case ErrHost:
		parts = append(parts, fmt.Sprintf("host error (errno: %d)", e.Errno))
	default:
		parts = append(parts, fmt.Sprintf("%s error", strings.ToLower(e.Type.String())))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *ExtractError) Unwrap() error {
	return e.Err
}

// DetailedError returns a multi-line error message with all available information
func (e *ExtractError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Type.String()))
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("Errno: %d", e.Errno))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}
	if e.Raw != "" {
		parts = append(parts, fmt.Sprintf("Response: %s", e.Raw))
	}
	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Err))
	}
	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// WithSuggestion adds a custom suggestion to the error
func (e *ExtractError) WithSuggestion(suggestion string) *ExtractError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (redacted when logged)
func (e *ExtractError) WithURL(url string) *ExtractError {
	e.URL = url
	return e
}

// WithCause attaches the underlying error
func (e *ExtractError) WithCause(err error) *ExtractError {
	e.Err = err
	return e
}

// IsRetryable reports whether an immediate caller retry has a reasonable
// chance of succeeding. Session-invalid and captcha errnos are retryable
// because the client has already refreshed the session or rotated mirrors
// by the time the error surfaces.
func (e *ExtractError) IsRetryable() bool {
	switch e.Type {
	case ErrTransport, ErrTimeout:
		return true
	case ErrHost:
		switch e.Errno {
		case -6, -9, 2, 112:
			return true
		}
		return e.Errno >= 500
	default:
		return false
	}
}

// AsExtractError unwraps err to an *ExtractError when one is in the chain.
func AsExtractError(err error) (*ExtractError, bool) {
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// newError builds an ExtractError with the type's default suggestion.
func newError(t ErrorType, errno int64, message string) *ExtractError {
	return &ExtractError{
		Type:       t,
		Errno:      errno,
		Message:    message,
		Suggestion: defaultSuggestion(t, errno),
	}
}

// NewInvalidURLError creates an error for URLs the registry does not recognize
func NewInvalidURLError(url, reason string) *ExtractError {
	return newError(ErrInvalidURL, 0, reason).WithURL(url)
}

// NewNoFilesError creates an error for shares whose file list is empty
func NewNoFilesError(surl string) *ExtractError {
	return newError(ErrNoFilesFound, 0, fmt.Sprintf("share %q contains no files", surl))
}

// NewNoVideoError creates an error for exhausted stream-URL ladders
func NewNoVideoError(message string) *ExtractError {
	return newError(ErrNoVideoFound, 0, message)
}

// NewHostError creates an error from a non-zero Host errno. When the Host
// supplied no message, a known-errno description is substituted. The raw
// body is kept (truncated) for diagnostics.
func NewHostError(errno int64, message string, raw string) *ExtractError {
	if message == "" {
		message = HostErrnoMessage(errno)
	}
	if len(raw) > 2048 {
		raw = raw[:2048]
	}
	e := newError(ErrHost, errno, message)
	e.Raw = raw
	return e
}

// NewTransportError creates an error for exhausted transport retries
func NewTransportError(op string, err error) *ExtractError {
	return newError(ErrTransport, 0, fmt.Sprintf("request failed during %s", op)).WithCause(err)
}

// NewTimeoutError creates an error for exceeded operation deadlines
func NewTimeoutError(op string, err error) *ExtractError {
	return newError(ErrTimeout, 0, fmt.Sprintf("deadline exceeded during %s", op)).WithCause(err)
}

// hostErrnoMessages maps known Host error codes to human descriptions.
// Negative codes come from the account/session layer, small positive codes
// from share handling, 31xxx from the download anti-abuse layer.
var hostErrnoMessages = map[int64]string{
	-1:    "invalid request parameters",
	-3:    "access denied",
	-4:    "file not found or share expired",
	-5:    "share link invalid or expired",
	-6:    "session cookies invalid or expired",
	-7:    "quota exceeded",
	-8:    "file too large",
	-9:    "session invalid or file does not exist",
	-10:   "IP blocked or suspicious activity",
	2:     "session rejected or parameter error",
	10:    "share not found",
	11:    "share cancelled",
	12:    "share expired",
	14:    "share password required",
	15:    "share password incorrect",
	105:   "external link error",
	110:   "access token invalid",
	111:   "access token expired",
	112:   "page expired or captcha required",
	31034: "anti-crawler verification failed",
	31045: "verification code required",
	31061: "file download forbidden",
	31066: "file sharing disabled",
}

// HostErrnoMessage returns the description for a known errno, or a generic
// one for codes not in the table.
func HostErrnoMessage(errno int64) string {
	if msg, ok := hostErrnoMessages[errno]; ok {
		return msg
	}
	return fmt.Sprintf("unknown host error (errno: %d)", errno)
}

// defaultSuggestion returns a default suggestion based on error type and errno
func defaultSuggestion(t ErrorType, errno int64) string {
	switch t {
	case ErrInvalidURL:
		return "Provide a valid Terabox share URL (e.g. https://terabox.com/s/...)"
	case ErrNoFilesFound:
		return "Verify the share link is still valid and has not been emptied"
	case ErrNoVideoFound:
		return "The share may not contain playable media, or every resolver endpoint refused it"
	case ErrHost:
		switch errno {
		case -6, -9, 2:
			return "The session was rejected and has been refreshed; retrying usually succeeds. For private shares supply account cookies with --cookies"
		case 112:
			return "The mirror demanded a captcha; the client rotated to the next mirror, try again"
		case 14, 15:
			return "This share is password protected, which is not supported"
		}
		return "Check the error details and try again"
	case ErrTransport:
		return "Check your internet connection; set PROXY_URL if the host is unreachable from your region"
	case ErrTimeout:
		return "Increase REQUEST_TIMEOUT or check network latency"
	default:
		return "Check the error details and try again"
	}
}

// redactSensitiveURL redacts query parameters that might contain session
// artifacts before a URL reaches logs or error output.
func redactSensitiveURL(url string) string {
	if strings.Contains(url, "?") {
		parts := strings.SplitN(url, "?", 2)
		return parts[0] + "?[REDACTED]"
	}
	return url
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string      `json:"field"`
	Message    string      `json:"message"`
	Value      interface{} `json:"value,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}
	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}
	return strings.Join(parts, " - ")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewValidationErrorWithValue creates a ValidationError carrying the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}
