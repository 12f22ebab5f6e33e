package provider

import "errors"

// Sentinel errors for provider operations. Pre-flight failures (ErrNoAPIKey,
// ErrUnknownModel) are returned from Stream; everything else travels inside
// error events.
var (
	// ErrNoAPIKey indicates no usable API key for the chosen provider and
	// no OpenRouter fallback.
	ErrNoAPIKey = errors.New("no api key configured")

	// ErrUnknownModel indicates neither id nor alias resolved.
	ErrUnknownModel = errors.New("unknown model")

	// ErrRateLimited indicates the backend rejected with an explicit
	// rate-limit signal.
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExceeded is the advisory pre-flight signal from the quota
	// manager.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTransport indicates a network, connection, or decode failure.
	ErrTransport = errors.New("transport failure")

	// ErrProtocol indicates the backend returned a malformed or unexpected
	// stream shape.
	ErrProtocol = errors.New("protocol failure")

	// ErrContentBlocked indicates the backend signalled a safety stop.
	ErrContentBlocked = errors.New("content blocked")

	// ErrCancelled indicates cooperative cancellation by the caller.
	ErrCancelled = errors.New("cancelled")

	// ErrTimeout indicates the per-request deadline expired.
	ErrTimeout = errors.New("timeout")

	// ErrPaused indicates the process-wide pause signal stopped the stream.
	ErrPaused = errors.New("paused")

	// ErrSubprocess indicates the CLI-backed adapter's process exited
	// non-zero or produced unparseable output.
	ErrSubprocess = errors.New("subprocess failure")

	// ErrInternal indicates an unexpected invariant violation.
	ErrInternal = errors.New("internal error")
)

// CodeOf maps an error to the stable code carried by error events. Unmapped
// errors report as internal.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrNoAPIKey):
		return "configuration_missing"
	case errors.Is(err, ErrUnknownModel):
		return "model_unknown"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrTransport):
		return "transport_failure"
	case errors.Is(err, ErrProtocol):
		return "protocol_failure"
	case errors.Is(err, ErrContentBlocked):
		return "content_blocked"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrSubprocess):
		return "subprocess_failure"
	default:
		return "internal"
	}
}

// IsPreflight reports whether the error belongs before the stream starts and
// should be returned rather than emitted.
func IsPreflight(err error) bool {
	return errors.Is(err, ErrNoAPIKey) || errors.Is(err, ErrUnknownModel)
}
