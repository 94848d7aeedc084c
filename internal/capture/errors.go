package capture

import (
	"context"
	"errors"
)

// Pipeline error taxonomy. Each stage wraps one of these sentinels so the
// runner can classify failures without string matching.
var (
	// ErrNavigation covers DNS, connection, and navigation-timeout failures
	// on the local headless-browser path. Fatal for that path; the runner
	// degrades to the fallback renderer.
	ErrNavigation = errors.New("navigation failed")

	// ErrCaptureEmpty marks a zero-byte screenshot buffer. Scoped to a
	// single region; other regions proceed.
	ErrCaptureEmpty = errors.New("empty capture")

	// ErrEncode marks a transcoder failure. Recovered locally by passing
	// the raw buffer through.
	ErrEncode = errors.New("encode failed")

	// ErrUpload marks an object-storage write failure for one region.
	ErrUpload = errors.New("upload failed")

	// ErrFallbackExhausted means every fallback render candidate failed.
	ErrFallbackExhausted = errors.New("fallback candidates exhausted")

	// ErrUnreachable means the preflight probe could not reach the target.
	ErrUnreachable = errors.New("target unreachable")
)

// FailureReason maps an error to the stable reason string recorded in
// per-target results.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrFallbackExhausted):
		return "fallback_exhausted"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrUpload):
		return "upload"
	case errors.Is(err, ErrCaptureEmpty):
		return "empty_capture"
	case errors.Is(err, ErrEncode):
		return "encode"
	default:
		return "error"
	}
}
