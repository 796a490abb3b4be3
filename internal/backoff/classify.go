package backoff

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Reason classifies why an operation failed, for retry-wrapper decisions.
type Reason string

const (
	ReasonTransient Reason = "transient"
	ReasonFatal     Reason = "fatal"
)

// transientSubstrings are checked case-insensitively against err.Error()
// when typed classification (net.Error, context errors) is inconclusive.
var transientSubstrings = []string{
	"rate limit",
	"quota exceeded",
	"temporarily unavailable",
	"service unavailable",
	"503",
	"429",
	"timeout",
	"connection reset",
	"connection refused",
}

// Classify determines whether err is a transient error worth retrying.
// It first checks typed signals (net.Error, context.DeadlineExceeded) and
// falls back to substring matching on the error text for vendor/HTTP-style
// errors that don't implement a typed interface.
func Classify(err error) Reason {
	if err == nil {
		return ReasonFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ReasonTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTransient
	}

	msg := strings.ToLower(err.Error())
	for _, substr := range transientSubstrings {
		if strings.Contains(msg, substr) {
			return ReasonTransient
		}
	}
	return ReasonFatal
}

// IsTransient is a convenience wrapper around Classify.
func IsTransient(err error) bool {
	return Classify(err) == ReasonTransient
}
