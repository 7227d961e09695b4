package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Retry classification markers for provider-call failures. A Transient
// failure may be retried; a Fatal one aborts the scene stage and fails
// the job.
var (
	ErrTransient = errors.New("transient provider failure")
	ErrFatal     = errors.New("fatal provider failure")
)

// WrapStage tags a provider-call failure with its retry class while
// keeping the provider and operation in the message. The marker should
// be ErrTransient or ErrFatal; nil defaults to ErrTransient.
func WrapStage(marker error, provider, op string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", marker, provider, op, err)
	}
	return fmt.Errorf("%w: %s %s", marker, provider, op)
}

// IsTransient reports whether err is worth retrying. Explicit markers
// win; unclassified errors are inspected for timeout and network causes,
// which retry. Everything else is treated as fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyStatus maps an HTTP response code to a retry class: rate
// limiting, server errors and timeouts retry; auth failures and rejected
// prompts do not.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrTransient
	case status == http.StatusRequestTimeout:
		return ErrTransient
	case status >= 500:
		return ErrTransient
	default:
		return ErrFatal
	}
}

// statusError builds a classified error from a non-2xx provider response.
func statusError(provider, op string, status int, body []byte) error {
	return WrapStage(classifyStatus(status), provider, op,
		fmt.Errorf("status %d: %s", status, truncateBody(body)))
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
