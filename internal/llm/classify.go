package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
)

// statusCode extracts the HTTP status from an API error, or 0.
func statusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// errResponse returns the HTTP response attached to an API error, if any.
// Rate-limit decisions read authoritative headers from it.
func errResponse(err error) *http.Response {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.Response
	}
	return nil
}

func messageContains(err error, hints ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, h := range hints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

// IsBackoffPrimary decides whether a failure should pause the primary
// provider for its local backoff window: rate limits, auth failures, server
// errors, cancellation, and transport-level I/O trouble.
func IsBackoffPrimary(err error) bool {
	if err == nil {
		return false
	}
	switch code := statusCode(err); {
	case code == http.StatusTooManyRequests,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code >= 500:
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return messageContains(err, "sleep interrupted")
}

// IsCompletionFallback decides whether a non-streaming completion failure
// warrants trying the next provider.
func IsCompletionFallback(err error) bool {
	if err == nil {
		return false
	}
	if IsBackoffPrimary(err) {
		return true
	}
	switch statusCode(err) {
	case http.StatusNotFound, http.StatusRequestTimeout:
		return true
	}
	return messageContains(err,
		"timeout",
		"temporarily unavailable",
		"connection reset",
		"connection closed",
	)
}

// IsStreamingFallback decides whether a streaming failure, before the first
// delta was delivered, warrants switching providers. Broader than the
// completion set: malformed SSE payloads and mid-handshake stream errors
// also qualify.
func IsStreamingFallback(err error) bool {
	if err == nil {
		return false
	}
	if IsBackoffPrimary(err) {
		return true
	}
	if errors.Is(err, ErrStreamOverflow) {
		return true
	}
	switch statusCode(err) {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return messageContains(err,
		"invalid stream",
		"malformed",
		"unexpected end of json input",
		"timeout",
		"temporarily unavailable",
		"connection reset",
		"connection closed",
	)
}
