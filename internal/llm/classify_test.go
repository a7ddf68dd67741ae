package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/assert"
)

// apiErr builds the error shape the SDK returns for a failed API call, with
// enough of the request and response populated for Error() to format.
func apiErr(status int) *openai.Error {
	req, _ := http.NewRequest(http.MethodPost, "https://llm.test/v1/chat/completions", nil)
	return &openai.Error{StatusCode: status, Request: req, Response: &http.Response{StatusCode: status}}
}

func apiErrWithHeaders(status int, headers http.Header) *openai.Error {
	e := apiErr(status)
	e.Response = &http.Response{StatusCode: status, Header: headers}
	return e
}

func TestIsBackoffPrimary(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", apiErr(http.StatusTooManyRequests), true},
		{"unauthorized", apiErr(http.StatusUnauthorized), true},
		{"forbidden", apiErr(http.StatusForbidden), true},
		{"server error", apiErr(http.StatusInternalServerError), true},
		{"bad gateway", apiErr(http.StatusBadGateway), true},
		{"wrapped server error", fmt.Errorf("opening stream: %w", apiErr(http.StatusServiceUnavailable)), true},
		{"context canceled", context.Canceled, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"net error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"sleep interrupted", errors.New("sleep interrupted during retry"), true},
		{"bad request", apiErr(http.StatusBadRequest), false},
		{"not found", apiErr(http.StatusNotFound), false},
		{"plain failure", errors.New("model rejected the prompt"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsBackoffPrimary(tc.err))
		})
	}
}

func TestIsCompletionFallback(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", apiErr(http.StatusNotFound), true},
		{"request timeout", apiErr(http.StatusRequestTimeout), true},
		{"server error", apiErr(http.StatusInternalServerError), true},
		{"timeout hint", errors.New("request timeout while waiting for completion"), true},
		{"temporarily unavailable", errors.New("service temporarily unavailable"), true},
		{"connection reset", errors.New("read tcp 1.2.3.4: connection reset by peer"), true},
		{"connection closed", errors.New("connection closed before response"), true},
		{"bad request", apiErr(http.StatusBadRequest), false},
		{"plain failure", errors.New("model rejected the prompt"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsCompletionFallback(tc.err))
		})
	}
}

func TestIsStreamingFallback(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"overflow", ErrStreamOverflow, true},
		{"wrapped overflow", fmt.Errorf("consuming: %w", ErrStreamOverflow), true},
		{"request timeout", apiErr(http.StatusRequestTimeout), true},
		{"conflict", apiErr(http.StatusConflict), true},
		{"rate limited", apiErr(http.StatusTooManyRequests), true},
		{"server error", apiErr(http.StatusBadGateway), true},
		{"invalid stream", errors.New("invalid stream event received"), true},
		{"malformed payload", errors.New("malformed SSE payload"), true},
		{"json eof", errors.New("unexpected end of JSON input"), true},
		{"idle read timeout", errIdleRead, true},
		{"connection closed", errors.New("connection closed before first token"), true},
		{"bad request", apiErr(http.StatusBadRequest), false},
		{"plain failure", errors.New("model rejected the prompt"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsStreamingFallback(tc.err))
		})
	}
}
