package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNoDecision means the provider response carried no parseable rate-limit
// headers. Callers must treat the failure generically instead of inventing a
// reset time.
var ErrNoDecision = errors.New("no authoritative rate-limit headers")

// ResolveResetTime extracts the moment a rate limit lifts from response
// headers. Retry-After is read as delay seconds or an HTTP-date;
// X-RateLimit-Reset as epoch seconds or ISO-8601. Only header evidence
// counts: absent or malformed headers yield ErrNoDecision.
func ResolveResetTime(headers http.Header, now time.Time) (time.Time, error) {
	if headers == nil {
		return time.Time{}, ErrNoDecision
	}

	if v := strings.TrimSpace(headers.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second), nil
		}
		if t, err := http.ParseTime(v); err == nil {
			return t, nil
		}
	}

	if v := strings.TrimSpace(headers.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil && epoch > 0 {
			return time.Unix(epoch, 0), nil
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
	}

	return time.Time{}, ErrNoDecision
}
