package github

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError is returned for any non-2xx API response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
	// RetryAfter is the server-requested wait, when one was sent.
	RetryAfter time.Duration

	rateLimited bool
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("github api %s: status %d: %s", e.URL, e.StatusCode, strings.TrimSpace(body))
}

// RateLimited reports whether the response was a primary or secondary rate limit.
func (e *StatusError) RateLimited() bool {
	return e.rateLimited
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	case e.StatusCode == http.StatusForbidden:
		return e.rateLimited
	default:
		return false
	}
}

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func newStatusError(url string, code int, header http.Header, body []byte) *StatusError {
	se := &StatusError{StatusCode: code, URL: url, Body: string(body)}
	if header != nil {
		if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
		if header.Get("X-RateLimit-Remaining") == "0" {
			se.rateLimited = true
			if se.RetryAfter == 0 {
				se.RetryAfter = untilReset(header.Get("X-RateLimit-Reset"))
			}
		}
	}
	if code == http.StatusTooManyRequests || strings.Contains(strings.ToLower(se.Body), "rate limit") {
		se.rateLimited = true
	}
	return se
}

func untilReset(raw string) time.Duration {
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if d := time.Until(time.Unix(epoch, 0)); d > 0 {
		return d
	}
	return 0
}
