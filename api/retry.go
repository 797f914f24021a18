package api

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// maxAttempts bounds the retry loop. Rate-limited attempts do not count
// toward it.
const maxAttempts = 5

// backoffStep is the linear backoff unit: attempt i sleeps (i+1)*backoffStep.
const backoffStep = 5 * time.Second

// attemptState is the outcome of a single send.
type attemptState int

const (
	stateSuccess attemptState = iota

	// stateRetry sleeps the linear backoff and consumes an attempt.
	stateRetry

	// stateRetryNow retries without sleeping (expired token; a fresh one
	// is attached externally).
	stateRetryNow

	// stateRateLimited sleeps the provider-advertised delay without
	// consuming an attempt.
	stateRateLimited

	stateFatal
)

type attemptResult struct {
	state attemptState
	resp  *Response
	delay time.Duration
	url   string
	err   error
}

// withRetry drives the bounded retry loop around run. run receives the
// zero-based attempt index so it can replay seekable bodies.
func (c *Client) withRetry(ctx context.Context, method string, run func(attempt int) attemptResult) (*Response, error) {
	var last attemptResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		last = run(attempt)
		switch last.state {
		case stateSuccess:
			return last.resp, nil
		case stateFatal:
			return nil, last.err
		case stateRetryNow:
		case stateRateLimited:
			c.sleep(last.delay)
			// rate limiting never exhausts the retry budget
			attempt--
		case stateRetry:
			c.sleep(time.Duration(attempt+1) * backoffStep)
		}
	}
	return nil, &ExhaustedError{Method: method, URL: last.url, Attempts: maxAttempts, Last: last.err}
}

// retryAfterSeconds extracts a numeric Retry-After value. Non-numeric forms
// (HTTP dates) are ignored.
func retryAfterSeconds(h http.Header) (int, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs, true
}
