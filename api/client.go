// Package api implements the authenticated, retrying HTTP client for the
// pCloud API. It owns the auth token, builds signed requests against the
// hostname bound to that token, and classifies provider failures so that
// callers only ever see final outcomes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	// DefaultHostname is used until a token binds the account to a region.
	DefaultHostname = "api.pcloud.com"

	authorizeEndpoint = "https://my.pcloud.com/oauth2/authorize"

	// tokenCommand is the only command that may be issued without a token.
	tokenCommand = "oauth2_token"

	headerClientID = "X-Client-Id"

	requestTimeout = 5 * time.Minute
)

// Client is the resilient API client. It is safe for concurrent use; the
// only cross-call mutable state is the current token, which is replaced
// wholesale and never partially mutated.
type Client struct {
	clientID string
	baseURL  string
	http     *http.Client
	log      zerolog.Logger

	// sleep is swapped out by tests to observe backoff behavior.
	sleep func(time.Duration)

	mu       sync.RWMutex
	token    *Token
	listener TokenListener
}

// Option configures a Client.
type Option func(*Client)

// WithClientID sets the application client identifier sent with every
// request and used to build the authorization URL.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBaseURL overrides the scheme and host derived from the token. Commands
// are appended to it. Intended for tests and self-hosted endpoints.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithTokenListener registers the token listener at construction time, so no
// SetAuth can fire before the subscriber is in place.
func WithTokenListener(fn TokenListener) Option {
	return func(c *Client) { c.listener = fn }
}

// New returns a Client ready for use. Until SetAuth is called only the token
// exchange command may be issued.
func New(opts ...Option) *Client {
	c := &Client{
		http:  &http.Client{Timeout: requestTimeout},
		log:   zerolog.Nop(),
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAuth replaces the current token. nil clears it and means "logged out".
// The token listener is always notified, including with nil.
func (c *Client) SetAuth(tok *Token) {
	c.mu.Lock()
	c.token = tok
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(tok)
	}
}

// SetTokenListener registers the single subscriber notified on every
// SetAuth. Registering replaces any previous subscriber.
func (c *Client) SetTokenListener(fn TokenListener) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

func (c *Client) currentToken() *Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// AuthorizeURL builds the interactive authorization URL the user is sent to.
// It has no network effect; the resulting authorization code is exchanged
// for a token by an external collaborator.
func (c *Client) AuthorizeURL(redirectURI string) string {
	cfg := oauth2.Config{
		ClientID:    c.clientID,
		RedirectURL: redirectURI,
		Scopes:      []string{"root"},
		Endpoint:    oauth2.Endpoint{AuthURL: authorizeEndpoint},
	}
	return cfg.AuthCodeURL("", oauth2.SetAuthURLParam("force_reapprove", "true"))
}

// MultipartUpload describes a streamed multipart file upload. Content must
// be seekable so the stream can be replayed on retry.
type MultipartUpload struct {
	Filename string
	Content  io.ReadSeeker
	Size     int64
}

// CallOptions select the transport mode of a Do call. The zero value means
// buffered request and response.
type CallOptions struct {
	// Target, when set, receives the response body instead of it being
	// buffered into Response.Body.
	Target io.Writer

	// Upload, when set, sends the request as a streamed multipart upload.
	Upload *MultipartUpload
}

// Response is the provider response for any outcome the retry loop did not
// classify as retryable or fatal.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do executes one API command with retry and error classification. It
// returns a nil Response without error when a DELETE-verb request reports
// the item already gone (idempotent delete).
func (c *Client) Do(ctx context.Context, method, command string, query url.Values, body []byte, opts *CallOptions) (*Response, error) {
	if opts == nil {
		opts = &CallOptions{}
	}
	return c.withRetry(ctx, method, func(attempt int) attemptResult {
		return c.attempt(ctx, attempt, method, command, query, body, opts)
	})
}

// DoJSON executes the command and parses the response body into out. A nil
// response (idempotent delete) is passed through without parsing.
func (c *Client) DoJSON(ctx context.Context, method, command string, query url.Values, body []byte, out any) (*Response, error) {
	resp, err := c.Do(ctx, method, command, query, body, nil)
	if err != nil || resp == nil {
		return resp, err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, &MalformedResponseError{Body: string(resp.Body), Err: err}
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, attempt int, method, command string, query url.Values, body []byte, opts *CallOptions) attemptResult {
	tok := c.currentToken()
	if tok == nil && command != tokenCommand {
		return attemptResult{state: stateFatal, err: ErrNotAuthenticated}
	}
	endpoint := c.endpoint(tok, command, query)

	var reqBody io.Reader
	contentType := ""
	contentLength := int64(0)
	switch {
	case opts.Upload != nil:
		if attempt > 0 {
			if _, err := opts.Upload.Content.Seek(0, io.SeekStart); err != nil {
				return attemptResult{state: stateFatal, url: endpoint, err: fmt.Errorf("rewind upload content: %w", err)}
			}
		}
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			part, err := mw.CreateFormFile("file", opts.Upload.Filename)
			if err == nil {
				_, err = io.Copy(part, opts.Upload.Content)
			}
			if err == nil {
				err = mw.Close()
			}
			pw.CloseWithError(err)
		}()
		reqBody = pr
		contentType = mw.FormDataContentType()
	case len(body) > 0:
		reqBody = bytes.NewReader(body)
		contentLength = int64(len(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return attemptResult{state: stateFatal, url: endpoint, err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if contentLength > 0 {
		req.ContentLength = contentLength
	}
	c.decorate(req, tok)

	c.log.Debug().Str("method", method).Str("url", endpoint).Int("attempt", attempt).Msg("sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("method", method).Str("url", endpoint).Msg("transport failure")
		if isTransportRetryable(err) {
			return attemptResult{state: stateRetry, url: endpoint, err: err}
		}
		return attemptResult{state: stateFatal, url: endpoint, err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out := &Response{StatusCode: resp.StatusCode, Header: resp.Header}
		if opts.Target != nil {
			if _, err := io.Copy(opts.Target, resp.Body); err != nil {
				return attemptResult{state: stateFatal, url: endpoint, err: fmt.Errorf("stream response: %w", err)}
			}
			return attemptResult{state: stateSuccess, resp: out, url: endpoint}
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return attemptResult{state: stateRetry, url: endpoint, err: err}
		}
		out.Body = raw
		return attemptResult{state: stateSuccess, resp: out, url: endpoint}
	}

	return c.classify(resp, method, endpoint, query, body)
}

// classify maps a non-2xx response onto a retry state. The error body is
// parsed as JSON; a body that does not parse is treated as retryable since a
// malformed error body from a transient proxy is common.
func (c *Client) classify(resp *http.Response, method, endpoint string, query url.Values, body []byte) attemptResult {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == 0 {
		if err == nil {
			err = errors.New("missing error code")
		}
		return attemptResult{state: stateRetry, url: endpoint, err: &MalformedResponseError{Body: string(raw), Err: err}}
	}

	perr := &ResponseError{Code: envelope.Error.Code, Message: envelope.Error.Message}
	switch {
	case IsAuthExpired(perr.Code):
		// a fresh token is expected to be attached by the external
		// refresh mechanism before the next attempt
		c.log.Debug().Int("code", perr.Code).Str("url", endpoint).Msg("token no longer accepted, retrying")
		return attemptResult{state: stateRetryNow, url: endpoint, err: perr}
	case perr.Code == CodeRateLimited:
		if secs, ok := retryAfterSeconds(resp.Header); ok {
			return attemptResult{state: stateRateLimited, delay: time.Duration(secs) * time.Second, url: endpoint, err: perr}
		}
		return attemptResult{state: stateRetry, url: endpoint, err: perr}
	case IsTransient(perr.Code):
		return attemptResult{state: stateRetry, url: endpoint, err: perr}
	case method == http.MethodDelete && IsNotFound(perr.Code):
		// the item is already gone, which is what the caller wanted
		return attemptResult{state: stateSuccess, url: endpoint}
	default:
		return attemptResult{state: stateFatal, url: endpoint, err: &RequestError{
			Method:  method,
			URL:     endpoint,
			Query:   query,
			Body:    string(body),
			Status:  resp.StatusCode,
			Headers: resp.Header,
			Err:     perr,
		}}
	}
}

func (c *Client) endpoint(tok *Token, command string, query url.Values) string {
	if c.baseURL != "" {
		u := c.baseURL + "/" + command
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		return u
	}
	host := DefaultHostname
	if tok != nil && tok.Hostname != "" {
		host = tok.Hostname
	}
	u := url.URL{Scheme: "https", Host: host, Path: "/" + command}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) decorate(req *http.Request, tok *Token) {
	if tok != nil {
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}
	if c.clientID != "" {
		req.Header.Set(headerClientID, c.clientID)
	}
}

func isTransportRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
