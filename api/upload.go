package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// ChunkOptions parameterize a single chunked upload request. ContentLength
// and Headers must be populated by the caller.
type ChunkOptions struct {
	Offset        int64
	ContentLength int64
	Headers       http.Header
}

// UploadChunk reads a byte range from source (an open local handle) or, when
// source is nil, from buf, and performs one chunked upload request against
// rawURL. The range is re-read on every retry, so partial sends are safe.
func (c *Client) UploadChunk(ctx context.Context, rawURL string, source io.ReaderAt, buf []byte, opts ChunkOptions) (*Response, error) {
	if opts.ContentLength <= 0 || opts.Headers == nil {
		return nil, ErrInvalidArgument
	}
	if source == nil && int64(len(buf)) < opts.Offset+opts.ContentLength {
		return nil, ErrInvalidArgument
	}

	return c.withRetry(ctx, http.MethodPut, func(attempt int) attemptResult {
		var body io.Reader
		if source != nil {
			body = io.NewSectionReader(source, opts.Offset, opts.ContentLength)
		} else {
			body = bytes.NewReader(buf[opts.Offset : opts.Offset+opts.ContentLength])
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, body)
		if err != nil {
			return attemptResult{state: stateFatal, url: rawURL, err: err}
		}
		for k, vs := range opts.Headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.ContentLength = opts.ContentLength
		c.decorate(req, c.currentToken())

		c.log.Debug().Str("url", rawURL).Int("attempt", attempt).Int64("bytes", opts.ContentLength).Msg("uploading chunk")

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Error().Err(err).Str("url", rawURL).Msg("transport failure")
			if isTransportRetryable(err) {
				return attemptResult{state: stateRetry, url: rawURL, err: err}
			}
			return attemptResult{state: stateFatal, url: rawURL, err: err}
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return attemptResult{state: stateRetry, url: rawURL, err: err}
			}
			return attemptResult{state: stateSuccess, resp: &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, url: rawURL}
		}
		return c.classify(resp, http.MethodPut, rawURL, nil, nil)
	})
}

// FileSize issues a size query for an open remote descriptor. Any non-OK
// outcome is logged and reported as absent rather than returned as an error.
func (c *Client) FileSize(ctx context.Context, fd int64) (int64, bool) {
	q := url.Values{}
	q.Set("fd", strconv.FormatInt(fd, 10))

	var out struct {
		Result int   `json:"result"`
		Size   int64 `json:"size"`
	}
	if _, err := c.DoJSON(ctx, http.MethodGet, "file_size", q, nil, &out); err != nil {
		c.log.Error().Err(err).Int64("fd", fd).Msg("file_size query failed")
		return 0, false
	}
	if out.Result != ResultOK {
		c.log.Error().Int("result", out.Result).Int64("fd", fd).Msg("file_size returned non-OK result")
		return 0, false
	}
	return out.Size, true
}
