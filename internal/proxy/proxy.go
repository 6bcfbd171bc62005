// Package proxy forwards authorized requests to Microsoft Graph under the service's own application identity and
// filters collection responses down to the caller's scope.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// CorrelationHeader propagates a request's correlation ID across the proxy boundary for log tracing.
const CorrelationHeader = "X-Correlation-ID"

// hopByHopHeaders are stripped before forwarding, per RFC 7230 §6.1, plus Host, Content-Length and Authorization —
// the caller's bearer is never forwarded upstream; the proxy substitutes its own application credential.
var hopByHopHeaders = []string{
	"Host", "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade", "Authorization", "Content-Length",
}

var (
	// ErrUpstreamUnavailable means the upstream request failed for a reason other than a timeout.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamTimeout means the upstream request exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// tokenSource supplies bearer tokens for upstream calls.
type tokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// Request describes a single call to be forwarded upstream.
type Request struct {
	Method      string
	Path        string // already includes the API version segment, e.g. "/v1.0/users/r1"
	RawQuery    string
	Header      http.Header
	Body        []byte
	Correlation string // propagated to upstream and echoed back; generated if empty
}

// Response is the upstream's response, ready to be relayed (or filtered) and returned to the caller.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	Correlation string
}

// Proxy forwards requests to Microsoft Graph under an application identity.
type Proxy struct {
	http    *retryablehttp.Client
	cred    tokenSource
	baseURL string
	timeout time.Duration
}

// New builds a Proxy. The underlying HTTP client never retries — an upstream call by a human caller should not be
// silently replayed against a write endpoint.
func New(baseURL string, cred tokenSource, timeout time.Duration) *Proxy {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	// Hand upstream 429/5xx responses back as responses instead of retryablehttp's "giving up" error.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Proxy{http: client, cred: cred, baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

// Forward sends req to Microsoft Graph and returns its response. Transport failures are reported as
// ErrUpstreamUnavailable; deadline overruns as ErrUpstreamTimeout.
func (p *Proxy) Forward(ctx context.Context, req Request) (*Response, error) {
	correlation := req.Correlation
	if correlation == "" {
		correlation = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token, err := p.cred.BearerToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	url := p.baseURL + req.Path
	if req.RawQuery != "" {
		url += "?" + req.RawQuery
	}

	var body io.ReadSeeker
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	upstreamReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	copyForwardableHeaders(upstreamReq.Header, req.Header)
	upstreamReq.Header.Set("Authorization", "Bearer "+token)
	upstreamReq.Header.Set(CorrelationHeader, correlation)

	resp, err := p.http.Do(upstreamReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        respBody,
		Correlation: correlation,
	}, nil
}

func copyForwardableHeaders(dst, src http.Header) {
	for key, vals := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}
