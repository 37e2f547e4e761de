/* Copyright 2025 Plubot Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package client provides interfaces for interacting with the plubot server
// and the data structures for responses
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/log"
	"golang.org/x/time/rate"
)

// ErrInvalidLogin is an error for invalid credentials for login
var ErrInvalidLogin = errors.New("wrong credentials")

// ErrUnauthorized is returned when the server rejects the session
var ErrUnauthorized = errors.New("session is not authorized")

// ErrNoSession is returned when an authorized request is made without a session
var ErrNoSession = errors.New("no session key found")

// ErrContentTypeMismatch is returned when the server responds with an unexpected content type
var ErrContentTypeMismatch = errors.New("content type mismatch")

// ErrUnexpectedResponse is returned when a successful response does not carry
// the expected payload
var ErrUnexpectedResponse = errors.New("unexpected response from the server")

// HTTPError represents an HTTP error response from the server
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf(`response %d "%s"`, e.StatusCode, e.Message)
}

// IsConflict returns true if the error is a 409 Conflict error
func (e *HTTPError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsNotFound returns true if the error is a 404 Not Found error
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsGateway returns true for the statuses a proxy answers with when the
// server itself is unreachable
func (e *HTTPError) IsGateway() bool {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}

	return false
}

// NetworkError wraps a failure to reach the server, including timeouts
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("reaching the server: %s", e.Err.Error())
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether the error means the server could not be reached
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.IsGateway()
}

const contentTypeApplicationJSON = "application/json"

var contentTypeNone = ""

// requestOptions contains options for requests
type requestOptions struct {
	// ExpectedContentType is the Content-Type that the client is expecting from the server
	ExpectedContentType *string
	// SkipAuthHook disables the unauthorized callback, for requests such as
	// login where a 401 means wrong credentials
	SkipAuthHook bool
	// SessionKey overrides the session of the client
	SessionKey *string
}

const (
	// clientRateLimitPerSecond is the max requests per second the client will make
	clientRateLimitPerSecond = 50
	// clientRateLimitBurst is the burst capacity for rate limiting
	clientRateLimitBurst = 100
	// DefaultTimeout bounds every request
	DefaultTimeout = 30 * time.Second
)

// rateLimitedTransport wraps an http.RoundTripper with rate limiting
type rateLimitedTransport struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// NewRateLimitedHTTPClient creates an HTTP client with rate limiting and the
// given request timeout
func NewRateLimitedHTTPClient(timeout time.Duration) *http.Client {
	interval := time.Second / time.Duration(clientRateLimitPerSecond)

	transport := &rateLimitedTransport{
		transport: http.DefaultTransport,
		limiter:   rate.NewLimiter(rate.Every(interval), clientRateLimitBurst),
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Options configures a Client
type Options struct {
	Endpoint   string
	Version    string
	SessionKey string
	HTTPClient *http.Client
}

// Client talks to the plubot server. It is safe for concurrent use.
type Client struct {
	endpoint string
	version  string
	hc       *http.Client

	mu             sync.RWMutex
	sessionKey     string
	onUnauthorized func()
}

// New returns a new client
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = NewRateLimitedHTTPClient(DefaultTimeout)
	}

	return &Client{
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		version:    opts.Version,
		hc:         hc,
		sessionKey: opts.SessionKey,
	}
}

// SetSessionKey sets the bearer token sent with authorized requests
func (c *Client) SetSessionKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey = key
}

// SessionKey returns the current bearer token
func (c *Client) SessionKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionKey
}

// OnUnauthorized registers a callback invoked whenever the server answers 401
// to an authorized request
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *Client) getReq(ctx context.Context, method, path, sessionKey string, body []byte) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s%s", c.endpoint, path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "constructing http request")
	}

	req.Header.Set("Client-Version", c.version)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeApplicationJSON)
	}

	if sessionKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sessionKey))
	}

	return req, nil
}

// checkRespErr returns an HTTPError carrying the response body if the
// response indicates an error
func checkRespErr(res *http.Response) error {
	if res.StatusCode < 400 {
		return nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrapf(err, "server responded with %d but client could not read the response body", res.StatusCode)
	}

	return &HTTPError{
		StatusCode: res.StatusCode,
		Message:    strings.TrimRight(string(body), "\n"),
	}
}

func checkContentType(res *http.Response, options *requestOptions) error {
	expected := contentTypeApplicationJSON
	if options != nil && options.ExpectedContentType != nil {
		expected = *options.ExpectedContentType
	}
	if expected == "" {
		return nil
	}

	got, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if got != expected {
		return errors.Wrapf(ErrContentTypeMismatch, "got: '%s' want: '%s'. Did you configure your endpoint correctly?", got, expected)
	}

	return nil
}

// doReq does a http request to the given path in the api endpoint and decodes
// the JSON response into dest, if given
func (c *Client) doReq(ctx context.Context, method, path string, payload, dest interface{}, options *requestOptions) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshaling payload")
		}
		body = b
	}

	req, err := c.getReq(ctx, method, path, c.sessionKeyFor(options), body)
	if err != nil {
		return errors.Wrap(err, "getting request")
	}

	log.Debug("HTTP %s %s\n", method, path)

	res, err := c.hc.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer res.Body.Close()

	log.Debug("HTTP %d %s\n", res.StatusCode, res.Status)

	if err = checkRespErr(res); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			if options == nil || !options.SkipAuthHook {
				c.notifyUnauthorized()
			}
			return errors.Wrap(ErrUnauthorized, httpErr.Error())
		}

		return errors.Wrap(err, "server responded with an error")
	}

	if err = checkContentType(res, options); err != nil {
		return errors.Wrap(err, "unexpected Content-Type")
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		return errors.Wrapf(ErrUnexpectedResponse, "decoding payload: %s", err.Error())
	}

	return nil
}

func (c *Client) sessionKeyFor(options *requestOptions) string {
	if options != nil && options.SessionKey != nil {
		return *options.SessionKey
	}

	return c.SessionKey()
}

// doAuthorizedReq does a http request as the signed in user
func (c *Client) doAuthorizedReq(ctx context.Context, method, path string, payload, dest interface{}, options *requestOptions) error {
	if c.sessionKeyFor(options) == "" {
		return ErrNoSession
	}

	return c.doReq(ctx, method, path, payload, dest, options)
}

func (c *Client) notifyUnauthorized() {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()

	if fn != nil {
		fn()
	}
}
