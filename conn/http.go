// Copyright 2024-2026 the aioes authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conn

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

//nolint:gochecknoglobals
var defaultDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

var errConnClosed = errors.New("connection is closed")

const defaultUserAgent = "aioes-go"

// Option is an option used to customize the behavior of a connection
// created with New.
type Option interface {
	apply(*connOptions)
}

// WithDialer configures the connection to use the given function to
// establish network connections. If no WithDialer option is provided, a
// default [net.Dialer] is used that uses a 30-second dial timeout and
// configures TCP keep-alive every 30 seconds.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return optionFunc(func(opts *connOptions) {
		opts.dialFunc = dialFunc
	})
}

// WithTLSConfig makes the connection speak HTTPS to its member using the
// given config. The given timeout is applied to the TLS handshake step; if
// zero, a default of 10 seconds is used.
func WithTLSConfig(config *tls.Config, handshakeTimeout time.Duration) Option {
	return optionFunc(func(opts *connOptions) {
		opts.tlsClientConfig = config
		opts.tlsHandshakeTimeout = handshakeTimeout
	})
}

// WithH2C forces HTTP/2 over clear-text (no TLS), aka H2C. This uses the
// golang.org/x/net/http2 client implementation, since the standard library
// transport only negotiates HTTP/2 over TLS.
func WithH2C() Option {
	return optionFunc(func(opts *connOptions) {
		opts.h2c = true
	})
}

// WithMaxResponseBytes limits how much of a response body the connection is
// willing to read. Zero, the default, means no limit.
func WithMaxResponseBytes(limit int64) Option {
	return optionFunc(func(opts *connOptions) {
		opts.maxResponseBytes = limit
	})
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(userAgent string) Option {
	return optionFunc(func(opts *connOptions) {
		opts.userAgent = userAgent
	})
}

type optionFunc func(*connOptions)

func (f optionFunc) apply(opts *connOptions) {
	f(opts)
}

type connOptions struct {
	dialFunc            func(ctx context.Context, network, addr string) (net.Conn, error)
	tlsClientConfig     *tls.Config
	tlsHandshakeTimeout time.Duration
	h2c                 bool
	maxResponseBytes    int64
	userAgent           string
}

func (opts *connOptions) applyDefaults() {
	if opts.dialFunc == nil {
		opts.dialFunc = defaultDialer.DialContext
	}
	if opts.tlsHandshakeTimeout == 0 {
		opts.tlsHandshakeTimeout = 10 * time.Second
	}
	if opts.userAgent == "" {
		opts.userAgent = defaultUserAgent
	}
}

// New returns a Conn that talks plain HTTP (or HTTPS with WithTLSConfig,
// or clear-text HTTP/2 with WithH2C) to the member at the given "host:port"
// address.
func New(address string, options ...Option) Conn {
	var opts connOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()

	scheme := "http"
	var roundTripper http.RoundTripper
	var closeIdle func()
	switch {
	case opts.h2c:
		transport := &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				// h2c is plain-text only, so dial without TLS
				return opts.dialFunc(ctx, network, addr)
			},
		}
		roundTripper = transport
		closeIdle = transport.CloseIdleConnections
	default:
		if opts.tlsClientConfig != nil {
			scheme = "https"
		}
		transport := &http.Transport{
			DialContext:            opts.dialFunc,
			TLSClientConfig:        opts.tlsClientConfig,
			TLSHandshakeTimeout:    opts.tlsHandshakeTimeout,
			MaxResponseHeaderBytes: 1 << 20,
		}
		roundTripper = transport
		closeIdle = transport.CloseIdleConnections
	}

	return &httpConn{
		address:          address,
		baseURL:          scheme + "://" + address,
		roundTripper:     roundTripper,
		closeIdle:        closeIdle,
		maxResponseBytes: opts.maxResponseBytes,
		userAgent:        opts.userAgent,
	}
}

type httpConn struct {
	address          string
	baseURL          string
	roundTripper     http.RoundTripper
	closeIdle        func()
	maxResponseBytes int64
	userAgent        string
	closed           atomic.Bool
}

func (c *httpConn) Address() string {
	return c.address
}

func (c *httpConn) Perform(ctx context.Context, method, path string, params url.Values, body []byte) (*Result, error) {
	if c.closed.Load() {
		return nil, &Error{Address: c.address, Err: errConnClosed}
	}

	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, &Error{Address: c.address, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.roundTripper.RoundTrip(req)
	if err != nil {
		return nil, &Error{Address: c.address, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var respReader io.Reader = resp.Body
	if c.maxResponseBytes > 0 {
		respReader = io.LimitReader(resp.Body, c.maxResponseBytes)
	}
	data, err := io.ReadAll(respReader)
	if err != nil {
		return nil, &Error{Address: c.address, Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		// a 5xx means the member itself is in trouble, so it counts as a
		// connection-level failure and the member gets quarantined
		return nil, &Error{Address: c.address, Err: fmt.Errorf("server error: %s", resp.Status)}
	}
	return &Result{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *httpConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.closeIdle()
	}
	return nil
}
