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

package aioes

import (
	"time"

	"github.com/hellysmile/aioes/conn"
	"github.com/hellysmile/aioes/internal"
	"github.com/hellysmile/aioes/pool"
)

const (
	defaultSniffTimeout = 100 * time.Millisecond
	defaultMaxRetries   = 3
)

// Option is an option used to customize the behavior of a Transport.
type Option interface {
	apply(*transportOptions)
}

// WithSniffInterval enables periodic discovery: before serving a request,
// the transport re-sniffs the cluster if at least interval has passed since
// the last sniff. Zero, the default, disables periodic discovery; sniffing
// then only happens on explicit Sniff calls or, with
// WithSniffOnConnectionFailure, after a connection failure.
func WithSniffInterval(interval time.Duration) Option {
	return optionFunc(func(opts *transportOptions) {
		opts.sniffInterval = interval
	})
}

// WithSniffTimeout bounds each individual discovery request. This is
// distinct from the sniff interval: discovery should be a fast API call, so
// the default is 100ms.
func WithSniffTimeout(timeout time.Duration) Option {
	return optionFunc(func(opts *transportOptions) {
		opts.sniffTimeout = timeout
	})
}

// WithSniffOnConnectionFailure makes the transport run a discovery pass
// immediately after any connection is marked dead.
func WithSniffOnConnectionFailure() Option {
	return optionFunc(func(opts *transportOptions) {
		opts.sniffOnConnFail = true
	})
}

// WithMaxRetries bounds how many times a failed request is retried against
// another connection. A request makes at most maxRetries+1 attempts.
// Defaults to 3; negative values are treated as 0.
func WithMaxRetries(maxRetries int) Option {
	return optionFunc(func(opts *transportOptions) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		opts.maxRetries = maxRetries
	})
}

// WithRequestTimeout bounds each individual request attempt. The timeout
// cancels only the attempt's in-flight network call; the retry loop itself
// proceeds to the next attempt. Zero, the default, leaves attempts bounded
// only by the caller's context.
func WithRequestTimeout(timeout time.Duration) Option {
	return optionFunc(func(opts *transportOptions) {
		opts.requestTimeout = timeout
	})
}

// WithLogger sets the logger used by the transport and its pools. Defaults
// to the standard library logger.
func WithLogger(logger pool.Logger) Option {
	return optionFunc(func(opts *transportOptions) {
		opts.logger = logger
	})
}

// WithClock substitutes the clock driving sniff scheduling and pool retry
// deadlines. Intended for tests.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(opts *transportOptions) {
		opts.clock = clock
	})
}

// WithConnFunc overrides how the transport constructs a connection for an
// endpoint address. Mostly useful for substituting connection
// implementations in tests.
func WithConnFunc(newConn func(address string) conn.Conn) Option {
	return optionFunc(func(opts *transportOptions) {
		opts.newConn = newConn
	})
}

// WithConnOptions passes options through to every connection the transport
// constructs. Ignored when WithConnFunc is also used.
func WithConnOptions(options ...conn.Option) Option {
	return optionFunc(func(opts *transportOptions) {
		opts.connOpts = append(opts.connOpts, options...)
	})
}

// WithPoolOptions passes options through to every pool the transport
// constructs.
func WithPoolOptions(options ...pool.Option) Option {
	return optionFunc(func(opts *transportOptions) {
		opts.poolOpts = append(opts.poolOpts, options...)
	})
}

type optionFunc func(*transportOptions)

func (f optionFunc) apply(opts *transportOptions) {
	f(opts)
}

type transportOptions struct {
	sniffInterval   time.Duration
	sniffTimeout    time.Duration
	sniffOnConnFail bool
	maxRetries      int
	requestTimeout  time.Duration
	logger          pool.Logger
	clock           internal.Clock
	newConn         func(address string) conn.Conn
	connOpts        []conn.Option
	poolOpts        []pool.Option
}

func newTransportOptions() transportOptions {
	return transportOptions{
		sniffTimeout: defaultSniffTimeout,
		maxRetries:   defaultMaxRetries,
	}
}

func (opts *transportOptions) applyDefaults() {
	if opts.logger == nil {
		opts.logger = pool.DefaultLogger{}
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
	if opts.newConn == nil {
		connOpts := opts.connOpts
		opts.newConn = func(address string) conn.Conn {
			return conn.New(address, connOpts...)
		}
	}
}
