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

// Package conn provides the representation of a connection to a single
// cluster member. A connection is a *logical* connection: it owns exactly one
// endpoint and executes one request at a time against it, but may be backed
// by any number of physical sockets.
//
// Connections carry no health bookkeeping of their own. Dead/live state is
// owned entirely by the pool package.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Conn executes single requests against one cluster member.
type Conn interface {
	// Address returns the "host:port" of the member this connection talks to.
	Address() string
	// Perform executes one request. Network and protocol level failures,
	// along with 5xx responses, are reported as a *Error; any other HTTP
	// response is returned as-is, interpreting it is the caller's concern.
	Perform(ctx context.Context, method, path string, params url.Values, body []byte) (*Result, error)
	// Close releases the connection. A closed connection fails all
	// subsequent Perform calls.
	Close() error
}

// Result is a single successfully transported HTTP response.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Error is a connection-level failure: the request could not be transported
// to or from the member, or the member answered with a 5xx. It is the
// retriable kind of failure, as opposed to a response the member produced
// deliberately.
type Error struct {
	Address string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("connection error on %s: %v", e.Address, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError reports whether err represents a connection-level failure.
// Timeouts count: an attempt that ran out of time is indistinguishable, for
// retry purposes, from a member that never answered.
func IsError(err error) bool {
	var connErr *Error
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
