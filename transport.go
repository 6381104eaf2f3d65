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
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/hellysmile/aioes/conn"
	"github.com/hellysmile/aioes/internal"
	"github.com/hellysmile/aioes/pool"
)

// Transport is the resilient client-side transport for a clustered HTTP
// service. It owns the currently believed-live endpoint set and a
// connection pool over it, discovers cluster members by sniffing, spreads
// requests across members, quarantines failed ones, and retries failed
// requests against alternates.
//
// The main interface is PerformRequest. A Transport is safe for concurrent
// use; the pool reference is swapped in a single assignment under the
// transport mutex, so concurrent requests observe either the old or the new
// pool, never a half-built one.
type Transport struct {
	logger       pool.Logger
	clock        internal.Clock
	newConn      func(address string) conn.Conn
	basePoolOpts []pool.Option

	mu              sync.RWMutex
	endpoints       []Endpoint
	pool            *pool.Pool
	seedConns       []conn.Conn
	lastSniff       time.Time
	sniffInterval   time.Duration
	sniffTimeout    time.Duration
	sniffOnConnFail bool
	maxRetries      int
	requestTimeout  time.Duration
	closed          bool
}

// New constructs a Transport over the given endpoint specs ("host" or
// "host:port"; hosts without a port get DefaultPort). At least one endpoint
// is required. The connections built for the initial endpoint set are kept
// as seed connections: a discovery fallback that later topology churn never
// touches.
func New(endpoints []string, options ...Option) (*Transport, error) {
	opts := newTransportOptions()
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()

	parsed, err := parseEndpoints(endpoints)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		logger:          opts.logger,
		clock:           opts.clock,
		newConn:         opts.newConn,
		sniffInterval:   opts.sniffInterval,
		sniffTimeout:    opts.sniffTimeout,
		sniffOnConnFail: opts.sniffOnConnFail,
		maxRetries:      opts.maxRetries,
		requestTimeout:  opts.requestTimeout,
	}
	t.basePoolOpts = append([]pool.Option{
		pool.WithLogger(opts.logger),
		pool.WithClock(opts.clock),
	}, opts.poolOpts...)

	t.pool = pool.New(nil, t.basePoolOpts...)
	t.endpoints = parsed
	t.reinitPoolLocked()
	t.seedConns = t.pool.Conns()
	t.lastSniff = t.clock.Now()
	return t, nil
}

// Endpoints returns the currently believed-live topology, canonicalized.
func (t *Transport) Endpoints() []Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	endpoints := make([]Endpoint, len(t.endpoints))
	copy(endpoints, t.endpoints)
	return endpoints
}

// SetEndpoints replaces the topology and rebuilds the pool. Connections for
// endpoints present both before and after keep their identity and health
// state; connections for dropped endpoints are released. This is the only
// sanctioned way to force a pool rebuild outside of sniffing.
func (t *Transport) SetEndpoints(specs ...string) error {
	parsed, err := parseEndpoints(specs)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	t.endpoints = parsed
	t.reinitPoolLocked()
	return nil
}

// MaxRetries returns the retry budget per request.
func (t *Transport) MaxRetries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxRetries
}

// SetMaxRetries changes the retry budget per request. Negative values are
// treated as 0.
func (t *Transport) SetMaxRetries(maxRetries int) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxRetries = maxRetries
}

// SniffInterval returns the periodic discovery interval, zero if disabled.
func (t *Transport) SniffInterval() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sniffInterval
}

// SetSniffInterval changes the periodic discovery interval. Zero disables
// periodic discovery.
func (t *Transport) SetSniffInterval(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sniffInterval = interval
}

// SniffTimeout returns the per-discovery-request timeout.
func (t *Transport) SniffTimeout() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sniffTimeout
}

// SetSniffTimeout changes the per-discovery-request timeout.
func (t *Transport) SetSniffTimeout(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sniffTimeout = timeout
}

// LastSniff returns when discovery last ran (or was last attempted and
// rolled back).
func (t *Transport) LastSniff() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSniff
}

// Close releases all pooled connections and makes the Transport unusable
// for further requests.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.pool.Close()
}

// PerformRequest executes a request against the cluster, retrying
// connection-level failures (timeouts included) against alternate
// connections up to the retry budget. Attempts are strictly sequential.
// Caller-side cancellation ends the loop at once, without blaming the
// connection the canceled attempt happened to use.
// The non-nil body is serialized to the wire encoding once, before the
// first attempt; a non-empty response body is decoded back from it.
//
// The error from the final attempt is surfaced as-is. Intermediate attempt
// failures only show up as dead-marked connections (and, with
// WithSniffOnConnectionFailure, triggered discovery passes whose errors do
// surface, since discovery failing means the topology is unknown).
func (t *Transport) PerformRequest(ctx context.Context, method, path string, params url.Values, body any) (int, any, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = encodeBody(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	maxRetries := t.MaxRetries()
	for attempt := 0; ; attempt++ {
		c, err := t.getConn(ctx)
		if err != nil {
			return 0, nil, err
		}

		result, err := t.performAttempt(ctx, c, method, path, params, payload)
		if err != nil {
			if ctx.Err() != nil {
				// the caller gave up; the member is not at fault, so it
				// stays live and the cancellation surfaces untouched
				return 0, nil, err
			}
			if sniffErr := t.markDead(ctx, c); sniffErr != nil {
				return 0, nil, sniffErr
			}
			if attempt >= maxRetries {
				return 0, nil, err
			}
			continue
		}

		t.currentPool().MarkLive(c)
		if len(result.Body) == 0 {
			return result.Status, nil, nil
		}
		data, err := decodeBody(result.Body)
		if err != nil {
			return result.Status, nil, fmt.Errorf("decode response body: %w", err)
		}
		return result.Status, data, nil
	}
}

func (t *Transport) performAttempt(ctx context.Context, c conn.Conn, method, path string, params url.Values, payload []byte) (*conn.Result, error) {
	t.mu.RLock()
	timeout := t.requestTimeout
	t.mu.RUnlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Perform(ctx, method, path, params, payload)
}

// getConn runs the time-based sniff check, then delegates to the pool's
// selection. Pool errors propagate unchanged.
func (t *Transport) getConn(ctx context.Context) (conn.Conn, error) {
	t.mu.RLock()
	due := t.sniffInterval > 0 && t.clock.Since(t.lastSniff) >= t.sniffInterval
	t.mu.RUnlock()
	if due {
		if err := t.Sniff(ctx); err != nil {
			return nil, err
		}
	}

	t.mu.RLock()
	p := t.pool
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, errTransportClosed
	}
	return p.Get()
}

// markDead informs the pool the connection failed, then runs the
// failure-triggered discovery pass if enabled. The ordering matters: the
// connection must already be quarantined when the sniff iterates
// candidates, so discovery does not preferentially retry it.
func (t *Transport) markDead(ctx context.Context, c conn.Conn) error {
	t.currentPool().MarkDead(c)

	t.mu.RLock()
	sniffOnFail := t.sniffOnConnFail
	t.mu.RUnlock()
	if sniffOnFail {
		return t.Sniff(ctx)
	}
	return nil
}

func (t *Transport) currentPool() *pool.Pool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pool
}

// reinitPoolLocked rebuilds the pool around the current endpoint set.
// Existing connections are reused for endpoints that survive, carrying
// their health state over; only genuinely new endpoints get fresh
// connections, and dropped endpoints have theirs released when the old pool
// closes. The order is shuffled so load doesn't bias toward the
// first-listed member. Callers must hold t.mu.
func (t *Transport) reinitPoolLocked() {
	existing := make(map[string]conn.Conn)
	for _, c := range t.pool.Conns() {
		existing[c.Address()] = c
	}

	conns := make([]conn.Conn, 0, len(t.endpoints))
	statuses := make(map[string]pool.Status)
	for _, endpoint := range t.endpoints {
		address := endpoint.String()
		if c, ok := existing[address]; ok {
			// detach first so the old pool's close doesn't release it
			if status, detached := t.pool.Detach(c); detached {
				statuses[address] = status
			}
			conns = append(conns, c)
			delete(existing, address)
		} else {
			conns = append(conns, t.newConn(address))
		}
	}
	if err := t.pool.Close(); err != nil {
		t.logger.Printf("transport: closing old pool: %v", err)
	}

	rnd := internal.NewRand()
	rnd.Shuffle(len(conns), func(i, j int) {
		conns[i], conns[j] = conns[j], conns[i]
	})
	t.pool = pool.New(conns, append(t.basePoolOpts, pool.WithStatuses(statuses))...)
}
