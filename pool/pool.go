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

// Package pool implements the connection pool: an ordered collection of
// connections with round-robin selection and dead/live health bookkeeping.
//
// A connection marked dead is skipped by selection until a retry deadline
// passes; the deadline backs off exponentially with consecutive failures.
// When every connection is dead and none is due for retry, selection hands
// out the one closest to its deadline rather than failing, so a fully
// quarantined pool still probes the cluster instead of going dark.
package pool

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hellysmile/aioes/conn"
	"github.com/hellysmile/aioes/internal"
)

const (
	defaultInitialRetryDelay = time.Minute
	defaultMaxRetryInterval  = 15 * time.Minute
)

var (
	// ErrNoConns is returned by Get when the pool holds no connections.
	ErrNoConns = errors.New("no live connections available")
	// ErrClosed is returned by Get after Close.
	ErrClosed = errors.New("connection pool is closed")
)

// Status is a snapshot of one connection's health bookkeeping. It travels
// with a connection when the transport detaches it from an old pool and
// seeds it into a rebuilt one, so a rebuild never resets accumulated state.
type Status struct {
	Dead       bool
	Failures   int
	RetryDelay time.Duration
	NextRetry  time.Time
}

type entry struct {
	conn       conn.Conn
	dead       bool
	failures   int
	retryDelay time.Duration
	nextRetry  time.Time
}

func (e *entry) status() Status {
	return Status{
		Dead:       e.dead,
		Failures:   e.failures,
		RetryDelay: e.retryDelay,
		NextRetry:  e.nextRetry,
	}
}

// Option is an option used to customize the behavior of a Pool.
type Option interface {
	apply(*poolOptions)
}

// WithInitialRetryDelay sets how long a connection stays quarantined after
// its first failure. Defaults to one minute.
func WithInitialRetryDelay(delay time.Duration) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.initialRetryDelay = delay
	})
}

// WithMaxRetryInterval caps the exponential backoff applied to repeatedly
// failing connections. Defaults to 15 minutes.
func WithMaxRetryInterval(interval time.Duration) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.maxRetryInterval = interval
	})
}

// WithLogger sets the logger used for dead-marking events.
func WithLogger(logger Logger) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.logger = logger
	})
}

// WithClock substitutes the clock used for retry deadlines. Intended for
// tests.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.clock = clock
	})
}

// WithStatuses seeds health state for connections, keyed by address. Used by
// the transport when rebuilding a pool around detached connections.
func WithStatuses(statuses map[string]Status) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.statuses = statuses
	})
}

type optionFunc func(*poolOptions)

func (f optionFunc) apply(opts *poolOptions) {
	f(opts)
}

type poolOptions struct {
	initialRetryDelay time.Duration
	maxRetryInterval  time.Duration
	logger            Logger
	clock             internal.Clock
	statuses          map[string]Status
}

func (opts *poolOptions) applyDefaults() {
	if opts.initialRetryDelay == 0 {
		opts.initialRetryDelay = defaultInitialRetryDelay
	}
	if opts.maxRetryInterval == 0 {
		opts.maxRetryInterval = defaultMaxRetryInterval
	}
	if opts.logger == nil {
		opts.logger = DefaultLogger{}
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
}

// Pool holds an ordered collection of connections. It is safe for
// concurrent use.
type Pool struct {
	initialRetryDelay time.Duration
	maxRetryInterval  time.Duration
	logger            Logger
	clock             internal.Clock

	mu      sync.Mutex
	entries []*entry
	byAddr  map[string]*entry
	next    int
	closed  bool
}

// New constructs a Pool over the given connections, preserving their order.
func New(conns []conn.Conn, options ...Option) *Pool {
	var opts poolOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()

	pool := &Pool{
		initialRetryDelay: opts.initialRetryDelay,
		maxRetryInterval:  opts.maxRetryInterval,
		logger:            opts.logger,
		clock:             opts.clock,
		entries:           make([]*entry, 0, len(conns)),
		byAddr:            make(map[string]*entry, len(conns)),
	}
	for _, c := range conns {
		e := &entry{conn: c}
		if status, ok := opts.statuses[c.Address()]; ok {
			e.dead = status.Dead
			e.failures = status.Failures
			e.retryDelay = status.RetryDelay
			e.nextRetry = status.NextRetry
		}
		pool.entries = append(pool.entries, e)
		pool.byAddr[c.Address()] = e
	}
	return pool
}

// Get selects a connection round-robin, skipping dead connections that are
// not yet due for a retry probe. When every connection is dead and none is
// due, the one with the earliest retry deadline is returned as a forced
// probe. Fails only when the pool is empty or closed.
func (p *Pool) Get() (conn.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if len(p.entries) == 0 {
		return nil, ErrNoConns
	}

	now := p.clock.Now()
	count := len(p.entries)
	for i := 0; i < count; i++ {
		index := (p.next + i) % count
		e := p.entries[index]
		if !e.dead {
			p.next = index + 1
			return e.conn, nil
		}
		if !e.nextRetry.After(now) {
			// due for a probe; push the deadline so concurrent callers
			// don't all pile onto the same dead connection
			e.nextRetry = now.Add(e.retryDelay)
			p.next = index + 1
			return e.conn, nil
		}
	}

	probe := p.entries[0]
	for _, e := range p.entries[1:] {
		if e.nextRetry.Before(probe.nextRetry) {
			probe = e
		}
	}
	probe.nextRetry = now.Add(probe.retryDelay)
	p.logger.Printf("pool: all connections dead, forcing probe of %s", probe.conn.Address())
	return probe.conn, nil
}

// MarkDead records a failure on the connection and quarantines it. Repeated
// failures double the quarantine up to the configured maximum.
func (p *Pool) MarkDead(c conn.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byAddr[c.Address()]
	if !ok {
		return
	}
	e.failures++
	if e.dead {
		e.retryDelay *= 2
		if e.retryDelay > p.maxRetryInterval {
			e.retryDelay = p.maxRetryInterval
		}
	} else {
		e.dead = true
		e.retryDelay = p.initialRetryDelay
	}
	e.nextRetry = p.clock.Now().Add(e.retryDelay)
	p.logger.Printf("pool: marking %s dead for %s (%d failures)", c.Address(), e.retryDelay, e.failures)
}

// MarkLive clears the connection's failure state.
func (p *Pool) MarkLive(c conn.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byAddr[c.Address()]
	if !ok {
		return
	}
	e.dead = false
	e.failures = 0
	e.retryDelay = 0
	e.nextRetry = time.Time{}
}

// Detach removes the connection from the pool without closing it, returning
// its health snapshot so the caller can carry the state into a new pool.
func (p *Pool) Detach(c conn.Conn) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byAddr[c.Address()]
	if !ok {
		return Status{}, false
	}
	delete(p.byAddr, c.Address())
	for i, candidate := range p.entries {
		if candidate == e {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	return e.status(), true
}

// Status reports the health snapshot of the given connection.
func (p *Pool) Status(c conn.Conn) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byAddr[c.Address()]
	if !ok {
		return Status{}, false
	}
	return e.status(), true
}

// Conns returns an ordered snapshot of the pool's connections.
func (p *Pool) Conns() []conn.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := make([]conn.Conn, len(p.entries))
	for i, e := range p.entries {
		conns[i] = e.conn
	}
	return conns
}

// Len returns the number of connections currently in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close releases every remaining connection and makes the pool unusable.
// Detached connections are not touched.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = nil
	p.byAddr = nil
	p.mu.Unlock()

	group := new(errgroup.Group)
	for _, e := range entries {
		group.Go(e.conn.Close)
	}
	return group.Wait()
}
