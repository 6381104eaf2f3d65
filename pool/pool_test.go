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

package pool

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellysmile/aioes/conn"
)

type testConn struct {
	addr string

	mu     sync.Mutex
	closed bool
}

func (c *testConn) Address() string {
	return c.addr
}

func (c *testConn) Perform(context.Context, string, string, url.Values, []byte) (*conn.Result, error) {
	return &conn.Result{Status: http.StatusOK}, nil
}

func (c *testConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testConns(addrs ...string) []conn.Conn {
	conns := make([]conn.Conn, len(addrs))
	for i, addr := range addrs {
		conns[i] = &testConn{addr: addr}
	}
	return conns
}

func getAddr(t *testing.T, p *Pool) string {
	t.Helper()
	c, err := p.Get()
	require.NoError(t, err)
	return c.Address()
}

func TestGetRoundRobin(t *testing.T) {
	t.Parallel()

	p := New(testConns("a", "b", "c"))
	assert.Equal(t, "a", getAddr(t, p))
	assert.Equal(t, "b", getAddr(t, p))
	assert.Equal(t, "c", getAddr(t, p))
	assert.Equal(t, "a", getAddr(t, p))
}

func TestGetSkipsDead(t *testing.T) {
	t.Parallel()

	conns := testConns("a", "b", "c")
	p := New(conns, WithClock(clockwork.NewFakeClock()))
	p.MarkDead(conns[1])

	assert.Equal(t, "a", getAddr(t, p))
	assert.Equal(t, "c", getAddr(t, p))
	assert.Equal(t, "a", getAddr(t, p))
}

func TestGetProbesDeadAfterRetryDelay(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	conns := testConns("a", "b", "c")
	p := New(conns, WithClock(clk), WithInitialRetryDelay(time.Minute))
	p.MarkDead(conns[1])

	assert.Equal(t, "a", getAddr(t, p))
	assert.Equal(t, "c", getAddr(t, p))

	clk.Advance(61 * time.Second)
	assert.Equal(t, "a", getAddr(t, p))
	assert.Equal(t, "b", getAddr(t, p), "b is due for a probe")

	// the probe pushed the deadline, so b is skipped again until it is
	// marked live or the delay passes once more
	assert.Equal(t, "c", getAddr(t, p))
	assert.Equal(t, "a", getAddr(t, p))
}

func TestGetForcesProbeWhenAllDead(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	conns := testConns("a", "b")
	p := New(conns, WithClock(clk), WithLogger(discardLogger{}))
	p.MarkDead(conns[0])
	clk.Advance(time.Second)
	p.MarkDead(conns[1])

	// nothing is due for retry, yet selection must still hand out the
	// connection closest to its deadline so the pool keeps probing
	assert.Equal(t, "a", getAddr(t, p))
}

func TestMarkLiveResetsFailureState(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	conns := testConns("a")
	p := New(conns, WithClock(clk))

	p.MarkDead(conns[0])
	status, ok := p.Status(conns[0])
	require.True(t, ok)
	assert.True(t, status.Dead)
	assert.Equal(t, 1, status.Failures)

	p.MarkLive(conns[0])
	status, ok = p.Status(conns[0])
	require.True(t, ok)
	assert.False(t, status.Dead)
	assert.Zero(t, status.Failures)
	assert.Equal(t, "a", getAddr(t, p))
}

func TestMarkDeadBacksOffExponentially(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	conns := testConns("a")
	p := New(conns,
		WithClock(clk),
		WithInitialRetryDelay(time.Minute),
		WithMaxRetryInterval(3*time.Minute))

	p.MarkDead(conns[0])
	status, _ := p.Status(conns[0])
	assert.Equal(t, time.Minute, status.RetryDelay)

	p.MarkDead(conns[0])
	status, _ = p.Status(conns[0])
	assert.Equal(t, 2*time.Minute, status.RetryDelay)

	p.MarkDead(conns[0])
	status, _ = p.Status(conns[0])
	assert.Equal(t, 3*time.Minute, status.RetryDelay, "backoff must cap at the max interval")
	assert.Equal(t, 3, status.Failures)
}

func TestDetachCarriesStatus(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	conns := testConns("a", "b")
	p := New(conns, WithClock(clk))
	p.MarkDead(conns[1])

	status, ok := p.Detach(conns[1])
	require.True(t, ok)
	assert.True(t, status.Dead)
	assert.Equal(t, 1, p.Len())
	assert.False(t, conns[1].(*testConn).isClosed(), "detach must not close")

	replacement := New([]conn.Conn{conns[1]},
		WithClock(clk),
		WithStatuses(map[string]Status{"b": status}))
	carried, ok := replacement.Status(conns[1])
	require.True(t, ok)
	assert.True(t, carried.Dead)
	assert.Equal(t, status.NextRetry, carried.NextRetry)
}

func TestCloseReleasesConnections(t *testing.T) {
	t.Parallel()

	conns := testConns("a", "b")
	p := New(conns)
	detachedStatus, ok := p.Detach(conns[0])
	require.True(t, ok)
	assert.False(t, detachedStatus.Dead)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "closing twice must be a no-op")

	assert.False(t, conns[0].(*testConn).isClosed(), "detached connections are not the pool's to close")
	assert.True(t, conns[1].(*testConn).isClosed())

	_, err := p.Get()
	require.ErrorIs(t, err, ErrClosed)
}

func TestGetEmptyPool(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Get()
	require.ErrorIs(t, err, ErrNoConns)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}
