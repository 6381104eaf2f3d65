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
	"net/http"
	"time"

	"github.com/hellysmile/aioes/conn"
)

const nodesInfoPath = "/_nodes/_all/clear"

type nodesInfoResponse struct {
	Nodes map[string]nodeInfo `json:"nodes"`
}

type nodeInfo struct {
	HTTPAddress string            `json:"http_address"`
	Attributes  map[string]string `json:"attributes"`
}

// servesRequests reports whether a node should receive traffic. Only a
// dedicated master is excluded: data=="false" and client=="false" and
// master=="true", with absent flags defaulting to data=true, client=false,
// master=true.
func (n nodeInfo) servesRequests() bool {
	attr := func(key, fallback string) string {
		if value, ok := n.Attributes[key]; ok {
			return value
		}
		return fallback
	}
	dedicatedMaster := attr("data", "true") == "false" &&
		attr("client", "false") == "false" &&
		attr("master", "true") == "true"
	return !dedicatedMaster
}

// Sniff queries the cluster for its current member list and replaces the
// transport's topology with the result. Candidates are tried in order: the
// current pool's connections first, then the seed connections, so discovery
// can still reach the cluster even with the whole pool marked dead. Each
// candidate request is bounded by the sniff timeout; connection failures
// and malformed responses move on to the next candidate.
//
// A failed sniff leaves the existing topology in effect and rolls lastSniff
// back to its pre-attempt value, so the next scheduled sniff is not
// suppressed.
func (t *Transport) Sniff(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	previousSniff := t.lastSniff
	// optimistic, so concurrent sniff triggers don't pile up
	t.lastSniff = t.clock.Now()
	sniffTimeout := t.sniffTimeout
	candidates := append(t.pool.Conns(), t.seedConns...)
	t.mu.Unlock()

	restoreLastSniff := func() {
		t.mu.Lock()
		t.lastSniff = previousSniff
		t.mu.Unlock()
	}

	info, ok := t.fetchNodesInfo(ctx, candidates, sniffTimeout)
	if !ok {
		restoreLastSniff()
		return ErrSniffFailed
	}

	endpoints := make([]Endpoint, 0, len(info.Nodes))
	for _, node := range info.Nodes {
		endpoint, ok := endpointFromNodeAddress(node.HTTPAddress)
		if !ok {
			continue
		}
		if node.servesRequests() {
			endpoints = append(endpoints, endpoint)
		}
	}
	if len(endpoints) == 0 {
		restoreLastSniff()
		return ErrNoViableEndpoints
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	t.endpoints = endpoints
	t.reinitPoolLocked()
	t.logger.Printf("transport: sniffed %d viable endpoints", len(endpoints))
	return nil
}

func (t *Transport) fetchNodesInfo(ctx context.Context, candidates []conn.Conn, timeout time.Duration) (*nodesInfoResponse, bool) {
	for _, c := range candidates {
		result, err := t.sniffCandidate(ctx, c, timeout)
		if err != nil || result.Status >= 300 {
			continue
		}
		var info nodesInfoResponse
		if err := codec.Unmarshal(result.Body, &info); err != nil || info.Nodes == nil {
			continue
		}
		return &info, true
	}
	return nil, false
}

func (t *Transport) sniffCandidate(ctx context.Context, c conn.Conn, timeout time.Duration) (*conn.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Perform(attemptCtx, http.MethodGet, nodesInfoPath, nil, nil)
}
