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

// Package aioes provides a resilient client-side transport for talking to a
// clustered HTTP search/storage service.
//
// The transport discovers live cluster members by "sniffing" the cluster's
// node-info API, spreads requests across members, quarantines members that
// fail, retries failed requests against alternates, and periodically
// refreshes the member list. The underlying single-endpoint request
// execution lives in the conn package; selection and dead/live bookkeeping
// live in the pool package.
//
// Basic usage:
//
//	transport, err := aioes.New(
//		[]string{"es1.internal:9200", "es2.internal"},
//		aioes.WithSniffInterval(time.Minute),
//		aioes.WithSniffOnConnectionFailure(),
//	)
//	if err != nil {
//		return err
//	}
//	defer transport.Close()
//
//	status, data, err := transport.PerformRequest(
//		ctx, http.MethodGet, "/_cluster/health", nil, nil)
//
// All time-based policy (sniff interval, quarantine backoff) is evaluated
// lazily on the next request; the transport runs no background goroutines.
package aioes
