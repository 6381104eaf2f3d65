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
	"errors"
	"fmt"
)

var (
	// ErrSniffFailed is returned when no candidate connection produced a
	// usable discovery response.
	ErrSniffFailed = errors.New("unable to sniff endpoints")
	// ErrNoViableEndpoints is returned when discovery succeeded but every
	// reported node was filtered out (e.g. a cluster of dedicated masters).
	ErrNoViableEndpoints = errors.New("unable to sniff endpoints: no viable endpoints found")

	errTransportClosed = errors.New("transport is closed")
)

// BadEndpointError reports a malformed endpoint spec. It is a configuration
// error: raised synchronously when endpoints are set, never retried.
type BadEndpointError struct {
	Spec   string
	Reason string
}

func (e *BadEndpointError) Error() string {
	return fmt.Sprintf("bad endpoint %q: %s", e.Spec, e.Reason)
}
