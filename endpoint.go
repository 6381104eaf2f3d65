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
	"net"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPort is assumed for endpoint specs that name only a host.
const DefaultPort = 9200

// Endpoint identifies one cluster member. It is a value type, comparable
// and usable as a map key; the transport keys connection reuse on it.
type Endpoint struct {
	Host string
	Port int
}

// String returns the canonical "host:port" form, bracketing IPv6 hosts.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint converts a raw endpoint spec into a canonical Endpoint.
// Accepted forms are "host:port", "[v6]:port", a bare host name, and a bare
// IPv6 literal; host-only forms get DefaultPort. Anything else is rejected
// with a *BadEndpointError.
func ParseEndpoint(spec string) (Endpoint, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return Endpoint{}, &BadEndpointError{Spec: spec, Reason: "empty endpoint"}
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) && strings.Contains(addrErr.Err, "missing port") {
			return Endpoint{Host: strings.Trim(s, "[]"), Port: DefaultPort}, nil
		}
		// "too many colons": either a bare IPv6 literal or garbage
		if ip := net.ParseIP(strings.Trim(s, "[]")); ip != nil {
			return Endpoint{Host: ip.String(), Port: DefaultPort}, nil
		}
		return Endpoint{}, &BadEndpointError{Spec: spec, Reason: err.Error()}
	}
	if host == "" {
		return Endpoint{}, &BadEndpointError{Spec: spec, Reason: "empty host"}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, &BadEndpointError{Spec: spec, Reason: "invalid port " + strconv.Quote(portStr)}
	}
	return Endpoint{Host: host, Port: port}, nil
}

func parseEndpoints(specs []string) ([]Endpoint, error) {
	if len(specs) == 0 {
		return nil, &BadEndpointError{Spec: "", Reason: "at least one endpoint is required"}
	}
	endpoints := make([]Endpoint, 0, len(specs))
	for _, spec := range specs {
		endpoint, err := ParseEndpoint(spec)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

// nodeAddressRe extracts "host:port" from the free-form publish address
// reported by a node, e.g. "inet[wind/127.0.0.1:9200]".
var nodeAddressRe = regexp.MustCompile(`/(?P<host>[\.:0-9a-f]*):(?P<port>[0-9]+)\]?$`)

func endpointFromNodeAddress(address string) (Endpoint, bool) {
	match := nodeAddressRe.FindStringSubmatch(address)
	if match == nil {
		return Endpoint{}, false
	}
	port, err := strconv.Atoi(match[2])
	if err != nil {
		return Endpoint{}, false
	}
	return Endpoint{Host: match[1], Port: port}, true
}
