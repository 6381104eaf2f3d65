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

import "log"

// Logger is the minimal logging surface the pool (and the transport above
// it) writes to. Any implementation with a Printf method will do.
type Logger interface {
	Printf(msg string, args ...any)
}

// DefaultLogger writes through the standard library log package.
type DefaultLogger struct{}

func (DefaultLogger) Printf(msg string, args ...any) {
	log.Printf(msg, args...)
}
