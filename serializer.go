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
	jsoniter "github.com/json-iterator/go"
)

// codec is the wire encoding for request bodies, response bodies and node
// discovery documents. jsoniter with stdlib-compatible settings: encoding
// sits on the retry path, so the hot path gets the faster implementation
// without changing semantics.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

func encodeBody(body any) ([]byte, error) {
	return codec.Marshal(body)
}

func decodeBody(data []byte) (any, error) {
	var value any
	if err := codec.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
