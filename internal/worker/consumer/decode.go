// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package consumer

import (
	"encoding/json"
	"fmt"

	"risk"
)

// decodeRequest parses a delivery body into a request envelope. Some
// producers double-encode: the body is a JSON string whose content is the
// actual JSON object. Both layers are accepted, as is the legacy flat
// layout carrying feature_1..feature_35 instead of a vector array.
// Validation of the vector itself is the kernel's job; here only the
// envelope shape is checked.
func decodeRequest(body []byte) (risk.RequestEnvelope, error) {
	var req risk.RequestEnvelope

	payload := body
	var asString string
	if err := json.Unmarshal(body, &asString); err == nil {
		payload = []byte(asString)
	}

	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("malformed payload: %w", err)
	}
	if req.RequestID == "" {
		return req, fmt.Errorf("malformed payload: missing requestId")
	}
	if req.Vector == nil {
		req.Vector = flatFeatures(payload)
	}
	return req, nil
}

// flatFeatures collects the legacy feature_1..feature_35 fields. It returns
// nil unless every feature is present and numeric; a partial set is left
// for the kernel to reject as a dimension mismatch.
func flatFeatures(payload []byte) []float64 {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	vec := make([]float64, risk.FeatureDim)
	for i := range vec {
		raw, ok := fields[fmt.Sprintf("feature_%d", i+1)]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(raw, &vec[i]); err != nil {
			return nil
		}
	}
	return vec
}
