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

package artefact

import (
	"encoding/json"
	"fmt"
	"os"

	"risk"
)

// Standardiser applies the per-feature affine transform fitted offline:
// (x - mean) / scale, element-wise over the 35 raw features.
type Standardiser struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// LoadStandardiser reads and validates a standardiser artefact.
func LoadStandardiser(path string) (*Standardiser, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read standardiser: %w", err)
	}
	var s Standardiser
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse standardiser: %w", err)
	}
	if len(s.Mean) != risk.FeatureDim || len(s.Scale) != risk.FeatureDim {
		return nil, fmt.Errorf("standardiser shape: mean=%d scale=%d, want %d",
			len(s.Mean), len(s.Scale), risk.FeatureDim)
	}
	// A zero scale would blow up the division; treat it as identity for
	// that feature, matching how constant columns are fitted.
	for i, sc := range s.Scale {
		if sc == 0 {
			s.Scale[i] = 1
		}
	}
	return &s, nil
}

// Apply standardises one raw feature vector into a fresh slice.
func (s *Standardiser) Apply(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = (x - s.Mean[i]) / s.Scale[i]
	}
	return out
}
