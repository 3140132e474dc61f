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

package risk

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// TestNewFeatureVector_LengthBoundaries rejects 34- and 36-element vectors
// with an error that mentions the dimension.
func TestNewFeatureVector_LengthBoundaries(t *testing.T) {
	for _, n := range []int{0, 34, 36} {
		_, err := NewFeatureVector(make([]float64, n))
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Fatalf("len=%d: err = %v, want ErrDimensionMismatch", n, err)
		}
		if !strings.Contains(err.Error(), "dimension") {
			t.Fatalf("len=%d: error %q does not mention dimension", n, err)
		}
	}
	if _, err := NewFeatureVector(make([]float64, FeatureDim)); err != nil {
		t.Fatalf("valid vector rejected: %v", err)
	}
}

// TestNewFeatureVector_NonFinite rejects NaN and both infinities.
func TestNewFeatureVector_NonFinite(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		vals := make([]float64, FeatureDim)
		vals[17] = bad
		if _, err := NewFeatureVector(vals); !errors.Is(err, ErrNonFinite) {
			t.Fatalf("element %v: err = %v, want ErrNonFinite", bad, err)
		}
	}
}

// TestErrorEnvelope_PropagatesRequestID checks the ERROR envelope shape.
func TestErrorEnvelope_PropagatesRequestID(t *testing.T) {
	env := ErrorEnvelope("r-42", "subject-7", "dimension mismatch: got 36 elements, want 35")
	if env.RequestID != "r-42" || env.SubjectID != "subject-7" {
		t.Fatalf("ids not propagated: %+v", env)
	}
	if env.Status != StatusError || env.RiskLevel != LevelUnknown {
		t.Fatalf("unexpected status/level: %+v", env)
	}
	if env.Message == "" {
		t.Fatalf("ERROR envelope must carry a message")
	}
}
