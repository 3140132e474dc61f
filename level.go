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

// CombinedScoreFamily is the threshold family consulted by the streaming
// pipeline. Threshold files may carry additional families for other
// surfaces; they are kept but never cross-mapped.
const CombinedScoreFamily = "combined_score"

// Cutoffs are the calibrated boundaries of one score family.
type Cutoffs struct {
	LowMax    float64 `json:"low_max"`
	MediumMax float64 `json:"medium_max"`
	HighMin   float64 `json:"high_min"`
}

// DefaultCutoffs is the documented fallback used when a family (or the
// whole thresholds artefact) is absent.
var DefaultCutoffs = Cutoffs{LowMax: 50, MediumMax: 75, HighMin: 90}

// Thresholds maps score families to calibrated cutoffs. Method records the
// offline calibration method for provenance; it does not affect mapping.
type Thresholds struct {
	Families map[string]Cutoffs
	Method   string
}

// DefaultThresholds returns a thresholds table holding only the default
// cutoffs for the combined score family.
func DefaultThresholds() *Thresholds {
	return &Thresholds{
		Families: map[string]Cutoffs{CombinedScoreFamily: DefaultCutoffs},
		Method:   "default",
	}
}

// Level maps a score to a categorical level using the named family's
// cutoffs, falling back to DefaultCutoffs when the family is absent.
// It is a total function: equal inputs always yield equal output.
func (t *Thresholds) Level(score float64, family string) string {
	c := DefaultCutoffs
	if t != nil {
		if fc, ok := t.Families[family]; ok {
			c = fc
		}
	}
	switch {
	case score < c.LowMax:
		return LevelNormal
	case score < c.MediumMax:
		return LevelLow
	case score >= c.HighMin:
		return LevelHigh
	default:
		return LevelMedium
	}
}
