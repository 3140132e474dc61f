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

import "testing"

// TestLevel_PiecewiseMapping walks the default cutoffs across their
// boundaries.
func TestLevel_PiecewiseMapping(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		score float64
		want  string
	}{
		{0, LevelNormal},
		{49.999, LevelNormal},
		{50, LevelLow},
		{74.999, LevelLow},
		{75, LevelMedium},
		{85, LevelMedium},
		{89.999, LevelMedium},
		{90, LevelHigh},
		{100, LevelHigh},
	}
	for _, c := range cases {
		if got := th.Level(c.score, CombinedScoreFamily); got != c.want {
			t.Fatalf("Level(%v) = %q, want %q", c.score, got, c.want)
		}
	}
}

// TestLevel_MissingFamilyUsesDefaults verifies the documented fallback when
// a family is absent from the table, including a nil receiver.
func TestLevel_MissingFamilyUsesDefaults(t *testing.T) {
	th := &Thresholds{Families: map[string]Cutoffs{
		"transaction_score": {LowMax: 10, MediumMax: 20, HighMin: 30},
	}}
	if got := th.Level(60, CombinedScoreFamily); got != LevelLow {
		t.Fatalf("missing family: Level(60) = %q, want %q", got, LevelLow)
	}
	var nilTh *Thresholds
	if got := nilTh.Level(95, CombinedScoreFamily); got != LevelHigh {
		t.Fatalf("nil thresholds: Level(95) = %q, want %q", got, LevelHigh)
	}
}

// TestLevel_CustomFamily ensures the named family's cutoffs win over the
// defaults.
func TestLevel_CustomFamily(t *testing.T) {
	th := &Thresholds{Families: map[string]Cutoffs{
		CombinedScoreFamily: {LowMax: 10, MediumMax: 20, HighMin: 95},
	}}
	if got := th.Level(15, CombinedScoreFamily); got != LevelLow {
		t.Fatalf("Level(15) = %q, want %q", got, LevelLow)
	}
	if got := th.Level(94, CombinedScoreFamily); got != LevelMedium {
		t.Fatalf("Level(94) = %q, want %q", got, LevelMedium)
	}
}

// TestLevel_TotalFunction verifies property 5: equal inputs always map to
// the same level across the full score range.
func TestLevel_TotalFunction(t *testing.T) {
	th := DefaultThresholds()
	for s := 0.0; s <= 100.0; s += 0.25 {
		a := th.Level(s, CombinedScoreFamily)
		b := th.Level(s, CombinedScoreFamily)
		if a != b {
			t.Fatalf("Level(%v) unstable: %q then %q", s, a, b)
		}
		switch a {
		case LevelNormal, LevelLow, LevelMedium, LevelHigh:
		default:
			t.Fatalf("Level(%v) = %q, not a defined level", s, a)
		}
	}
}
