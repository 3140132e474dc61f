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

import "math"

// NoAnchorScore is the score assigned when the KNN query returns no
// neighbours at all: a subject with no anchor in the reference population
// is itself a risk signal.
const NoAnchorScore = 85.0

// Score reduces a KNN neighbourhood to a composite risk score in [0, 100].
// Neighbours must be ordered by ascending distance. The composite blends
// three views of the neighbourhood:
//
//	label risk        — how many of the neighbours are known risk-positive,
//	                    with a bonus when positives concentrate at the top;
//	similarity risk   — how tightly the subject sits inside the population
//	                    (close neighbourhoods are suspicious, remote ones are not);
//	distribution risk — dispersion of distances plus label consistency of
//	                    the far neighbours.
//
// A handful of ordered adjustments then handle near-duplicates, outliers,
// consensus neighbourhoods and thin result sets.
func Score(neighbours []Neighbour) float64 {
	if len(neighbours) == 0 {
		return NoAnchorScore
	}

	dists := make([]float64, len(neighbours))
	for i, n := range neighbours {
		dists[i] = n.Distance
	}

	composite := 0.4*labelRisk(neighbours) +
		0.35*similarityRisk(dists) +
		0.25*distributionRisk(neighbours, dists)

	// Adjustments, applied in order.
	avg := mean(dists)
	if minOf(dists) < 0.01 {
		composite += 15
	}
	if maxOf(dists) > 0.95 {
		composite -= 10
	}
	if allLabelled(neighbours) {
		// Consensus neighbourhoods: when every close neighbour agrees on a
		// label, the neighbourhood itself is the signal. An all-negative
		// close cluster is an anomaly (the subject resembles cases known to
		// be clean yet queries keep arriving about it); an all-positive
		// close cluster is a near-certain hit.
		if avg < 0.2 {
			if allLabelsAre(neighbours, 0) && composite < 65 {
				composite = 65
			}
			if allLabelsAre(neighbours, 1) && composite < 90 {
				composite = 90
			}
		}
	}
	if len(dists) < 5 {
		composite += 10
	}

	return clip(composite, 0, 100)
}

// labelRisk scores the neighbourhood by the share of risk-positive labels,
// boosted when positives sit among the three nearest labelled neighbours.
// Neighbours without a label are ignored; a fully unlabelled neighbourhood
// is neutral (50).
func labelRisk(neighbours []Neighbour) float64 {
	var labelled, positives int
	var top3, top3Pos int
	for _, n := range neighbours {
		if n.Label == nil {
			continue
		}
		labelled++
		if *n.Label == 1 {
			positives++
		}
		if top3 < 3 {
			top3++
			if *n.Label == 1 {
				top3Pos++
			}
		}
	}
	if labelled == 0 {
		return 50
	}
	base := float64(positives) / float64(labelled) * 100
	var bonus float64
	if top3Pos > 0 {
		bonus = float64(top3Pos) / float64(minInt(3, labelled)) * 20
	}
	return math.Min(100, base+bonus)
}

// similarityRisk maps the average and maximum neighbour distance through a
// calibrated piecewise curve. Lower distances (tighter neighbourhoods)
// translate to higher risk.
func similarityRisk(dists []float64) float64 {
	avg := mean(dists)
	max := maxOf(dists)

	var avgRisk float64
	switch {
	case avg < 0.1:
		avgRisk = 80
	case avg < 0.3:
		avgRisk = 60 + (0.3-avg)*100
	case avg > 0.8:
		avgRisk = 10
	default:
		avgRisk = 40 - (avg-0.3)*60
	}

	var maxRisk float64
	switch {
	case max < 0.2:
		maxRisk = 70
	case max > 0.9:
		maxRisk = 5
	default:
		maxRisk = 35 - (max-0.2)*42.8
	}

	return clip(0.7*avgRisk+0.3*maxRisk, 0, 100)
}

// distributionRisk blends the spread of distances with the label
// consistency of the far (>0.5) neighbours.
func distributionRisk(neighbours []Neighbour, dists []float64) float64 {
	sigma := stddev(dists)
	var dispersion float64
	switch {
	case sigma > 0.3:
		dispersion = 60
	case sigma < 0.05:
		dispersion = 20
	default:
		dispersion = 20 + (sigma-0.05)*160
	}

	consistency := 30.0
	if allLabelled(neighbours) {
		var far, farNeg int
		for _, n := range neighbours {
			if n.Distance > 0.5 {
				far++
				if *n.Label == 0 {
					farNeg++
				}
			}
		}
		if far > 0 {
			consistency = 60 * (1 - float64(farNeg)/float64(far))
		}
	}

	return 0.6*dispersion + 0.4*consistency
}

func allLabelled(neighbours []Neighbour) bool {
	for _, n := range neighbours {
		if n.Label == nil {
			return false
		}
	}
	return len(neighbours) > 0
}

func allLabelsAre(neighbours []Neighbour, want int) bool {
	for _, n := range neighbours {
		if n.Label == nil || *n.Label != want {
			return false
		}
	}
	return len(neighbours) > 0
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
