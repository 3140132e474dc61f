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

// Package kernel turns request envelopes into result envelopes: validate,
// standardise, embed as one batch, search neighbours, score and map to a
// level. It has no broker or HTTP knowledge.
package kernel

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"risk"
	"risk/internal/worker/artefact"
)

// Searcher finds nearest neighbours for an embedding. It must not fail:
// degraded lookups return an empty neighbourhood.
type Searcher interface {
	KNN(ctx context.Context, embedding []float64, k int) []risk.Neighbour
}

// DefaultK is the neighbourhood size used for every search.
const DefaultK = 10

// Kernel scores batches of requests.
type Kernel struct {
	artefacts *artefact.Registry
	idx       Searcher
	k         int
}

// New builds a kernel. k <= 0 selects DefaultK.
func New(reg *artefact.Registry, idx Searcher, k int) *Kernel {
	if k <= 0 {
		k = DefaultK
	}
	return &Kernel{artefacts: reg, idx: idx, k: k}
}

// ScoreBatch assesses every request and returns exactly one result per
// request, in input order. Invalid requests yield ERROR envelopes; they
// never fail the rest of the batch. The encoder runs once over all valid
// rows.
func (k *Kernel) ScoreBatch(ctx context.Context, reqs []risk.RequestEnvelope) []risk.ResultEnvelope {
	results := make([]risk.ResultEnvelope, len(reqs))

	std, stdErr := k.artefacts.Standardiser()
	enc, encErr := k.artefacts.Encoder()
	if stdErr != nil || encErr != nil {
		for i, req := range reqs {
			results[i] = risk.ErrorEnvelope(req.RequestID, req.SubjectID,
				artefact.ErrArtefactUnavailable.Error())
		}
		return results
	}

	// Validate up front so one malformed vector cannot poison the batch
	// matrix; valid rows keep their positions via the index map.
	valid := make([]int, 0, len(reqs))
	rows := make([][]float64, 0, len(reqs))
	for i, req := range reqs {
		fv, err := risk.NewFeatureVector(req.Vector)
		if err != nil {
			results[i] = risk.ErrorEnvelope(req.RequestID, req.SubjectID, err.Error())
			continue
		}
		valid = append(valid, i)
		rows = append(rows, std.Apply(fv))
	}
	if len(valid) == 0 {
		return results
	}

	x := mat.NewDense(len(rows), risk.FeatureDim, nil)
	for r, row := range rows {
		x.SetRow(r, row)
	}
	embeddings := enc.Forward(x)

	thresholds := k.artefacts.Thresholds()
	for r, i := range valid {
		req := reqs[i]
		emb := embeddings.RawRowView(r)
		neighbours := k.idx.KNN(ctx, emb, k.k)
		score := risk.Score(neighbours)
		level := thresholds.Level(score, risk.CombinedScoreFamily)
		log.WithFields(log.Fields{
			"request_id": req.RequestID,
			"subject_id": req.SubjectID,
			"neighbours": len(neighbours),
			"score":      fmt.Sprintf("%.2f", score),
			"level":      level,
		}).Debug("request scored")
		results[i] = risk.ResultEnvelope{
			RequestID:  req.RequestID,
			Status:     risk.StatusSuccess,
			SubjectID:  req.SubjectID,
			RiskScore:  score,
			RiskLevel:  level,
			Neighbours: neighbours,
		}
	}
	return results
}

// ScoreOne assesses a single request.
func (k *Kernel) ScoreOne(ctx context.Context, req risk.RequestEnvelope) risk.ResultEnvelope {
	return k.ScoreBatch(ctx, []risk.RequestEnvelope{req})[0]
}
