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

// Package risk holds the pure data model and scoring arithmetic of the
// streaming risk-assessment worker: feature vectors, embeddings, KNN
// neighbourhoods, and the composite score and level derivation. It performs
// no I/O, so both the streaming consumer and any synchronous scoring surface
// can link against it directly.
package risk

import (
	"errors"
	"fmt"
	"math"
)

const (
	// FeatureDim is the fixed dimensionality of inbound feature vectors.
	FeatureDim = 35
	// EmbeddingDim is the fixed dimensionality of encoder output.
	EmbeddingDim = 128
)

// Result envelope statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// Categorical risk levels.
const (
	LevelNormal  = "normal"
	LevelLow     = "low"
	LevelMedium  = "medium"
	LevelHigh    = "high"
	LevelUnknown = "unknown"
)

var (
	// ErrDimensionMismatch reports a feature vector whose length is not FeatureDim.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNonFinite reports a feature vector containing NaN or Inf elements.
	ErrNonFinite = errors.New("non-finite element in feature vector")
)

// FeatureVector is an ordered sequence of exactly FeatureDim finite real
// numbers. Construct via NewFeatureVector; treat as immutable once parsed.
type FeatureVector []float64

// NewFeatureVector validates vals and returns it as a FeatureVector.
// The returned error is permanent: the payload can never become valid.
func NewFeatureVector(vals []float64) (FeatureVector, error) {
	if len(vals) != FeatureDim {
		return nil, fmt.Errorf("%w: got %d elements, want %d", ErrDimensionMismatch, len(vals), FeatureDim)
	}
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: element %d", ErrNonFinite, i)
		}
	}
	return FeatureVector(vals), nil
}

// Embedding is the EmbeddingDim-dimensional output of the encoder.
// Always derived, never persisted by this worker.
type Embedding []float64

// Neighbour is one result row from a KNN query against the vector index.
// Distance is the raw index metric: lower means more similar. Label is
// absent when the reference point carries no ground truth.
type Neighbour struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
	Label    *int    `json:"label,omitempty"`
}

// RequestEnvelope is the inbound message payload. Unrecognised fields in
// the wire form are ignored by the consumer's decoder.
type RequestEnvelope struct {
	RequestID string    `json:"requestId"`
	SubjectID string    `json:"subjectId"`
	Vector    []float64 `json:"vector"`
}

// ResultEnvelope is the outbound assessment delivered to the callback sink.
type ResultEnvelope struct {
	RequestID  string      `json:"requestId"`
	Status     string      `json:"status"`
	SubjectID  string      `json:"subjectId"`
	RiskScore  float64     `json:"riskScore"`
	RiskLevel  string      `json:"riskLevel"`
	Neighbours []Neighbour `json:"neighbours"`
	Message    string      `json:"message,omitempty"`
}

// ErrorEnvelope builds the ERROR-status envelope for a request that could
// not be scored. The request id is propagated unchanged.
func ErrorEnvelope(requestID, subjectID, message string) ResultEnvelope {
	return ResultEnvelope{
		RequestID: requestID,
		Status:    StatusError,
		SubjectID: subjectID,
		RiskLevel: LevelUnknown,
		Message:   message,
	}
}
