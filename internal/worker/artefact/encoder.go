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

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"risk"
)

// Encoder is the fitted 35 -> 64 -> 128 -> 128 feed-forward embedding
// network. Each layer is a dense affine transform followed by ReLU.
//
// Weights are stored transposed (in x out) so a batch forward pass is a
// plain row-major matrix product.
type Encoder struct {
	layers []denseLayer
}

type denseLayer struct {
	weightT *mat.Dense // in x out
	bias    []float64
}

// expected layer shapes, outermost first (out, in).
var encoderShape = [][2]int{
	{64, risk.FeatureDim},
	{128, 64},
	{risk.EmbeddingDim, 128},
}

type rawLayer struct {
	Weight [][]float64 `json:"weight"`
	Bias   []float64   `json:"bias"`
}

// materialised export format: architecture header plus ordered layers.
type rawEncoder struct {
	Architecture struct {
		Input  int `json:"input"`
		Hidden int `json:"hidden"`
		Latent int `json:"latent"`
	} `json:"architecture"`
	Layers []rawLayer `json:"layers"`
}

// LoadEncoder reads an encoder artefact. Two on-disk formats are accepted:
// the materialised export (architecture header plus a layers array) and a
// bare state dict keyed encoder.0.weight, encoder.0.bias and so on. Shape
// mismatches are fatal.
func LoadEncoder(path string) (*Encoder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encoder: %w", err)
	}

	var materialised rawEncoder
	if err := json.Unmarshal(raw, &materialised); err == nil && len(materialised.Layers) > 0 {
		log.Debugf("encoder artefact %s: materialised format, %d layers", path, len(materialised.Layers))
		return buildEncoder(materialised.Layers)
	}

	var stateDict map[string]json.RawMessage
	if err := json.Unmarshal(raw, &stateDict); err != nil {
		return nil, fmt.Errorf("parse encoder: %w", err)
	}
	layers, err := layersFromStateDict(stateDict)
	if err != nil {
		return nil, err
	}
	log.Debugf("encoder artefact %s: state-dict format", path)
	return buildEncoder(layers)
}

func layersFromStateDict(sd map[string]json.RawMessage) ([]rawLayer, error) {
	// Sequential indices of the Linear modules in the exported network.
	layers := make([]rawLayer, 0, 3)
	for _, idx := range []int{0, 2, 4} {
		wKey := fmt.Sprintf("encoder.%d.weight", idx)
		bKey := fmt.Sprintf("encoder.%d.bias", idx)
		var l rawLayer
		wRaw, ok := sd[wKey]
		if !ok {
			return nil, fmt.Errorf("encoder state dict: missing %s", wKey)
		}
		if err := json.Unmarshal(wRaw, &l.Weight); err != nil {
			return nil, fmt.Errorf("encoder state dict %s: %w", wKey, err)
		}
		bRaw, ok := sd[bKey]
		if !ok {
			return nil, fmt.Errorf("encoder state dict: missing %s", bKey)
		}
		if err := json.Unmarshal(bRaw, &l.Bias); err != nil {
			return nil, fmt.Errorf("encoder state dict %s: %w", bKey, err)
		}
		layers = append(layers, l)
	}
	return layers, nil
}

func buildEncoder(raw []rawLayer) (*Encoder, error) {
	if len(raw) != len(encoderShape) {
		return nil, fmt.Errorf("encoder: %d layers, want %d", len(raw), len(encoderShape))
	}
	e := &Encoder{layers: make([]denseLayer, 0, len(raw))}
	for i, l := range raw {
		out, in := encoderShape[i][0], encoderShape[i][1]
		if len(l.Weight) != out {
			return nil, fmt.Errorf("encoder layer %d: %d output rows, want %d", i, len(l.Weight), out)
		}
		if len(l.Bias) != out {
			return nil, fmt.Errorf("encoder layer %d: bias length %d, want %d", i, len(l.Bias), out)
		}
		wT := mat.NewDense(in, out, nil)
		for r, row := range l.Weight {
			if len(row) != in {
				return nil, fmt.Errorf("encoder layer %d row %d: %d columns, want %d", i, r, len(row), in)
			}
			for c, w := range row {
				wT.Set(c, r, w)
			}
		}
		bias := make([]float64, out)
		copy(bias, l.Bias)
		e.layers = append(e.layers, denseLayer{weightT: wT, bias: bias})
	}
	return e, nil
}

// Forward runs the network over a batch of standardised rows (n x 35) and
// returns the embedding matrix (n x 128).
func (e *Encoder) Forward(x *mat.Dense) *mat.Dense {
	cur := x
	for _, l := range e.layers {
		rows, _ := cur.Dims()
		_, out := l.weightT.Dims()
		next := mat.NewDense(rows, out, nil)
		next.Mul(cur, l.weightT)
		for r := 0; r < rows; r++ {
			row := next.RawRowView(r)
			for c := range row {
				v := row[c] + l.bias[c]
				if v < 0 {
					v = 0
				}
				row[c] = v
			}
		}
		cur = next
	}
	return cur
}

// Encode embeds a single standardised feature vector.
func (e *Encoder) Encode(v []float64) []float64 {
	x := mat.NewDense(1, len(v), v)
	out := e.Forward(x)
	emb := make([]float64, risk.EmbeddingDim)
	copy(emb, out.RawRowView(0))
	return emb
}
