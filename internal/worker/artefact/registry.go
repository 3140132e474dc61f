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

// Package artefact loads the fitted model artefacts the scoring kernel
// needs at boot: the feature standardiser, the embedding encoder and the
// calibrated level thresholds.
package artefact

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"risk"
)

// ErrArtefactUnavailable is returned by Registry getters when the worker
// was started in degraded mode without the artefact in question.
var ErrArtefactUnavailable = errors.New("model artefact unavailable")

// Paths names the artefact files on disk.
type Paths struct {
	Encoder      string
	Standardiser string
	Thresholds   string
}

// Registry holds the loaded artefacts for the lifetime of the process.
// Artefacts are immutable after Load; swapping them requires a restart.
type Registry struct {
	encoder      *Encoder
	standardiser *Standardiser
	thresholds   *risk.Thresholds
}

// Load reads all artefacts. When allowDegraded is false any encoder or
// standardiser failure aborts startup. When true those failures are logged
// and the registry serves ErrArtefactUnavailable from the corresponding
// getter, so every request is answered with an ERROR envelope instead of
// the worker crash-looping. Thresholds always resolve: a missing file
// falls back to defaults, only a malformed one is fatal.
func Load(p Paths, allowDegraded bool) (*Registry, error) {
	r := &Registry{}

	enc, err := LoadEncoder(p.Encoder)
	if err != nil {
		if !allowDegraded {
			return nil, fmt.Errorf("load encoder: %w", err)
		}
		log.WithError(err).Error("encoder artefact unavailable, starting degraded")
	}
	r.encoder = enc

	std, err := LoadStandardiser(p.Standardiser)
	if err != nil {
		if !allowDegraded {
			return nil, fmt.Errorf("load standardiser: %w", err)
		}
		log.WithError(err).Error("standardiser artefact unavailable, starting degraded")
	}
	r.standardiser = std

	th, err := LoadThresholds(p.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	r.thresholds = th

	return r, nil
}

// Encoder returns the embedding network, or ErrArtefactUnavailable in
// degraded mode.
func (r *Registry) Encoder() (*Encoder, error) {
	if r.encoder == nil {
		return nil, ErrArtefactUnavailable
	}
	return r.encoder, nil
}

// Standardiser returns the feature standardiser, or ErrArtefactUnavailable
// in degraded mode.
func (r *Registry) Standardiser() (*Standardiser, error) {
	if r.standardiser == nil {
		return nil, ErrArtefactUnavailable
	}
	return r.standardiser, nil
}

// Thresholds never returns nil; at worst it is the default table.
func (r *Registry) Thresholds() *risk.Thresholds {
	if r.thresholds == nil {
		return risk.DefaultThresholds()
	}
	return r.thresholds
}
