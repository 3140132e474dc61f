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

	"risk"
)

// thresholdsFile is the calibrated thresholds artefact: one cutoffs block
// per score family, plus the offline calibration method for provenance.
type thresholdsFile struct {
	Method   string                  `json:"method"`
	Families map[string]risk.Cutoffs `json:"families"`
}

// LoadThresholds reads the thresholds artefact. A missing file degrades to
// the built-in defaults with a warning; a present but malformed file is an
// error, since silently ignoring a bad calibration is worse than refusing
// to start.
func LoadThresholds(path string) (*risk.Thresholds, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("thresholds artefact %s missing, using default cutoffs", path)
			return risk.DefaultThresholds(), nil
		}
		return nil, fmt.Errorf("read thresholds: %w", err)
	}
	var tf thresholdsFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	if len(tf.Families) == 0 {
		return nil, fmt.Errorf("thresholds %s: no score families", path)
	}
	if _, ok := tf.Families[risk.CombinedScoreFamily]; !ok {
		log.Warnf("thresholds artefact %s has no %s family, that family falls back to defaults",
			path, risk.CombinedScoreFamily)
	}
	return &risk.Thresholds{Families: tf.Families, Method: tf.Method}, nil
}
