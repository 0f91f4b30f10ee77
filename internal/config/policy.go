/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// RiskBand maps one risk level to the settlement delay its purchases hold
// for before clearing.
type RiskBand struct {
	Level           string `yaml:"level"`
	SettlementDelay string `yaml:"settlement_delay"`
}

type riskPolicyFile struct {
	Bands []RiskBand `yaml:"bands"`
}

// RiskPolicy resolves a risk level to a settlement delay. Unknown levels get
// the longest configured delay: an unrecognized band holds funds, it never
// fast-tracks them.
type RiskPolicy struct {
	delays  map[string]time.Duration
	longest time.Duration
}

// DefaultRiskPolicy is used when no policy file is configured.
func DefaultRiskPolicy() *RiskPolicy {
	policy := &RiskPolicy{delays: map[string]time.Duration{
		"low":      7 * 24 * time.Hour,
		"medium":   14 * 24 * time.Hour,
		"elevated": 30 * 24 * time.Hour,
		"high":     30 * 24 * time.Hour,
	}}
	policy.longest = 30 * 24 * time.Hour
	return policy
}

// LoadRiskPolicy reads the band table from a YAML file. An empty path returns
// the built-in defaults.
func LoadRiskPolicy(policyFile string) (*RiskPolicy, error) {
	if policyFile == "" {
		return DefaultRiskPolicy(), nil
	}

	var policyPath string
	if filepath.IsAbs(policyFile) {
		policyPath = policyFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		policyPath = filepath.Join(wd, policyFile)
	}

	data, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", policyFile, err)
	}

	var parsed riskPolicyFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", policyFile, err)
	}
	if len(parsed.Bands) == 0 {
		return nil, fmt.Errorf("%s defines no risk bands", policyFile)
	}

	policy := &RiskPolicy{delays: make(map[string]time.Duration, len(parsed.Bands))}
	for i, band := range parsed.Bands {
		if band.Level == "" {
			return nil, fmt.Errorf("risk band at index %d missing level", i)
		}
		delay, err := time.ParseDuration(band.SettlementDelay)
		if err != nil {
			return nil, fmt.Errorf("risk band %q has invalid settlement_delay %q: %w", band.Level, band.SettlementDelay, err)
		}
		if delay <= 0 {
			return nil, fmt.Errorf("risk band %q settlement_delay must be positive", band.Level)
		}
		policy.delays[strings.ToLower(band.Level)] = delay
		if delay > policy.longest {
			policy.longest = delay
		}
	}

	return policy, nil
}

// SettlementDelay returns the holding period for a risk level.
func (p *RiskPolicy) SettlementDelay(riskLevel string) time.Duration {
	if delay, ok := p.delays[strings.ToLower(riskLevel)]; ok {
		return delay
	}
	return p.longest
}
