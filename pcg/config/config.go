/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package config

import "github.com/pkg/errors"

// Config is the flat set of recognized compile-time options: every
// tunable is a typed field with a documented default, set by
// Default(), not parsed from flags — there is no CLI.
type Config struct {
	Epochs    int
	BatchSize int
	Profiling bool

	LearningRate float64
	WeightDecay  float64
	WorkSpaceSize int64 // bytes.

	NumNodes       int // 0 means "auto from machine".
	WorkersPerNode int
	CPUsPerNode    int

	SimulatorWorkSpaceSize int64 // bytes.
	SearchBudget           int   // 0 means unset; caller must supply one to run C7.
	SearchAlpha            float64
	SearchOverlapBackwardUpdate bool

	ComputationMode string // "training" or "inference".

	OnlyDataParallel       bool
	EnableSampleParallel   bool
	EnableParameterParallel bool
	EnableAttributeParallel bool

	EnableInplaceOptimizations   bool
	AllowTensorOpMathConversion bool
	PerformFusion                bool
	EnableControlReplication     bool
	BaseOptimizeThreshold        int

	MachineModelVersion     int
	SimulatorSegmentSize    int64 // bytes.
	SimulatorMaxNumSegments int
	PythonDataLoaderType    int

	MachineModelFile  string
	ImportStrategyFile string

	ExportStrategyFile             string
	ExportStrategyTaskGraphFile    string
	ExportStrategyComputationGraphFile string

	IncludeCostsDotGraph bool
	DatasetPath          string
	SubstitutionJSONPath string
	SyntheticInput       bool
}

const (
	giB = 1 << 30
	miB = 1 << 20
)

// Default returns the option defaults enumerated in spec.md §6.
func Default() Config {
	return Config{
		Epochs:    1,
		BatchSize: 64,
		Profiling: false,

		LearningRate: 0.01,
		WeightDecay:  1e-4,
		WorkSpaceSize: giB,

		NumNodes:       0,
		WorkersPerNode: 0,
		CPUsPerNode:    0,

		SimulatorWorkSpaceSize: 2 * giB,
		SearchBudget:           0,
		SearchAlpha:            1.2,
		SearchOverlapBackwardUpdate: false,

		ComputationMode: "training",

		OnlyDataParallel: false,

		EnableInplaceOptimizations:   false,
		AllowTensorOpMathConversion: false,
		PerformFusion:                false,
		EnableControlReplication:     true,
		BaseOptimizeThreshold:        10,

		MachineModelVersion:     0,
		SimulatorSegmentSize:    16 * miB,
		SimulatorMaxNumSegments: 1,
		PythonDataLoaderType:    2,
	}
}

// Validate rejects out-of-range values. It does not reach into
// the search/fusion/region packages — this is a pure data check.
func (c Config) Validate() error {
	if c.Epochs < 0 {
		return errors.Errorf("config: epochs must be >= 0, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("config: batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.LearningRate < 0 {
		return errors.Errorf("config: learning_rate must be >= 0, got %f", c.LearningRate)
	}
	if c.SearchAlpha <= 0 {
		return errors.Errorf("config: search_alpha must be > 0, got %f", c.SearchAlpha)
	}
	if c.SearchBudget < 0 {
		return errors.Errorf("config: search_budget must be >= 0, got %d", c.SearchBudget)
	}
	if c.ComputationMode != "" && c.ComputationMode != "training" && c.ComputationMode != "inference" {
		return errors.Errorf("config: computation_mode must be 'training' or 'inference', got %q", c.ComputationMode)
	}
	if c.BaseOptimizeThreshold < 0 {
		return errors.Errorf("config: base_optimize_threshold must be >= 0, got %d", c.BaseOptimizeThreshold)
	}
	return nil
}
