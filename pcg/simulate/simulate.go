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

package simulate

import (
	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/assign"
)

// Mode selects whether the simulated run includes a backward pass.
type Mode int

const (
	Training Mode = iota
	Inference
)

// MaximumTaskRunTime is spec.md §4.4's OOM sentinel: simulate_runtime
// returns this in place of a real estimate when a candidate
// assignment cannot fit in the simulated device memory, making the
// candidate unattractive to MCMC without aborting the search.
const MaximumTaskRunTime = 1e18

// CostMetrics is spec.md §4.4's per-operator costing result: forward
// and backward time plus input/output memory footprints. A nil
// *CostMetrics from MeasureOperatorCost signals OOM or an un-tilable
// shape.
type CostMetrics struct {
	ForwardTime  float64 // seconds.
	BackwardTime float64 // seconds.
	InputMemory  int64   // bytes.
	OutputMemory int64   // bytes.
}

// Simulator is spec.md §4.4's external collaborator contract: a pure
// function of (graph, assignment, mode) to an estimated wall time.
// The compile pipeline takes a Simulator as a parameter; the only
// implementation in the core is Reference, a deterministic stand-in
// that models no real kernel or runtime numerics (spec.md §1).
type Simulator interface {
	// SimulateRuntime returns a non-negative estimated wall time, or
	// MaximumTaskRunTime on simulated OOM. Pure with respect to its
	// inputs: "cost core caches nothing" (spec.md §4.4).
	SimulateRuntime(g *pcg.PCG, a assign.Assignment, mode Mode) float64

	// MeasureOperatorCost returns per-operator cost metrics for op
	// under the given machine view, or nil if the operator cannot run
	// in that configuration (OOM, un-tilable shape).
	MeasureOperatorCost(op *pcg.Operator, view pcg.MachineView) *CostMetrics
}
