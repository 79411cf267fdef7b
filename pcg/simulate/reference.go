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

// Reference is a deterministic, in-core Simulator used by tests and
// by callers with no access to a real task-runtime profiler. It
// models wall time as the sum of each operator's output element
// count divided by its assigned degree of parallelism — cruder than
// any real cost model, but monotone in the way spec.md §8 scenario S4
// needs: splitting an operator's output across more devices lowers
// its modeled cost.
type Reference struct{}

func (Reference) SimulateRuntime(g *pcg.PCG, a assign.Assignment, mode Mode) float64 {
	total := 0.0
	for _, op := range g.Ops {
		if len(op.Outputs) == 0 {
			continue
		}
		t, ok := g.Tensor(op.Outputs[0])
		if !ok {
			continue
		}
		degree := 1
		if cfg, ok := a[op.ID]; ok && cfg.NumTasks() > 0 {
			degree = cfg.NumTasks()
		}
		cost := float64(t.Shape.Logical().Size()) / float64(degree)
		if mode == Training {
			cost *= 2 // backward pass, roughly.
		}
		total += cost
	}
	return total
}

func (Reference) MeasureOperatorCost(op *pcg.Operator, view pcg.MachineView) *CostMetrics {
	if len(op.Outputs) == 0 {
		return &CostMetrics{}
	}
	return &CostMetrics{ForwardTime: 1, BackwardTime: 1}
}

var _ Simulator = Reference{}
