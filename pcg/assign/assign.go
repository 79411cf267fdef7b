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

package assign

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
	"github.com/flexflow/flexflow/types/shapes"
)

// Assignment is spec.md §4.3: a map from operator to parallel-config.
type Assignment map[pcg.OperatorID]pcg.ParallelConfig

// Clone returns an independent copy, since mutation primitives must
// not perturb the caller's current/best assignment in place (the
// MCMC driver keeps both alive simultaneously).
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for id, c := range a {
		dim := append([]int(nil), c.Dim...)
		devs := append([]int(nil), c.DeviceIDs...)
		out[id] = pcg.ParallelConfig{Dim: dim, DeviceIDs: devs}
	}
	return out
}

// DataParallelInitial builds spec.md §4.3's initial assignment: every
// operator, the input operator included, keeps the data-parallel
// ParallelConfig the lifter already wired it with.
func DataParallelInitial(g *pcg.PCG) Assignment {
	a := make(Assignment, len(g.Ops))
	for _, op := range g.Ops {
		a[op.ID] = op.ParallelConfig
	}
	return a
}

// isTerminal reports whether op is the loss-adjacent terminal
// operator, which spec.md §4.3 exempts from random rewrite. The core
// marks this explicitly on Operator rather than inferring it
// structurally (e.g. "last in topological order"), since fusion may
// reorder within a pass.
func isTerminal(op *pcg.Operator) bool { return op.Terminal }

// divisorDegrees returns every degree in [1, numDevices] that evenly
// divides size — the search space a random rewrite samples from, not
// an exhaustive enumeration of every possible multi-dimensional
// layout.
func divisorDegrees(size, numDevices int) []int {
	var degrees []int
	for degree := 1; degree <= size && degree <= numDevices; degree++ {
		if size%degree == 0 {
			degrees = append(degrees, degree)
		}
	}
	return degrees
}

// RandomRewrite implements spec.md §4.3's default mutation: pick a
// uniformly random non-terminal operator and replace its
// parallel-config with a freshly sampled valid config drawn from the
// divisors of its output's leading dimension. Terminal operators are
// never touched. Rejection-resamples per spec.md §4.5 guarantee (c):
// a sampled config that fails ParallelConfig.Validate is discarded
// and the assignment returned unchanged rather than retried
// unboundedly — the caller's next search iteration samples again.
func RandomRewrite(g *pcg.PCG, a Assignment, rng *rand.Rand, numDevices int) Assignment {
	candidates := nonTerminalOperators(g)
	if len(candidates) == 0 {
		return a
	}
	op := candidates[rng.Intn(len(candidates))]
	out, ok := g.Tensor(op.Outputs[0])
	if !ok || out.Shape.Rank() == 0 {
		return a
	}
	degrees := divisorDegrees(out.Shape.Dims[0].Size, numDevices)
	if len(degrees) == 0 {
		return a
	}
	degree := degrees[rng.Intn(len(degrees))]
	cfg := pcg.DataParallel(degree)
	if err := cfg.Validate(); err != nil {
		return a
	}

	result := a.Clone()
	result[op.ID] = cfg
	return result
}

func nonTerminalOperators(g *pcg.PCG) []*pcg.Operator {
	var ops []*pcg.Operator
	for _, op := range g.Ops {
		if isTerminal(op) || op.Kind == catalog.Input {
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

// PropagationRewrite implements spec.md §4.3's propagation mutation:
// starting from a random operator, random-walk along input/output
// edges, at each step adopting a neighbor's config when it is
// "adoptable" (same dimensionality under data-parallel reduction),
// weighted by sizeWeight·edgeVolume + (1-sizeWeight)·meanEdgeVolume,
// continuing with probability continueChance.
func PropagationRewrite(g *pcg.PCG, a Assignment, rng *rand.Rand, sizeWeight, continueChance float64) Assignment {
	ops := nonTerminalOperators(g)
	if len(ops) == 0 {
		return a
	}
	out := a.Clone()
	cur := ops[rng.Intn(len(ops))]

	for {
		neighbors := edgeNeighbors(g, cur)
		if len(neighbors) == 0 {
			break
		}
		next := weightedPick(g, rng, neighbors, sizeWeight)
		if next == nil {
			break
		}
		if cfg, ok := out[next.ID]; ok && adoptable(cfg, out[cur.ID]) {
			out[cur.ID] = cfg
		}
		cur = next
		if rng.Float64() >= continueChance {
			break
		}
	}
	return out
}

// adoptable implements spec.md §4.3's "same dimensionality under
// data-parallel reduction": two configs are adoptable when they agree
// on the number of task dimensions.
func adoptable(a, b pcg.ParallelConfig) bool {
	return a.NDims() == b.NDims()
}

func edgeNeighbors(g *pcg.PCG, op *pcg.Operator) []*pcg.Operator {
	var out []*pcg.Operator
	for _, tid := range op.Inputs {
		if t, ok := g.Tensor(tid); ok {
			if owner, ok := g.Operator(t.OwnerOp); ok {
				out = append(out, owner)
			}
		}
	}
	for _, other := range g.Ops {
		for _, tid := range other.Inputs {
			if t, ok := g.Tensor(tid); ok && t.OwnerOp == op.ID {
				out = append(out, other)
			}
		}
	}
	return out
}

// weightedPick samples a neighbor weighted by its first output
// tensor's logical element count — the "edge volume" of spec.md §4.3
// — blended with the mean edge volume across all neighbors.
func weightedPick(g *pcg.PCG, rng *rand.Rand, neighbors []*pcg.Operator, sizeWeight float64) *pcg.Operator {
	if len(neighbors) == 0 {
		return nil
	}
	sizes := make([]float64, len(neighbors))
	mean := 0.0
	for i, n := range neighbors {
		sizes[i] = float64(edgeVolume(g, n))
		mean += sizes[i]
	}
	mean /= float64(len(neighbors))

	weights := make([]float64, len(neighbors))
	total := 0.0
	for i, size := range sizes {
		weights[i] = sizeWeight*size + (1-sizeWeight)*mean
		total += weights[i]
	}
	if total <= 0 {
		return neighbors[rng.Intn(len(neighbors))]
	}
	r := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return neighbors[i]
		}
	}
	return neighbors[len(neighbors)-1]
}

// edgeVolume is the element count of op's first output tensor, used
// as a stand-in for the bytes that would cross a repartition boundary
// at that edge.
func edgeVolume(g *pcg.PCG, op *pcg.Operator) int {
	if len(op.Outputs) == 0 {
		return 1
	}
	t, ok := g.Tensor(op.Outputs[0])
	if !ok {
		return 1
	}
	return t.Shape.Logical().Size()
}

// ValidateClosure checks spec.md §8 property 9: every config in a is
// structurally valid (ParallelConfig.Validate), and — for a
// non-input operator — applying the config's leading-axis split to
// its current input shapes still passes that operator's catalog
// validity predicate.
func ValidateClosure(g *pcg.PCG, a Assignment) error {
	for _, op := range g.Ops {
		cfg, ok := a[op.ID]
		if !ok {
			continue
		}
		if err := cfg.Validate(); err != nil {
			return errors.Wrapf(err, "operator %d", op.ID)
		}
		if op.Kind == catalog.Input || cfg.NDims() == 0 {
			continue
		}
		inputs := make([]shapes.ParallelShape, len(op.Inputs))
		for i, tid := range op.Inputs {
			t, ok := g.Tensor(tid)
			if !ok {
				return errors.Errorf("operator %d: input %d references unregistered tensor %d", op.ID, i, tid)
			}
			inputs[i] = t.Shape.WithDegree(0, cfg.Dim[0], 0)
		}
		if err := catalog.IsValid(op.Attrs, inputs); err != nil {
			return errors.Wrapf(err, "operator %d: config fails validity predicate", op.ID)
		}
	}
	return nil
}
