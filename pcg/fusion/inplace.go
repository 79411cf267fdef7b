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

package fusion

import "github.com/flexflow/flexflow/pcg"

// MarkInPlace implements spec.md §9's in-place optimization note: when
// an operator's output shares a machine view with its input and no
// other consumer reads that input, mark the op in-place. It runs as a
// post-lift, pre-fusion pass over the operator list; Fuse skips any
// operator this leaves marked, as seed or as target.
//
// Kinds isFusableTarget would also accept as a fusion target are left
// unmarked here, and so are weight-bearing kinds, which fusion uses as
// seeds: in-place and fusion both want to claim the same
// single-consumer elementwise chains, and fusing into a preceding
// weight-bearing op is strictly the better rewrite of the two, so
// in-place is scoped to the ops fusion would never absorb or grow
// (reshape, transpose, and the other weightless single-input/
// single-output kinds outside isFusableTarget's list).
func MarkInPlace(g *pcg.PCG) {
	refCount := make(map[pcg.TensorID]int)
	for _, op := range g.Ops {
		for _, tid := range op.Inputs {
			refCount[tid]++
		}
	}

	for _, op := range g.Ops {
		op.InPlace = false
		if op.Terminal || op.Kind.IsParallelOperator() || isFusableTarget(op.Kind) || op.Kind.HasWeights() {
			continue
		}
		if len(op.Inputs) != 1 || len(op.Outputs) != 1 {
			continue
		}
		in, ok := g.Tensor(op.Inputs[0])
		if !ok || refCount[in.ID] != 1 {
			continue
		}
		owner, ok := g.Operator(in.OwnerOp)
		if !ok || !owner.MachineView.Equal(op.MachineView) {
			continue
		}
		op.InPlace = true
	}
}
