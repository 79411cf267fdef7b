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

package pcg

import (
	"github.com/pkg/errors"

	"github.com/flexflow/flexflow/pcg/catalog"
)

// PCG is spec.md §3 "PCG": an ordered list of operators in topological
// order, a tensor table, and a per-machine-view communicator cache.
// The id allocators it was historically described as owning live on
// Model instead (spec.md §5, §9: "Keep them as monotonic counters on
// the Model aggregate"); PCG itself only holds the graph.
type PCG struct {
	Ops     []*Operator
	tensors map[TensorID]*ParallelTensor

	// comms is the one-shot collective-communicator cache keyed by
	// MachineView.Key() (spec.md §3, §5): created on first use, never
	// evicted or mutated afterward.
	comms map[string]CommunicatorHandle
}

// NewPCG returns an empty graph.
func NewPCG() *PCG {
	return &PCG{
		tensors: make(map[TensorID]*ParallelTensor),
		comms:   make(map[string]CommunicatorHandle),
	}
}

// Tensor looks up a parallel tensor by id.
func (g *PCG) Tensor(id TensorID) (*ParallelTensor, bool) {
	t, ok := g.tensors[id]
	return t, ok
}

// Operator looks up an operator by id. The PCG stores operators in
// topological order but not indexed by id, so this is a linear scan;
// callers on a hot path should keep their own index.
func (g *PCG) Operator(id OperatorID) (*Operator, bool) {
	for _, op := range g.Ops {
		if op.ID == id {
			return op, true
		}
	}
	return nil, false
}

// Communicator returns the cached communicator handle for a machine
// view, creating one via new_fn on first use. Per spec.md §5 this
// cache is "created on first use and never evicted or mutated" —
// make returns the same handle for the same view for the PCG's
// lifetime.
func (g *PCG) Communicator(view MachineView, newFn func() CommunicatorHandle) CommunicatorHandle {
	key := view.Key()
	if h, ok := g.comms[key]; ok {
		return h
	}
	h := newFn()
	g.comms[key] = h
	return h
}

// addOperator appends op to the topological order and registers its
// output and weight tensors in the tensor table. It does not validate
// op against the catalog — callers (Model.AddOperator, the fusion
// pass) are responsible for constructing a structurally valid
// Operator before calling this.
func (g *PCG) addOperator(op *Operator, outputs, weights []*ParallelTensor) {
	g.Ops = append(g.Ops, op)
	for _, t := range outputs {
		g.tensors[t.ID] = t
	}
	for _, t := range weights {
		g.tensors[t.ID] = t
	}
}

// Validate checks spec.md §3's operator invariant — "every input slot
// references a tensor owned by another operator already present in
// the PCG" — against the graph's current topological order. This is
// spec.md §8 property 1.
func (g *PCG) Validate() error {
	seen := make(map[OperatorID]bool, len(g.Ops))
	for _, op := range g.Ops {
		for slot, tid := range op.Inputs {
			t, ok := g.tensors[tid]
			if !ok {
				return errors.Errorf("operator %d input %d: tensor %d not registered", op.ID, slot, tid)
			}
			if !seen[t.OwnerOp] {
				return errors.Errorf("operator %d input %d: owner operator %d not yet in topological order", op.ID, slot, t.OwnerOp)
			}
		}
		seen[op.ID] = true
	}
	return nil
}

// Kinds returns the OpKind of every operator, in topological order;
// used by tests and the serializer.
func (g *PCG) Kinds() []catalog.OpKind {
	kinds := make([]catalog.OpKind, len(g.Ops))
	for i, op := range g.Ops {
		kinds[i] = op.Kind
	}
	return kinds
}
