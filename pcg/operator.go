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

import "github.com/flexflow/flexflow/pcg/catalog"

// Operator is spec.md §3 "Operator": a globally unique id, a kind
// tag, a kind-specific attribute record, input/output/weight
// parallel-tensor slots, and per-input "needs-gradient" flags.
//
// Invariant (spec.md §3, checked by PCG.Validate, tested as spec.md
// §8 property 1): every input slot references a tensor owned by an
// operator already present in the PCG, earlier in topological order.
type Operator struct {
	ID    OperatorID
	Kind  catalog.OpKind
	Attrs catalog.Attrs

	// Inputs are TensorIDs of tensors owned by other (earlier)
	// operators. InputNeedsGrad has the same length and records
	// whether gradient must flow back through that input.
	Inputs         []TensorID
	InputNeedsGrad []bool

	// Weights are TensorIDs of parameter tensors this operator
	// created and owns (only non-empty when Kind.HasWeights()).
	Weights []TensorID

	// Outputs are TensorIDs of tensors this operator created and
	// owns; OwnerSlot on each matches its index here.
	Outputs []TensorID

	MachineView    MachineView
	ParallelConfig ParallelConfig

	// Terminal marks the loss-adjacent operator the GLOSSARY defines:
	// excluded from both mutation (C5) and fusion (C9).
	Terminal bool

	// InPlace is set by the post-lift, pre-fusion pass spec.md §9
	// describes ("In-place optimization"): the operator shares a
	// machine view with the producer of its input and is that
	// input's sole consumer. Fusion skips in-place operators.
	InPlace bool
}

// IsParallelOperator reports whether this is one of the pure
// data-movement kinds (repartition/replicate/reduction/combine/
// fused-parallel) the GLOSSARY calls out.
func (o *Operator) IsParallelOperator() bool {
	return o.Kind.IsParallelOperator()
}
