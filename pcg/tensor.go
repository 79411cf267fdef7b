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

import "github.com/flexflow/flexflow/types/shapes"

// SyncMode is spec.md §3: a weight tensor's synchronization mode.
type SyncMode int

const (
	SyncNone SyncMode = iota
	SyncParameterServer
	SyncCollective
)

// Initializer describes how a weight tensor's initial value is
// produced. The core only carries the descriptor; actually running
// it is the external runtime's job (spec.md §1 out-of-scope kernels).
type Initializer struct {
	Kind string // e.g. "glorot-uniform", "zeros", "constant".
	Arg  float64
}

// ParallelTensor is spec.md §3 "Parallel tensor": a shape plus a
// globally unique id, the operator that owns it and the output slot
// within that operator, a create-gradient flag, and (after C8 region
// mapping) region/partition handles.
//
// Per spec.md §9 ("Back-references and cycles"), the ownership edge
// is one-directional: the PCG's tensor table holds the tensor, and
// the owning Operator lists its TensorID in its Outputs/Weights
// slice, just as an input slot on a downstream Operator refers to it
// only by TensorID. ParallelTensor never points back at a *Operator;
// OwnerOp is an OperatorID.
type ParallelTensor struct {
	ID    TensorID
	Shape shapes.ParallelShape

	OwnerOp   OperatorID
	OwnerSlot int

	CreateGradient bool

	// Region and Partition are populated by the region mapper (C8);
	// nil until then.
	Region    *Region
	Partition *Partition

	// GradRegion and GradPartition are the shadow region/partition
	// for this tensor's gradient, populated by C8 only when
	// CreateGradient is set and the model is compiled for training.
	GradRegion    *Region
	GradPartition *Partition

	// Initializer and SyncMode are only meaningful for weight tensors.
	Initializer Initializer
	SyncMode    SyncMode
}

// IsWeight reports whether this tensor carries an initializer, the
// tell for "this is a parameter tensor" per spec.md §3.
func (t *ParallelTensor) IsWeight() bool {
	return t.Initializer.Kind != ""
}
