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

package catalog

import (
	"github.com/pkg/errors"

	"github.com/flexflow/flexflow/types/shapes"
)

// WeightShapes returns the shapes of the parameter tensors an
// operator of this kind owns, given its (already-validated) input
// shapes. Only kinds with OpKind.HasWeights() true return anything;
// called by the lifter (spec.md §4.2) right after Infer, mirroring
// how the catalog separates "inputs" from "weight" slots in spec.md
// §3's Operator definition.
func WeightShapes(attrs Attrs, inputs []shapes.ParallelShape) ([]shapes.ParallelShape, error) {
	k := attrs.Kind()
	if !k.HasWeights() {
		return nil, nil
	}
	switch a := attrs.(type) {
	case LinearAttrs:
		x := inputs[0]
		inChannels := x.Dims[x.Rank()-1].Size
		weight := shapes.MakeParallel(x.DType, inChannels, a.OutChannels)
		if !a.UseBias {
			return []shapes.ParallelShape{weight}, nil
		}
		bias := shapes.MakeParallel(x.DType, a.OutChannels)
		return []shapes.ParallelShape{weight, bias}, nil

	case Conv2DAttrs:
		x := inputs[0]
		inChannels := x.Dims[1].Size / a.Groups
		weight := shapes.MakeParallel(x.DType, a.OutChannels, inChannels, a.KernelH, a.KernelW)
		if !a.UseBias {
			return []shapes.ParallelShape{weight}, nil
		}
		bias := shapes.MakeParallel(x.DType, a.OutChannels)
		return []shapes.ParallelShape{weight, bias}, nil

	case EmbeddingAttrs:
		return []shapes.ParallelShape{shapes.MakeParallel(inputs[0].DType, a.NumEntries, a.OutDim)}, nil

	case LayerNormAttrs:
		x := inputs[0]
		return []shapes.ParallelShape{
			shapes.MakeParallel(x.DType, x.Dims[x.Rank()-1].Size), // scale
			shapes.MakeParallel(x.DType, x.Dims[x.Rank()-1].Size), // bias
		}, nil

	case MultiHeadAttentionAttrs:
		x := inputs[0]
		dim := x.Dims[x.Rank()-1].Size
		proj := shapes.MakeParallel(x.DType, dim, dim)
		// Query, key, value, and output projections.
		return []shapes.ParallelShape{proj, proj.Clone(), proj.Clone(), proj.Clone()}, nil

	default:
		return nil, errors.Errorf("catalog.WeightShapes: kind %s claims weights but has no case", k)
	}
}
