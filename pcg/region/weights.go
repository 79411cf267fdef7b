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

package region

import (
	"github.com/pkg/errors"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
)

// MapOperatorWeights maps every weight tensor op owns to a region,
// dispatching the primary weight slot (index 0) to the kind-specific
// variant (spec.md §4.6's named linear-/conv-weight mapping) and
// falling back to the base algorithm for any other weight slot (e.g.
// a bias) or kind. A Fused op's Weights is the union of its sub-ops'
// weight tensors with no per-slot kind recorded, so it always takes
// the base algorithm.
func MapOperatorWeights(g *pcg.PCG, op *pcg.Operator, taskDims int) error {
	degree := 1
	if len(op.ParallelConfig.Dim) > 0 {
		degree = op.ParallelConfig.Dim[0]
	}
	for i, tid := range op.Weights {
		w, ok := g.Tensor(tid)
		if !ok {
			return errors.Errorf("region: operator %d weight %d references unregistered tensor %d", op.ID, i, tid)
		}
		var err error
		switch {
		case i == 0 && op.Kind == catalog.Linear:
			err = MapLinearWeight(w, taskDims, degree)
		case i == 0 && op.Kind == catalog.Conv2D:
			err = MapConvWeight(w, taskDims)
		default:
			err = Map(w, taskDims)
		}
		if err != nil {
			return errors.Wrapf(err, "region: operator %d weight %d", op.ID, i)
		}
	}
	return nil
}

// MapLinearWeight implements spec.md §4.6's "Linear-weight mapping"
// variant: the output-channel dimension (the weight's last axis, per
// catalog.WeightShapes' [in, out] layout) is split degree ways across
// the first task axis. Under collective sync, the region is enlarged
// by the product of the remaining task-axis degrees so each shard
// owns a private copy.
func MapLinearWeight(w *pcg.ParallelTensor, taskDims, degree int) error {
	if w.Shape.Rank() < 2 {
		return errors.Errorf("region: linear weight must have rank >= 2, got %d", w.Shape.Rank())
	}
	if degree > 1 && w.Shape.Dims[w.Shape.Rank()-1].Size%degree != 0 {
		return errors.Errorf("region: linear weight out-channels %d not divisible by degree %d", w.Shape.Dims[w.Shape.Rank()-1].Size, degree)
	}
	outAxis := w.Shape.Rank() - 1
	d := w.Shape.Dims[outAxis]
	d.Degree = degree
	if degree > 1 {
		d.ParallelIdx = 0
	}
	w.Shape.Dims[outAxis] = d

	if err := Map(w, taskDims); err != nil {
		return err
	}
	if w.SyncMode == pcg.SyncCollective {
		enlargeForCollectiveShards(w, taskDims)
	}
	return nil
}

// MapConvWeight implements spec.md §4.6's "Conv-weight mapping"
// variant: a four-dimensional task space (N, C, H, W); partitioning
// the channel axis is disallowed (num_par_c == 1). Under collective
// sync, a per-(N, H, W) replica of the weight is allocated — modeled
// here the same way as the linear case, by enlarging the mapped
// region.
func MapConvWeight(w *pcg.ParallelTensor, taskDims int) error {
	if taskDims != 4 {
		return errors.Errorf("region: conv-weight mapping needs a 4-dim (N,C,H,W) task space, got %d", taskDims)
	}
	if w.Shape.Rank() < 1 {
		return errors.Errorf("region: conv weight must have rank >= 1")
	}
	// Weight layout is [out_channels, in_channels/groups, kh, kw];
	// "channel axis" here refers to the task space's C axis, which
	// this weight does not carry a partitioned dimension against —
	// the check is that no weight dimension claims parallel_idx == 1
	// (the task space's channel axis).
	for i, d := range w.Shape.Dims {
		if d.ParallelIdx == 1 && d.Degree > 1 {
			return errors.Errorf("region: conv weight dim %d must not claim the channel task axis", i)
		}
	}
	if err := Map(w, taskDims); err != nil {
		return err
	}
	if w.SyncMode == pcg.SyncCollective {
		enlargeForCollectiveShards(w, taskDims)
	}
	return nil
}

// enlargeForCollectiveShards models "the region is enlarged by a
// factor equal to the product of the remaining task-axis degrees so
// each shard owns a private copy" by scaling every partition extent
// up by that factor — a coarse but faithful stand-in for the real
// runtime's per-shard allocation, which the core does not itself
// perform (spec.md §1 out-of-scope kernels/allocator).
func enlargeForCollectiveShards(w *pcg.ParallelTensor, taskDims int) {
	factor := 1
	for _, d := range w.Shape.Dims {
		if d.ParallelIdx > 0 {
			factor *= d.Degree
		}
	}
	if factor <= 1 {
		return
	}
	for i := range w.Partition.Extent {
		w.Partition.Extent[i] *= factor
	}
}
