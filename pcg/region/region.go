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
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/types/shapes"
)

// Map implements the region mapper's base algorithm for a single
// parallel tensor, given the task index space's dimensionality T (the
// number of distinct machine-view axes the tensor's dims can address).
//
// Steps:
//  1. allocate a field over an N-dim rect [0, size_i) — represented
//     here by pcg.Region;
//  2. derive per-dimension tile extent ext_i = ceil(size_i/degree_i);
//  3. build an N×T transform matrix: transform[i][j] = ext_i if
//     parallel_idx_i == j, else 0;
//  4. create a restriction partition and assert it is complete and
//     disjoint.
func Map(t *pcg.ParallelTensor, taskDims int) error {
	dims := t.Shape.Dims
	rect := pcg.Rect{Extent: make([]int, len(dims))}
	for i, d := range dims {
		rect.Extent[i] = d.Size
	}
	t.Region = &pcg.Region{Rect: rect}

	transform := make([][]int, len(dims))
	extent := make([]int, len(dims))
	for i, d := range dims {
		transform[i] = make([]int, taskDims)
		ext := ceilDiv(d.Size, d.Degree)
		extent[i] = ext
		if d.ParallelIdx >= 0 {
			if d.ParallelIdx >= taskDims {
				return errors.Errorf("region: dim %d parallel_idx %d out of range for %d task dims", i, d.ParallelIdx, taskDims)
			}
			transform[i][d.ParallelIdx] = ext
		}
	}

	partition := &pcg.Partition{
		TaskDims:    taskDims,
		Transform:   transform,
		Extent:      extent,
		AliasedAxis: -1,
	}
	if err := assertCompleteAndDisjoint(rect, partition, dims); err != nil {
		return errors.Wrapf(err, "region: tensor %d", t.ID)
	}
	t.Partition = partition
	klog.V(2).Infof("region: mapped tensor %d rect=%v transform=%v", t.ID, rect.Extent, transform)
	return nil
}

// MapAliased is SPEC_FULL.md §4 item 5's named variant of spec.md
// §4.6 step 4: "the aliased partition variant relaxes disjointness on
// one named dimension." aliasedAxis indexes into t.Shape.Dims.
func MapAliased(t *pcg.ParallelTensor, taskDims, aliasedAxis int) error {
	if aliasedAxis < 0 || aliasedAxis >= t.Shape.Rank() {
		return errors.Errorf("region: aliased axis %d out of range for rank %d", aliasedAxis, t.Shape.Rank())
	}
	if err := Map(t, taskDims); err != nil {
		return err
	}
	t.Partition.AliasedAxis = aliasedAxis
	return nil
}

// MapGradient repeats the mapping for a tensor's gradient shadow
// region when the tensor carries gradients and the model is training
// (spec.md §4.6 step 5).
func MapGradient(t *pcg.ParallelTensor, taskDims int) error {
	if !t.CreateGradient {
		exceptions.Panicf("region: MapGradient called on tensor %d which does not create a gradient", t.ID)
	}
	shadow := &pcg.ParallelTensor{ID: t.ID, Shape: t.Shape}
	if err := Map(shadow, taskDims); err != nil {
		return err
	}
	t.GradRegion, t.GradPartition = shadow.Region, shadow.Partition
	return nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		exceptions.Panicf("region: degree must be positive, got %d", b)
	}
	return (a + b - 1) / b
}

// assertCompleteAndDisjoint checks spec.md §8 property 5: for every
// non-aliased mapping, the created partition is both disjoint (no two
// sub-regions share a point) and complete (every point of rect is
// covered) over its index space. Tiles of extent[i] placed at stride
// extent[i] never overlap, so disjointness follows from the stride
// pattern itself; the only thing left to check is completeness —
// extent[i]*degree must reach at least size_i.
func assertCompleteAndDisjoint(rect pcg.Rect, p *pcg.Partition, dims []shapes.ParallelDim) error {
	for i, d := range dims {
		if d.IsReplica {
			continue
		}
		if p.Extent[i]*d.Degree < d.Size {
			return errors.Errorf("partition incomplete on dim %d: tiles cover %d, need %d", i, p.Extent[i]*d.Degree, d.Size)
		}
	}
	return nil
}
