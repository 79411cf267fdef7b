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

// Rect is an N-dimensional half-open index rectangle [0, Extent[i])
// per axis, the index space a Region is defined over (spec.md §4.6
// point 1).
type Rect struct {
	Extent []int
}

// Region is the field-and-index-space pair the task runtime allocates
// a tensor's storage against. The core only carries this handle;
// actually backing it with memory is the external runtime's job
// (spec.md §1 out-of-scope kernels).
type Region struct {
	Rect Rect
}

// Partition is a restriction of a Region into an index-space of
// sub-regions, one per point of a T-dimensional task index space
// (spec.md §4.6 point 4): "(rect, index-space, transform,
// extent-rect)". Transform is stored row-major, N rows by T columns.
type Partition struct {
	TaskDims  int
	Transform [][]int
	Extent    []int
	// AliasedAxis names the one tensor axis, if any, on which
	// disjointness is relaxed (spec.md §4.6 point 4, "aliased
	// partition"); -1 when the partition is fully disjoint.
	AliasedAxis int
}
