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

package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/flexflow/flexflow/types/dtype"
)

// ParallelShape is spec.md §3 "Parallel tensor shape": an ordered
// sequence of ParallelDim plus a DType.
type ParallelShape struct {
	DType dtype.DType
	Dims  []ParallelDim
}

// MakeParallel builds a ParallelShape from logical dims, all initially
// unpartitioned. Use WithDegree to carve out partitioned axes.
func MakeParallel(dt dtype.DType, sizes ...int) ParallelShape {
	dims := make([]ParallelDim, len(sizes))
	for i, s := range sizes {
		dims[i] = Unpartitioned(s)
	}
	return ParallelShape{DType: dt, Dims: dims}
}

// Rank is the number of dimensions, including replica dimensions.
func (p ParallelShape) Rank() int { return len(p.Dims) }

// WithDegree returns a copy with dims[axis] split degree ways along
// machineAxis. axis may be negative, counting from the end.
func (p ParallelShape) WithDegree(axis, degree, machineAxis int) ParallelShape {
	a := axis
	if a < 0 {
		a += p.Rank()
	}
	out := p.Clone()
	out.Dims[a].Degree = degree
	out.Dims[a].ParallelIdx = machineAxis
	return out
}

// Clone returns a deep copy.
func (p ParallelShape) Clone() ParallelShape {
	return ParallelShape{DType: p.DType, Dims: slices.Clone(p.Dims)}
}

// Logical strips partitioning information and returns the plain
// logical Shape, dropping replica dimensions — spec.md §8 property 3
// ("Shape consistency of lift") compares against this.
func (p ParallelShape) Logical() Shape {
	dims := make([]int, 0, len(p.Dims))
	for _, d := range p.Dims {
		if d.IsReplica {
			continue
		}
		dims = append(dims, d.Size)
	}
	return Shape{DType: p.DType, Dimensions: dims}
}

// TotalDegree is the product of every dimension's Degree: the number
// of distinct device slots this tensor occupies.
func (p ParallelShape) TotalDegree() int {
	total := 1
	for _, d := range p.Dims {
		total *= d.Degree
	}
	return total
}

// Validate checks the invariants of spec.md §3 "Parallel tensor
// shape": (a) total degree must not exceed numDevices; (b) every
// non-negative parallel_idx appears on at most one dimension; (c) is
// checked per-dimension in ParallelDim.validate.
func (p ParallelShape) Validate(numDevices int) error {
	if !p.DType.Ok() {
		return errors.Errorf("parallel shape: invalid dtype %s", p.DType)
	}
	seen := make(map[int]bool)
	for axis, d := range p.Dims {
		if err := d.validate(); err != nil {
			return errors.Wrapf(err, "parallel shape axis %d", axis)
		}
		if d.ParallelIdx >= 0 {
			if seen[d.ParallelIdx] {
				return errors.Errorf("parallel shape: machine axis %d used by more than one dimension", d.ParallelIdx)
			}
			seen[d.ParallelIdx] = true
		}
	}
	if total := p.TotalDegree(); numDevices > 0 && total > numDevices {
		return errors.Errorf("parallel shape: total degree %d exceeds device count %d", total, numDevices)
	}
	return nil
}

// Equal compares dtype and every dimension.
func (p ParallelShape) Equal(other ParallelShape) bool {
	return p.DType == other.DType && slices.Equal(p.Dims, other.Dims)
}

// String implements fmt.Stringer.
func (p ParallelShape) String() string {
	parts := make([]string, len(p.Dims))
	for i, d := range p.Dims {
		tag := ""
		if d.IsReplica {
			tag = ",replica"
		}
		parts[i] = fmt.Sprintf("{size=%d,degree=%d,idx=%d%s}", d.Size, d.Degree, d.ParallelIdx, tag)
	}
	return fmt.Sprintf("(%s)[%s]", p.DType, strings.Join(parts, " "))
}
