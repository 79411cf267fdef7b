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

// Package shapes defines the logical tensor Shape and the parallel
// extensions (ParallelDim, ParallelShape) used throughout the PCG:
// every parallel tensor carries one, and every operator's shape
// inference rule produces one.
//
// Shape is value-typed but holds a Dimensions slice, so it is
// compared with Equal rather than ==; Make and Clone copy the slice,
// so a shape built through them shares no storage with its source.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/flexflow/flexflow/types/dtype"
)

// Shape is the logical (un-partitioned) shape of a tensor: an ordered
// sequence of positive dimension sizes plus a DType tag.
type Shape struct {
	DType      dtype.DType
	Dimensions []int
}

// Make builds a Shape, panicking (via exceptions.Panicf, matching the
// teacher's types/shapes.Make) if any dimension is non-positive or the
// dtype is not one of the five supported types.
func Make(dt dtype.DType, dimensions ...int) Shape {
	if !dt.Ok() {
		exceptions.Panicf("shapes.Make: invalid dtype %s", dt)
	}
	for _, d := range dimensions {
		if d <= 0 {
			exceptions.Panicf("shapes.Make(%s, %v): dimensions must be positive", dt, dimensions)
		}
	}
	return Shape{DType: dt, Dimensions: slices.Clone(dimensions)}
}

// Rank is the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Dim returns the dimension at axis, which may be negative to count
// from the end (-1 is the last axis).
func (s Shape) Dim(axis int) int {
	a := axis
	if a < 0 {
		a += s.Rank()
	}
	if a < 0 || a >= s.Rank() {
		exceptions.Panicf("shapes.Shape.Dim(%d) out of bounds for rank %d", axis, s.Rank())
	}
	return s.Dimensions[a]
}

// Size is the product of all dimensions (1 for a scalar shape).
func (s Shape) Size() int {
	size := 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return size
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	dims := make([]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(dims, ","))
}
