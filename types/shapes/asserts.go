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
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// UncheckedAxis is used in CheckDims to skip checking a particular
// axis' dimension.
const UncheckedAxis = -1

// HasShape is implemented by anything with a logical Shape: operator
// outputs, layer outputs, and Shape itself.
type HasShape interface {
	Shape() Shape
}

// CheckDims returns an error (not a panic) if s's rank or dimensions
// don't match. A dimension value of UncheckedAxis skips that axis.
func (s Shape) CheckDims(dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return errors.Errorf("shape %s has rank %d, wanted %d", s, s.Rank(), len(dimensions))
	}
	for axis, want := range dimensions {
		if want != UncheckedAxis && s.Dimensions[axis] != want {
			return errors.Errorf("shape %s axis %d is %d, wanted %d", s, axis, s.Dimensions[axis], want)
		}
	}
	return nil
}

// AssertDims panics (via exceptions.Panicf) if CheckDims fails. Used
// where a mismatch indicates a bug in shape inference rather than bad
// user input.
func (s Shape) AssertDims(dimensions ...int) {
	if err := s.CheckDims(dimensions...); err != nil {
		exceptions.Panicf("%v", err)
	}
}

// AssertRank panics if s's rank doesn't match.
func (s Shape) AssertRank(rank int) {
	if s.Rank() != rank {
		exceptions.Panicf("shape %s has rank %d, wanted %d", s, s.Rank(), rank)
	}
}
