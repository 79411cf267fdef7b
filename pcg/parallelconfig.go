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

import "github.com/pkg/errors"

// ParallelConfig is spec.md §3 "Parallel config": a per-operator
// record of how that operator's output index space is laid out on
// devices — (nDims, dim[nDims], device_ids[Π dim]).
type ParallelConfig struct {
	// Dim holds the degree of each dimension of the task index space.
	Dim []int
	// DeviceIDs has length equal to the product of Dim; DeviceIDs[i]
	// is the device the i-th point in the index space (in row-major
	// order over Dim) runs on.
	DeviceIDs []int
}

// NDims is the number of dimensions of the task index space.
func (c ParallelConfig) NDims() int { return len(c.Dim) }

// NumTasks is the product of all dimensions: the number of points in
// the task index space, and the required length of DeviceIDs.
func (c ParallelConfig) NumTasks() int {
	n := 1
	for _, d := range c.Dim {
		n *= d
	}
	return n
}

// Validate checks the structural half of spec.md §4.3 "Validity":
// "device-id count equals product of degrees." Whether the operator
// itself accepts this dimensionality is checked separately, by
// assign.ValidateClosure running the catalog's validity predicate on
// the operator's input shapes.
func (c ParallelConfig) Validate() error {
	want := c.NumTasks()
	if len(c.DeviceIDs) != want {
		return errors.Errorf("parallel config: have %d device ids, want %d (product of dims %v)", len(c.DeviceIDs), want, c.Dim)
	}
	for _, d := range c.Dim {
		if d < 1 {
			return errors.Errorf("parallel config: dimension degree %d must be >= 1", d)
		}
	}
	return nil
}

// DataParallel returns the config used as the default by the lifter
// (spec.md §4.2): a single dimension of the given degree, devices
// numbered 0..degree-1.
func DataParallel(degree int) ParallelConfig {
	ids := make([]int, degree)
	for i := range ids {
		ids[i] = i
	}
	return ParallelConfig{Dim: []int{degree}, DeviceIDs: ids}
}
