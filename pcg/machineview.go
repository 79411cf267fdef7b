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

import (
	"fmt"
	"slices"
	"strings"
)

// MachineView is spec.md §3 "Machine view": an ordered list of axis
// extents addressing a subset of devices. Two tensors with identical
// machine views are co-located for launch fusion (spec.md §4.7).
type MachineView struct {
	AxisExtents []int
}

// NumDevices is the product of the axis extents.
func (v MachineView) NumDevices() int {
	n := 1
	for _, e := range v.AxisExtents {
		n *= e
	}
	return n
}

// Equal compares axis extents element-wise.
func (v MachineView) Equal(other MachineView) bool {
	return slices.Equal(v.AxisExtents, other.AxisExtents)
}

// Key returns a string uniquely identifying this view, suitable as a
// map key for the PCG's communicator cache (spec.md §3, §5).
func (v MachineView) Key() string {
	parts := make([]string, len(v.AxisExtents))
	for i, e := range v.AxisExtents {
		parts[i] = fmt.Sprintf("%d", e)
	}
	return strings.Join(parts, "x")
}

// CommunicatorHandle is an opaque handle to a collective communicator
// pre-created for a given machine view. The core never looks inside
// it — NCCL communicator setup is an external collaborator (spec.md
// §1) — it only caches and hands the handle back out.
type CommunicatorHandle struct {
	id int64
}
