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

import "github.com/pkg/errors"

// ParallelDim is one axis of a ParallelShape: spec.md §3 "Parallel
// dimension", a quadruple (size, degree, parallel_idx, is_replica).
type ParallelDim struct {
	// Size is the logical extent of this dimension.
	Size int
	// Degree is how many ways this dimension is split across devices.
	// Must be >= 1; divides Size unless IsReplica.
	Degree int
	// ParallelIdx is the index into the machine-view axes this
	// dimension is split along, or -1 if it isn't split.
	ParallelIdx int
	// IsReplica marks a redundant replication dimension of logical
	// size 1, used to model pure replication alongside real dims.
	IsReplica bool
}

// Unpartitioned returns a ParallelDim covering the whole of size with
// no splitting: degree 1, parallel_idx -1, not a replica.
func Unpartitioned(size int) ParallelDim {
	return ParallelDim{Size: size, Degree: 1, ParallelIdx: -1}
}

// Replica returns the size-1 replication dimension used to mark pure
// replication of a tensor created for OP_INPUT (spec.md §4.2).
func Replica() ParallelDim {
	return ParallelDim{Size: 1, Degree: 1, ParallelIdx: -1, IsReplica: true}
}

// validate checks the per-dimension invariants from spec.md §3(c) and
// the divisibility invariant from §3 "Parallel tensor shape" (a is
// not checked here, it spans the whole shape; see ParallelShape.Validate).
func (d ParallelDim) validate() error {
	if d.Degree < 1 {
		return errors.Errorf("parallel dim: degree %d must be >= 1", d.Degree)
	}
	if d.Degree > 1 && d.ParallelIdx < 0 {
		return errors.Errorf("parallel dim: degree %d > 1 requires a non-negative parallel_idx", d.Degree)
	}
	if !d.IsReplica && d.Size%d.Degree != 0 {
		return errors.Errorf("parallel dim: size %d not divisible by degree %d", d.Size, d.Degree)
	}
	return nil
}

// LogicalSize is the shard size on each device along this dimension.
func (d ParallelDim) LogicalSize() int {
	if d.Degree == 0 {
		return d.Size
	}
	return d.Size / d.Degree
}
