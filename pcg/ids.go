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

// OperatorID, TensorID and LayerID are the global, monotonically
// increasing identifiers spec.md §9 requires ("Global mutable id
// allocators... keep them as monotonic counters on the Model
// aggregate, thread them through every constructor. Do not use
// process-wide statics.").
type OperatorID int64
type TensorID int64
type LayerID int64

// idAllocator is a single monotonic counter, embedded by value (never
// by pointer to a package-level var) inside Model.
type idAllocator struct {
	next int64
}

func (a *idAllocator) allocate() int64 {
	id := a.next
	a.next++
	return id
}
