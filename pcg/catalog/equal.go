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

package catalog

import "reflect"

// Equal reports whether two Attrs records are equal: same concrete
// type and same field values. spec.md §4.1 point 1 requires attribute
// records to be "value-typed and equality-comparable" so that "equal
// records imply operator equivalence for memoization"; several
// records here hold slices (ReshapeAttrs.TargetShape, ReduceSumAttrs.
// Axes, …) which Go's == does not support, so comparison goes through
// reflect.DeepEqual instead of a literal ==.
func Equal(a, b Attrs) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	return reflect.DeepEqual(a, b)
}
