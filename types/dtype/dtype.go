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

// Package dtype enumerates the closed set of element types the core
// operator catalog and shape inference rules know about.
//
// This is deliberately not gomlx's own dtype enum, which is tied to
// the XLA/PJRT wire format and carries types (bfloat16, tuples, opaque
// handles, tokens) that have no meaning to a kernel-agnostic compiler.
// FlexFlow's core only ever needs to agree with an opaque kernel about
// which of these five types a tensor holds.
package dtype

// DType identifies the element type of a (parallel) tensor.
type DType int32

const (
	Invalid DType = iota
	Half
	Float
	Double
	Int32
	Int64
)

var names = map[DType]string{
	Invalid: "invalid",
	Half:    "half",
	Float:   "float",
	Double:  "double",
	Int32:   "int32",
	Int64:   "int64",
}

func (d DType) String() string {
	if name, ok := names[d]; ok {
		return name
	}
	return "unknown"
}

// Ok reports whether d is one of the five supported types.
func (d DType) Ok() bool {
	return d >= Half && d <= Int64
}

// Size returns the size in bytes of one element of the given type.
func (d DType) Size() int {
	switch d {
	case Half:
		return 2
	case Float:
		return 4
	case Double:
		return 8
	case Int32:
		return 4
	case Int64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether d is one of the floating-point types.
func (d DType) IsFloat() bool {
	return d == Half || d == Float || d == Double
}
