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

package lift

import (
	"github.com/flexflow/flexflow/pcg/catalog"
)

// LayerTensorRef names one output slot of one layer — the unit the
// layer graph's edges point at, before any parallel tensor exists for
// it.
type LayerTensorRef struct {
	Layer int
	Slot  int
}

// Layer is spec.md §3 "Layer": the user-facing, kind-tagged,
// immutable-once-referenced unit C3 lifts into one or more operators.
// Layer is intentionally simpler than pcg.Operator — it carries no
// ids minted by Model, no machine view, no parallel config; those are
// all products of lifting, not inputs to it.
type Layer struct {
	Kind  catalog.OpKind
	Attrs catalog.Attrs

	// Inputs references earlier layers' output slots, empty for
	// OP_INPUT layers.
	Inputs []LayerTensorRef
}

// LayerGraph is an ordered layer list; the order is assumed
// topological, matching spec.md §4.2's "walk L in topological order."
type LayerGraph struct {
	Layers []Layer
}

// AddLayer appends a layer and returns its index, which doubles as
// its LayerTensorRef.Layer for any later layer that consumes its
// outputs.
func (g *LayerGraph) AddLayer(l Layer) int {
	g.Layers = append(g.Layers, l)
	return len(g.Layers) - 1
}
