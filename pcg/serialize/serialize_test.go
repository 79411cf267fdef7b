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

package serialize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
	"github.com/flexflow/flexflow/types/dtype"
)

func buildSmallGraph(t *testing.T) *pcg.Model {
	m := pcg.NewModel(2)
	view := pcg.MachineView{AxisExtents: []int{2}}
	xID, err := m.AddInput(catalog.InputAttrs{DType: dtype.Float, Shape: []int{64, 128}}, view)
	require.NoError(t, err)
	_, err = m.AddOperator(catalog.NewElementUnaryAttrs(catalog.ElementUnaryRelu), []pcg.TensorID{xID}, view, pcg.DataParallel(1))
	require.NoError(t, err)
	return m
}

// TestEncodeDecodeRoundTrip is spec.md §8 property 8 applied across a
// full serialize/deserialize cycle.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := buildSmallGraph(t)
	data, err := Encode(m.PCG)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	graph, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, graph.Operators, len(m.PCG.Ops))

	for i, rec := range graph.Operators {
		original := m.PCG.Ops[i]
		require.Equal(t, original.ID, rec.ID)
		require.Equal(t, original.Kind, rec.Kind)
		require.True(t, catalog.Equal(original.Attrs, rec.Attrs))
	}
}

func TestEncodeStampsUniqueBuildID(t *testing.T) {
	m := buildSmallGraph(t)
	data1, err := Encode(m.PCG)
	require.NoError(t, err)
	data2, err := Encode(m.PCG)
	require.NoError(t, err)

	g1, err := Decode(data1)
	require.NoError(t, err)
	g2, err := Decode(data2)
	require.NoError(t, err)
	require.NotEqual(t, g1.BuildID, g2.BuildID)
}

func TestEncodeResolvesInputsByOwnerAndSlot(t *testing.T) {
	m := buildSmallGraph(t)
	data, err := Encode(m.PCG)
	require.NoError(t, err)
	graph, err := Decode(data)
	require.NoError(t, err)

	relu := graph.Operators[1]
	require.Len(t, relu.Inputs, 1)
	require.Equal(t, graph.Operators[0].ID, relu.Inputs[0].OwnerOp)
	require.Equal(t, 0, relu.Inputs[0].Slot)
}
