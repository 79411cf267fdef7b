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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexflow/flexflow/pcg/catalog"
	"github.com/flexflow/flexflow/types/dtype"
)

func oneDeviceView() MachineView { return MachineView{AxisExtents: []int{1}} }

// TestAddOperatorWiresInputsAndAllocatesIDs covers spec.md §8 property
// 1: every input slot an operator is constructed with must already
// resolve to a tensor owned by an earlier operator.
func TestAddOperatorWiresInputsAndAllocatesIDs(t *testing.T) {
	m := NewModel(1)
	xID, err := m.AddInput(catalog.InputAttrs{DType: dtype.Float, Shape: []int{64, 128}}, oneDeviceView())
	require.NoError(t, err)

	op, err := m.AddOperator(catalog.LinearAttrs{OutChannels: 64, UseBias: true}, []TensorID{xID}, oneDeviceView(), DataParallel(1))
	require.NoError(t, err)
	require.Len(t, op.Outputs, 1)
	require.Len(t, op.Weights, 2)
	require.NoError(t, m.PCG.Validate())

	out, ok := m.PCG.Tensor(op.Outputs[0])
	require.True(t, ok)
	require.Equal(t, 64, out.Shape.Dims[1].Size)
}

func TestAddOperatorRejectsUnknownInput(t *testing.T) {
	m := NewModel(1)
	_, err := m.AddOperator(catalog.LinearAttrs{OutChannels: 8}, []TensorID{999}, oneDeviceView(), DataParallel(1))
	require.Error(t, err)
}

func TestAddOperatorRejectsInvalidShape(t *testing.T) {
	m := NewModel(1)
	xID, err := m.AddInput(catalog.InputAttrs{DType: dtype.Float, Shape: []int{8, 4, 32, 32}}, oneDeviceView())
	require.NoError(t, err)

	_, err = m.AddOperator(catalog.Conv2DAttrs{OutChannels: 16, KernelH: 3, KernelW: 3, StrideH: 1, StrideW: 1, PaddingH: 1, PaddingW: 1, Groups: 1}, []TensorID{xID, xID}, oneDeviceView(), DataParallel(1))
	require.Error(t, err)
}

func TestWeightTensorsCarryInitializerAndGradient(t *testing.T) {
	m := NewModel(1)
	xID, err := m.AddInput(catalog.InputAttrs{DType: dtype.Float, Shape: []int{64, 128}}, oneDeviceView())
	require.NoError(t, err)
	op, err := m.AddOperator(catalog.LinearAttrs{OutChannels: 64, UseBias: true}, []TensorID{xID}, oneDeviceView(), DataParallel(1))
	require.NoError(t, err)

	w, ok := m.PCG.Tensor(op.Weights[0])
	require.True(t, ok)
	require.True(t, w.IsWeight())
	require.True(t, w.CreateGradient)
	require.Equal(t, SyncCollective, w.SyncMode)
}

func TestCommunicatorCacheReturnsSameHandleForSameView(t *testing.T) {
	g := NewPCG()
	view := MachineView{AxisExtents: []int{2, 2}}
	calls := 0
	newFn := func() CommunicatorHandle { calls++; return CommunicatorHandle{} }
	g.Communicator(view, newFn)
	g.Communicator(view, newFn)
	require.Equal(t, 1, calls)
}
