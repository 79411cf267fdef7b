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

package assign

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
	"github.com/flexflow/flexflow/types/dtype"
)

func buildTwoLinearModel(t *testing.T, numDevices int) *pcg.Model {
	m := pcg.NewModel(numDevices)
	view := pcg.MachineView{AxisExtents: []int{numDevices}}
	xID, err := m.AddInput(catalog.InputAttrs{DType: dtype.Float, Shape: []int{64, 128}}, view)
	require.NoError(t, err)
	op1, err := m.AddOperator(catalog.LinearAttrs{OutChannels: 32}, []pcg.TensorID{xID}, view, pcg.DataParallel(numDevices))
	require.NoError(t, err)
	_, err = m.AddOperator(catalog.LinearAttrs{OutChannels: 16}, []pcg.TensorID{op1.Outputs[0]}, view, pcg.DataParallel(numDevices))
	require.NoError(t, err)
	return m
}

func TestDataParallelInitialCoversAllOperators(t *testing.T) {
	m := buildTwoLinearModel(t, 4)
	a := DataParallelInitial(m.PCG)
	require.Len(t, a, len(m.PCG.Ops))
}

func TestRandomRewriteProducesValidAssignment(t *testing.T) {
	m := buildTwoLinearModel(t, 4)
	a := DataParallelInitial(m.PCG)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		a = RandomRewrite(m.PCG, a, rng, 4)
		require.NoError(t, ValidateClosure(m.PCG, a))
	}
}

func TestRandomRewriteNeverMutatesTerminalOperator(t *testing.T) {
	m := buildTwoLinearModel(t, 4)
	m.PCG.Ops[len(m.PCG.Ops)-1].Terminal = true
	terminalID := m.PCG.Ops[len(m.PCG.Ops)-1].ID
	a := DataParallelInitial(m.PCG)
	before := a[terminalID]

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		a = RandomRewrite(m.PCG, a, rng, 4)
	}
	require.Equal(t, before, a[terminalID])
}

// TestRandomRewriteRejectsNonDivisibleDegree covers spec.md §8
// scenario S5: a degree that does not divide the dimension size is
// never sampled into the resulting assignment.
func TestRandomRewriteRejectsNonDivisibleDegree(t *testing.T) {
	degrees := divisorDegrees(8, 10)
	for _, d := range degrees {
		require.Zero(t, 8%d)
	}
	require.NotContains(t, degrees, 3)
}

func TestPropagationRewritePreservesAssignmentSize(t *testing.T) {
	m := buildTwoLinearModel(t, 4)
	a := DataParallelInitial(m.PCG)
	rng := rand.New(rand.NewSource(3))
	next := PropagationRewrite(m.PCG, a, rng, 0.5, 0.5)
	require.Len(t, next, len(a))
}

func TestCloneIsIndependent(t *testing.T) {
	a := Assignment{1: pcg.DataParallel(2)}
	b := a.Clone()
	b[1].Dim[0] = 99
	require.NotEqual(t, a[1].Dim[0], b[1].Dim[0])
}
