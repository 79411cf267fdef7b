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

package fusion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
	"github.com/flexflow/flexflow/types/dtype"
)

// buildElementwiseChain lifts spec.md §8 scenario S3's operator
// sequence: [input, linear, relu, dropout, linear, softmax], uniform
// machine view, all on a single device.
func buildElementwiseChain(t *testing.T) *pcg.Model {
	m := pcg.NewModel(1)
	view := pcg.MachineView{AxisExtents: []int{1}}

	xID, err := m.AddInput(catalog.InputAttrs{DType: dtype.Float, Shape: []int{64, 128}}, view)
	require.NoError(t, err)

	linear1, err := m.AddOperator(catalog.LinearAttrs{OutChannels: 64}, []pcg.TensorID{xID}, view, pcg.DataParallel(1))
	require.NoError(t, err)

	relu, err := m.AddOperator(catalog.NewElementUnaryAttrs(catalog.ElementUnaryRelu), []pcg.TensorID{linear1.Outputs[0]}, view, pcg.DataParallel(1))
	require.NoError(t, err)

	dropout, err := m.AddOperator(catalog.DropoutAttrs{Rate: 0.5}, []pcg.TensorID{relu.Outputs[0]}, view, pcg.DataParallel(1))
	require.NoError(t, err)

	linear2, err := m.AddOperator(catalog.LinearAttrs{OutChannels: 32}, []pcg.TensorID{dropout.Outputs[0]}, view, pcg.DataParallel(1))
	require.NoError(t, err)

	_, err = m.AddOperator(catalog.SoftmaxAttrs{Axis: 1}, []pcg.TensorID{linear2.Outputs[0]}, view, pcg.DataParallel(1))
	require.NoError(t, err)

	return m
}

// TestFuseCollapsesElementwiseChain is spec.md §8 scenario S3.
func TestFuseCollapsesElementwiseChain(t *testing.T) {
	m := buildElementwiseChain(t)
	require.Len(t, m.PCG.Ops, 6)

	MarkInPlace(m.PCG)
	fused, err := Fuse(m.PCG)
	require.NoError(t, err)

	require.Len(t, fused.Ops, 4)

	var fusedOp *pcg.Operator
	for _, op := range fused.Ops {
		if op.Kind == catalog.Fused {
			fusedOp = op
		}
	}
	require.NotNil(t, fusedOp)

	attrs, ok := fusedOp.Attrs.(catalog.FusedAttrs)
	require.True(t, ok)
	require.Equal(t, []catalog.OpKind{catalog.Linear, catalog.ElementUnaryRelu, catalog.Dropout}, attrs.SubKinds)
	require.Equal(t, []catalog.SourceTag{catalog.SourceWeight, catalog.SourceOutput, catalog.SourceOutput}, attrs.SourceTags)

	kinds := fused.Kinds()
	require.Equal(t, []catalog.OpKind{catalog.Input, catalog.Fused, catalog.Linear, catalog.Softmax}, kinds)
}

// TestFusePreservesGraphValidity is spec.md §8 property 7: fusion
// never breaks the topological-order invariant property 1 checks.
func TestFusePreservesGraphValidity(t *testing.T) {
	m := buildElementwiseChain(t)
	require.NoError(t, m.PCG.Validate())

	MarkInPlace(m.PCG)
	fused, err := Fuse(m.PCG)
	require.NoError(t, err)
	require.NoError(t, fused.Validate())
}

// TestFuseIsIdempotent confirms a second pass over an already-fused
// graph finds nothing left to do.
func TestFuseIsIdempotent(t *testing.T) {
	m := buildElementwiseChain(t)
	MarkInPlace(m.PCG)
	first, err := Fuse(m.PCG)
	require.NoError(t, err)
	firstLen := len(first.Ops)

	second, err := Fuse(first)
	require.NoError(t, err)
	require.Len(t, second.Ops, firstLen)
}

// TestMarkInPlaceSkipsFusionEligibleTargets exercises the in-place
// detector itself: relu and dropout are both single-consumer,
// shared-machine-view candidates, but since they are also
// isFusableTarget kinds, MarkInPlace leaves them unmarked so Fuse (run
// right after) is free to absorb them into the preceding linear
// instead.
func TestMarkInPlaceSkipsFusionEligibleTargets(t *testing.T) {
	m := buildElementwiseChain(t)
	MarkInPlace(m.PCG)

	for _, op := range m.PCG.Ops {
		switch op.Kind {
		case catalog.Input, catalog.Linear, catalog.ElementUnaryRelu, catalog.Dropout:
			require.False(t, op.InPlace, "kind %v should not be marked in-place", op.Kind)
		}
	}
}

// TestMarkInPlaceThenFuseCollapsesChain runs the exact combination
// compile.compile performs when both EnableInplaceOptimizations and
// PerformFusion are set: MarkInPlace must not veto the fusion pass
// that immediately follows it.
func TestMarkInPlaceThenFuseCollapsesChain(t *testing.T) {
	m := buildElementwiseChain(t)
	MarkInPlace(m.PCG)
	fused, err := Fuse(m.PCG)
	require.NoError(t, err)

	require.Len(t, fused.Ops, 4)
	kinds := fused.Kinds()
	require.Equal(t, []catalog.OpKind{catalog.Input, catalog.Fused, catalog.Linear, catalog.Softmax}, kinds)
}

// TestFuseSkipsInPlaceTarget confirms an operator MarkInPlace flagged
// is never folded into a preceding seed, per spec.md §4.7's "O[l] has
// no in-place output" precondition.
func TestFuseSkipsInPlaceTarget(t *testing.T) {
	m := buildElementwiseChain(t)
	for _, op := range m.PCG.Ops {
		if op.Kind == catalog.ElementUnaryRelu {
			op.InPlace = true
		}
	}
	fused, err := Fuse(m.PCG)
	require.NoError(t, err)

	for _, op := range fused.Ops {
		if fa, ok := op.Attrs.(catalog.FusedAttrs); ok {
			require.NotContains(t, fa.SubKinds, catalog.ElementUnaryRelu)
		}
	}
}
