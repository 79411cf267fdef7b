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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexflow/flexflow/types/dtype"
	"github.com/flexflow/flexflow/types/shapes"
)

// TestLinearInfer is spec.md §8 scenario S1's shape-inference half: a
// [batch=64, in=128] input through Linear(out=64) yields [64, 64].
func TestLinearInfer(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 64, 128)
	attrs := LinearAttrs{OutChannels: 64, Activation: ActivationRelu, UseBias: true}
	outs, err := Infer(attrs, []shapes.ParallelShape{x})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, shapes.Make(dtype.Float, 64, 64), outs[0].Logical())
}

func TestLinearWeightShapes(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 64, 128)
	attrs := LinearAttrs{OutChannels: 64, UseBias: true}
	weights, err := WeightShapes(attrs, []shapes.ParallelShape{x})
	require.NoError(t, err)
	require.Len(t, weights, 2)
	require.Equal(t, shapes.Make(dtype.Float, 128, 64), weights[0].Logical())
	require.Equal(t, shapes.Make(dtype.Float, 64), weights[1].Logical())
}

// TestAggregateInfer is spec.md §8 scenario S2.
func TestAggregateInfer(t *testing.T) {
	gatePreds := shapes.MakeParallel(dtype.Float, 4, 8, 1)
	gateAssign := shapes.MakeParallel(dtype.Float, 4, 8, 1)
	trueGateAssign := shapes.MakeParallel(dtype.Float, 4, 8, 1)
	fullGate := shapes.MakeParallel(dtype.Float, 3, 8, 1)
	expert := shapes.MakeParallel(dtype.Float, 16, 32, 1)
	inputs := []shapes.ParallelShape{gatePreds, gateAssign, trueGateAssign, fullGate, expert, expert.Clone(), expert.Clone()}

	attrs := AggregateAttrs{N: 3, LambdaBal: 0.1}
	outs, err := Infer(attrs, inputs)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, shapes.Make(dtype.Float, 16, 8, 1), outs[0].Logical())
}

func TestAggregateAttrsEquality(t *testing.T) {
	a := AggregateAttrs{N: 3, LambdaBal: 0.1}
	b := AggregateAttrs{N: 3, LambdaBal: 0.1}
	c := AggregateAttrs{N: 3, LambdaBal: 0.2}
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}

// TestAggregateSpecIsDistinctKind covers spec.md §9 Open Question 1:
// AggregateSpec has its own kind and attrs, not delegated to Aggregate.
func TestAggregateSpecIsDistinctKind(t *testing.T) {
	require.Equal(t, AggregateSpec, AggregateSpecAttrs{}.Kind())
	require.NotEqual(t, Aggregate, AggregateSpec)
}

func TestReshapeInfer(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 4, 6)
	outs, err := Infer(ReshapeAttrs{TargetShape: []int{2, 12}}, []shapes.ParallelShape{x})
	require.NoError(t, err)
	require.Equal(t, shapes.Make(dtype.Float, 2, 12), outs[0].Logical())
}

func TestReshapeRejectsSizeMismatch(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 4, 6)
	_, err := Infer(ReshapeAttrs{TargetShape: []int{5, 5}}, []shapes.ParallelShape{x})
	require.Error(t, err)
}

func TestRepartitionInfer(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 64, 128)
	outs, err := Infer(RepartitionAttrs{Axis: 0, Degree: 4, MachineAxis: 0}, []shapes.ParallelShape{x})
	require.NoError(t, err)
	require.Equal(t, 4, outs[0].Dims[0].Degree)
	require.Equal(t, 0, outs[0].Dims[0].ParallelIdx)
	require.Equal(t, shapes.Make(dtype.Float, 64, 128), outs[0].Logical())
}

// TestRepartitionRejectsNonDivisibleDegree is spec.md §8 scenario S5.
func TestRepartitionRejectsNonDivisibleDegree(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 8)
	err := IsValid(RepartitionAttrs{Axis: 0, Degree: 3, MachineAxis: 0}, []shapes.ParallelShape{x})
	require.Error(t, err)
}

func TestSplitInfer(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 10, 4)
	outs, err := Infer(SplitAttrs{Axis: 0, Sizes: []int{6, 4}}, []shapes.ParallelShape{x})
	require.NoError(t, err)
	require.Len(t, outs, 2)
	require.Equal(t, 6, outs[0].Dims[0].Size)
	require.Equal(t, 4, outs[1].Dims[0].Size)
}

func TestConv2DInfer(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 8, 3, 32, 32)
	attrs := Conv2DAttrs{OutChannels: 16, KernelH: 3, KernelW: 3, StrideH: 1, StrideW: 1, PaddingH: 1, PaddingW: 1, Groups: 1}
	outs, err := Infer(attrs, []shapes.ParallelShape{x})
	require.NoError(t, err)
	require.Equal(t, shapes.Make(dtype.Float, 8, 16, 32, 32), outs[0].Logical())
}

func TestConv2DRejectsPartitionedChannels(t *testing.T) {
	x := shapes.MakeParallel(dtype.Float, 8, 4, 32, 32).WithDegree(1, 2, 1)
	attrs := Conv2DAttrs{OutChannels: 16, KernelH: 3, KernelW: 3, StrideH: 1, StrideW: 1, PaddingH: 1, PaddingW: 1, Groups: 1}
	_, err := Infer(attrs, []shapes.ParallelShape{x})
	require.Error(t, err)
}
