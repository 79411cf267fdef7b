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

package compile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
	"github.com/flexflow/flexflow/pcg/config"
	"github.com/flexflow/flexflow/pcg/lift"
	"github.com/flexflow/flexflow/pcg/simulate"
	"github.com/flexflow/flexflow/types/dtype"
)

type fakeOptimizer struct{ steps int }

func (f *fakeOptimizer) Step(weights []pcg.TensorID) error {
	f.steps++
	return nil
}

type fakeRuntime struct{ launches int }

func (f *fakeRuntime) Launch(serialized []byte) error {
	f.launches++
	return nil
}

func linearSoftmaxLayerGraph() *lift.LayerGraph {
	g := &lift.LayerGraph{}
	input := g.AddLayer(lift.Layer{Kind: catalog.Input, Attrs: catalog.InputAttrs{DType: dtype.Float, Shape: []int{64, 128}}})
	l1 := g.AddLayer(lift.Layer{
		Kind:   catalog.Linear,
		Attrs:  catalog.LinearAttrs{OutChannels: 64},
		Inputs: []lift.LayerTensorRef{{Layer: input, Slot: 0}},
	})
	g.AddLayer(lift.Layer{
		Kind:   catalog.Softmax,
		Attrs:  catalog.SoftmaxAttrs{Axis: 1},
		Inputs: []lift.LayerTensorRef{{Layer: l1, Slot: 0}},
	})
	return g
}

func TestCompileProducesSerializedModel(t *testing.T) {
	g := linearSoftmaxLayerGraph()
	m := pcg.NewModel(4)
	view := pcg.MachineView{AxisExtents: []int{4}}
	cfg := config.Default()
	cfg.SearchBudget = 20

	opt := &fakeOptimizer{}
	rt := &fakeRuntime{}
	result, err := Compile(g, m, lift.Options{View: view}, cfg, simulate.Reference{}, opt, rt, Inference)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Serialized)

	require.NoError(t, result.Forward(1))
	require.Equal(t, 1, rt.launches)

	require.NoError(t, result.Update())
	require.Equal(t, 1, opt.steps)
}

func TestCompileRejectsInvalidConfig(t *testing.T) {
	g := linearSoftmaxLayerGraph()
	m := pcg.NewModel(4)
	view := pcg.MachineView{AxisExtents: []int{4}}
	cfg := config.Default()
	cfg.BatchSize = -1

	_, err := Compile(g, m, lift.Options{View: view}, cfg, simulate.Reference{}, nil, nil, Inference)
	require.Error(t, err)
}

func TestCompileBackwardRejectedInInferenceMode(t *testing.T) {
	g := linearSoftmaxLayerGraph()
	m := pcg.NewModel(4)
	view := pcg.MachineView{AxisExtents: []int{4}}
	cfg := config.Default()
	cfg.SearchBudget = 10

	result, err := Compile(g, m, lift.Options{View: view}, cfg, simulate.Reference{}, nil, &fakeRuntime{}, Inference)
	require.NoError(t, err)
	require.Error(t, result.Backward(1))
}

func TestCompileMapsLinearWeightRegion(t *testing.T) {
	g := linearSoftmaxLayerGraph()
	m := pcg.NewModel(4)
	view := pcg.MachineView{AxisExtents: []int{4}}
	cfg := config.Default()
	cfg.SearchBudget = 10

	result, err := Compile(g, m, lift.Options{View: view}, cfg, simulate.Reference{}, nil, nil, Inference)
	require.NoError(t, err)

	var linear *pcg.Operator
	for _, op := range result.PCG.Ops {
		if op.Kind == catalog.Linear {
			linear = op
		}
	}
	require.NotNil(t, linear)
	require.NotEmpty(t, linear.Weights)

	w, ok := result.PCG.Tensor(linear.Weights[0])
	require.True(t, ok)
	require.NotEmpty(t, w.Partition.Extent, "linear weight must leave Compile with a mapped region")
}

func TestCompileAppliesFusionWhenEnabled(t *testing.T) {
	g := linearSoftmaxLayerGraph()
	m := pcg.NewModel(4)
	view := pcg.MachineView{AxisExtents: []int{4}}
	cfg := config.Default()
	cfg.SearchBudget = 10
	cfg.PerformFusion = true
	cfg.EnableInplaceOptimizations = true

	result, err := Compile(g, m, lift.Options{View: view}, cfg, simulate.Reference{}, nil, nil, Inference)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NoError(t, result.PCG.Validate())
}
