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
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
	"github.com/flexflow/flexflow/types/shapes"
)

// Options controls lifting behavior beyond what the layer graph alone
// determines.
type Options struct {
	// OnlyDataParallel, when true, makes every OP_INPUT's leading
	// (batch, axis 0) dimension repartitioned across all workers immediately
	// (spec.md §4.2 point 2's "only data-parallel" mode), instead of
	// leaving that decision to C5/C7.
	OnlyDataParallel bool

	// View is the machine view every lifted operator starts out on.
	// Search (C7) is what later diversifies machine views; the
	// lifter just needs a valid starting point.
	View pcg.MachineView
}

// Lift implements spec.md §4.2: walk the layer graph in topological
// order, construct one operator per layer via the catalog (through
// Model.AddOperator, which is the catalog's "construct" entry
// point), and return the map from each layer's output slot to its
// parallel tensor id — the T map the algorithm keeps internally,
// exposed to callers that need to resolve final model outputs. The
// last operator constructed is the loss-adjacent Terminal operator
// the GLOSSARY defines, exempt from mutation (C5) and fusion (C9).
func Lift(g *LayerGraph, m *pcg.Model, opts Options) (map[LayerTensorRef]pcg.TensorID, error) {
	t := make(map[LayerTensorRef]pcg.TensorID, len(g.Layers))
	var lastOp *pcg.Operator

	for li, layer := range g.Layers {
		if layer.Kind == catalog.Input {
			tid, err := liftInput(m, layer, opts)
			if err != nil {
				return nil, errors.Wrapf(err, "lift: layer %d (input)", li)
			}
			t[LayerTensorRef{Layer: li, Slot: 0}] = tid
			continue
		}

		inputIDs := make([]pcg.TensorID, len(layer.Inputs))
		for i, ref := range layer.Inputs {
			tid, ok := t[ref]
			if !ok {
				return nil, errors.Errorf("lift: layer %d input %d references layer %d slot %d before it was lifted", li, i, ref.Layer, ref.Slot)
			}
			inputIDs[i] = tid
		}

		op, err := m.AddOperator(layer.Attrs, inputIDs, opts.View, pcg.DataParallel(opts.View.NumDevices()))
		if err != nil {
			return nil, errors.Wrapf(err, "lift: layer %d (%s)", li, layer.Kind)
		}
		for slot, tid := range op.Outputs {
			t[LayerTensorRef{Layer: li, Slot: slot}] = tid
		}
		klog.V(1).Infof("lift: layer %d kind=%s -> operator %d", li, layer.Kind, op.ID)
		lastOp = op
	}

	if lastOp != nil {
		lastOp.Terminal = true
	}

	return t, nil
}

// liftInput realizes spec.md §4.2 point 2's OP_INPUT case: once the
// synthetic input operator is constructed, its output shape gets a
// trailing replica dimension, and — under OnlyDataParallel — an
// immediate repartition of the leading (axis 0) batch dimension
// follows.
func liftInput(m *pcg.Model, layer Layer, opts Options) (pcg.TensorID, error) {
	attrs, ok := layer.Attrs.(catalog.InputAttrs)
	if !ok {
		return 0, errors.Errorf("lift: OP_INPUT layer must carry catalog.InputAttrs, got %T", layer.Attrs)
	}

	tid, err := m.AddInput(attrs, opts.View)
	if err != nil {
		return 0, err
	}
	tensor, ok := m.PCG.Tensor(tid)
	if !ok {
		return 0, errors.Errorf("lift: input tensor %d vanished immediately after construction", tid)
	}
	tensor.Shape.Dims = append(tensor.Shape.Dims, shapes.Replica())

	if !opts.OnlyDataParallel {
		return tid, nil
	}

	const batchAxis = 0 // leading dimension, matching every catalog rule that treats axis 0 as batch.
	degree := opts.View.NumDevices()
	if degree <= 1 {
		return tid, nil
	}
	repOp, err := m.AddOperator(catalog.RepartitionAttrs{Axis: batchAxis, Degree: degree, MachineAxis: 0}, []pcg.TensorID{tid}, opts.View, pcg.DataParallel(degree))
	if err != nil {
		return 0, errors.Wrapf(err, "lift: inserting data-parallel repartition on input")
	}
	return repOp.Outputs[0], nil
}
