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
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/flexflow/flexflow/pcg/catalog"
	"github.com/flexflow/flexflow/types/shapes"
)

// Model is spec.md §9's "Model aggregate": the sole owner of the
// monotonic id allocators for operators, layers, tensors and parallel
// tensors, plus the PCG graph those ids are minted into. Every
// constructor that needs a fresh id takes a *Model, never a
// package-level counter.
type Model struct {
	PCG *PCG

	operatorIDs idAllocator
	tensorIDs   idAllocator
	layerIDs    idAllocator

	NumDevices int
}

// NewModel returns an empty model targeting numDevices devices.
func NewModel(numDevices int) *Model {
	return &Model{
		PCG:        NewPCG(),
		NumDevices: numDevices,
	}
}

func (m *Model) nextOperatorID() OperatorID { return OperatorID(m.operatorIDs.allocate()) }
func (m *Model) nextTensorID() TensorID     { return TensorID(m.tensorIDs.allocate()) }

// NextLayerID mints a fresh layer id; exposed for pcg/lift, which
// builds Layer values before any operator exists.
func (m *Model) NextLayerID() LayerID { return LayerID(m.layerIDs.allocate()) }

// AddOperator is the catalog's "construct" responsibility (spec.md
// §4.1 point 1) that IsValid/Infer/WeightShapes deliberately leave
// out: it is a pcg-package concern because constructing an operator
// means minting fresh ids and appending to the graph, and catalog
// must not import pcg (pcg already imports catalog for Attrs/OpKind).
//
// AddOperator validates attrs against inputs, infers output and
// weight shapes, allocates ids for the operator and every output and
// weight tensor, wires the operator's input slots to the given
// tensor ids, and appends the operator to the PCG in topological
// position (the order callers invoke AddOperator in).
func (m *Model) AddOperator(attrs catalog.Attrs, inputIDs []TensorID, view MachineView, pconfig ParallelConfig) (*Operator, error) {
	inputShapes := make([]shapes.ParallelShape, len(inputIDs))
	for i, id := range inputIDs {
		t, ok := m.PCG.Tensor(id)
		if !ok {
			return nil, errors.Errorf("add operator %s: input %d: tensor %d not found", attrs.Kind(), i, id)
		}
		inputShapes[i] = t.Shape
	}

	if err := catalog.IsValid(attrs, inputShapes); err != nil {
		return nil, errors.Wrapf(err, "add operator %s", attrs.Kind())
	}
	outShapes, err := catalog.Infer(attrs, inputShapes)
	if err != nil {
		return nil, errors.Wrapf(err, "add operator %s: infer", attrs.Kind())
	}
	var weightShapes []shapes.ParallelShape
	if attrs.Kind().HasWeights() {
		weightShapes, err = catalog.WeightShapes(attrs, inputShapes)
		if err != nil {
			return nil, errors.Wrapf(err, "add operator %s: weight shapes", attrs.Kind())
		}
	}

	opID := m.nextOperatorID()
	op := &Operator{
		ID:             opID,
		Kind:           attrs.Kind(),
		Attrs:          attrs,
		Inputs:         inputIDs,
		InputNeedsGrad: make([]bool, len(inputIDs)),
		MachineView:    view,
		ParallelConfig: pconfig,
	}

	outputs := make([]*ParallelTensor, len(outShapes))
	for slot, shp := range outShapes {
		tid := m.nextTensorID()
		outputs[slot] = &ParallelTensor{
			ID:        tid,
			Shape:     shp,
			OwnerOp:   opID,
			OwnerSlot: slot,
		}
		op.Outputs = append(op.Outputs, tid)
	}
	weights := make([]*ParallelTensor, len(weightShapes))
	for slot, shp := range weightShapes {
		tid := m.nextTensorID()
		weights[slot] = &ParallelTensor{
			ID:             tid,
			Shape:          shp,
			OwnerOp:        opID,
			OwnerSlot:      len(outShapes) + slot,
			Initializer:    Initializer{Kind: "glorot-uniform"},
			SyncMode:       SyncCollective,
			CreateGradient: true,
		}
		op.Weights = append(op.Weights, tid)
	}

	m.PCG.addOperator(op, outputs, weights)
	klog.V(2).Infof("pcg: added operator %d kind=%s inputs=%d outputs=%d weights=%d", opID, attrs.Kind(), len(inputIDs), len(outputs), len(weights))
	return op, nil
}

// AddInput registers a synthetic Input operator (spec.md §4.2's
// OP_INPUT) carrying no real inputs, and returns the tensor id of its
// single output slot.
func (m *Model) AddInput(attrs catalog.InputAttrs, view MachineView) (TensorID, error) {
	op, err := m.AddOperator(attrs, nil, view, DataParallel(view.NumDevices()))
	if err != nil {
		return 0, err
	}
	return op.Outputs[0], nil
}
