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

// Package serialize is the Graph Serializer (spec.md §4.8, component
// C10): it encodes an optimized PCG into a byte buffer for hand-off
// to the external task runtime. The format only needs to be
// binary-stable within a single build — spec.md §4.8 explicitly waives
// cross-version compatibility — which is exactly encoding/gob's
// contract, so this package reaches for the standard library rather
// than a wire-format dependency none of the rest of the stack needs.
package serialize

import (
	"bytes"
	"encoding/gob"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
)

// OperatorRecord is one operator's serialized form: its kind tag, its
// catalog attrs (registered with gob so the interface round-trips),
// its input references by owner operator id + output slot, and the
// machine view it was assigned.
type OperatorRecord struct {
	ID      pcg.OperatorID
	Kind    catalog.OpKind
	Attrs   catalog.Attrs
	Inputs  []InputRef
	Weights []pcg.TensorID
	Outputs []pcg.TensorID
	View    pcg.MachineView
}

// InputRef is spec.md §4.8's "input tensor references (by operator id
// + slot)": the id of the operator owning the referenced tensor, and
// that tensor's position in the owner's Outputs.
type InputRef struct {
	OwnerOp pcg.OperatorID
	Slot    int
}

// Graph is the top-level serialized form: a one-shot build id
// (spec.md §0/§2's uuid wiring — not used for core object identity,
// only to tag a specific compiled artifact) plus the operator list in
// topological order.
type Graph struct {
	BuildID   string
	Operators []OperatorRecord
}

func init() {
	// Every concrete Attrs implementation must be registered for gob
	// to encode the Attrs interface field. catalog's dispatch is
	// closed (spec.md §9 "sum-typed operator dispatch"), so this list
	// is exhaustive and grows exactly when the switch in catalog does.
	gob.Register(catalog.LinearAttrs{})
	gob.Register(catalog.Conv2DAttrs{})
	gob.Register(catalog.ElementBinaryAttrs{})
	gob.Register(catalog.ElementUnaryAttrs{})
	gob.Register(catalog.ElementScalarUnaryAttrs{})
	gob.Register(catalog.ConcatAttrs{})
	gob.Register(catalog.Pool2DAttrs{})
	gob.Register(catalog.CastAttrs{})
	gob.Register(catalog.DropoutAttrs{})
	gob.Register(catalog.EmbeddingAttrs{})
	gob.Register(catalog.FlatAttrs{})
	gob.Register(catalog.GatherAttrs{})
	gob.Register(catalog.MultiHeadAttentionAttrs{})
	gob.Register(catalog.LayerNormAttrs{})
	gob.Register(catalog.ReduceSumAttrs{})
	gob.Register(catalog.ReshapeAttrs{})
	gob.Register(catalog.SoftmaxAttrs{})
	gob.Register(catalog.RepartitionAttrs{})
	gob.Register(catalog.ReplicateAttrs{})
	gob.Register(catalog.ReductionAttrs{})
	gob.Register(catalog.CombineAttrs{})
	gob.Register(catalog.FusedParallelAttrs{})
	gob.Register(catalog.TransposeAttrs{})
	gob.Register(catalog.BatchMatmulAttrs{})
	gob.Register(catalog.SplitAttrs{})
	gob.Register(catalog.TopKAttrs{})
	gob.Register(catalog.GroupByAttrs{})
	gob.Register(catalog.AggregateAttrs{})
	gob.Register(catalog.AggregateSpecAttrs{})
	gob.Register(catalog.NoopAttrs{})
	gob.Register(catalog.InputAttrs{})
	gob.Register(catalog.FusedAttrs{})
}

// Encode builds a Graph from g and marshals it to bytes, stamping a
// fresh build id. Each input tensor reference is resolved to its
// owner's id and slot at encode time, not carried as a bare TensorID,
// since the runtime boundary (spec.md §6) addresses tensors by
// operator-id-plus-slot, not by the core's internal id space.
func Encode(g *pcg.PCG) ([]byte, error) {
	records := make([]OperatorRecord, 0, len(g.Ops))
	for _, op := range g.Ops {
		inputs := make([]InputRef, len(op.Inputs))
		for slot, tid := range op.Inputs {
			t, ok := g.Tensor(tid)
			if !ok {
				return nil, errors.Errorf("serialize: operator %d input %d references unregistered tensor %d", op.ID, slot, tid)
			}
			inputs[slot] = InputRef{OwnerOp: t.OwnerOp, Slot: t.OwnerSlot}
		}
		records = append(records, OperatorRecord{
			ID:      op.ID,
			Kind:    op.Kind,
			Attrs:   op.Attrs,
			Inputs:  inputs,
			Weights: op.Weights,
			Outputs: op.Outputs,
			View:    op.MachineView,
		})
	}

	graph := Graph{BuildID: uuid.NewString(), Operators: records}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(graph); err != nil {
		return nil, errors.Wrap(err, "serialize: encode")
	}
	klog.V(1).Infof("serialize: encoded %d operators into %d bytes, build %s", len(records), buf.Len(), graph.BuildID)
	return buf.Bytes(), nil
}

// Decode is Encode's inverse, used by tests and by any consumer that
// round-trips a serialized graph without a live PCG to compare
// against.
func Decode(data []byte) (Graph, error) {
	var graph Graph
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&graph); err != nil {
		return Graph{}, errors.Wrap(err, "serialize: decode")
	}
	for i := range graph.Operators {
		graph.Operators[i].Attrs = rehydrate(graph.Operators[i].Kind, graph.Operators[i].Attrs)
	}
	return graph, nil
}

// rehydrate rebuilds the three ElementXAttrs kinds from the record's
// own Kind. gob only round-trips exported fields, so
// ElementScalarUnaryAttrs arrives with its op field empty;
// ElementBinaryAttrs and ElementUnaryAttrs carry op through their
// own GobEncode/GobDecode, and rebuilding them gives the same value.
// The field is redundant with Kind, so this is reconstruction, not
// data recovery: spec.md §8 property 8 ("construct(params_of(o)) = o")
// otherwise fails for ElementScalarUnaryAttrs after a decode.
func rehydrate(kind catalog.OpKind, attrs catalog.Attrs) catalog.Attrs {
	switch a := attrs.(type) {
	case catalog.ElementBinaryAttrs:
		return catalog.NewElementBinaryAttrs(kind)
	case catalog.ElementUnaryAttrs:
		return catalog.NewElementUnaryAttrs(kind)
	case catalog.ElementScalarUnaryAttrs:
		return catalog.NewElementScalarUnaryAttrs(kind, a.Scalar)
	case catalog.FusedAttrs:
		fixed := make([]catalog.Attrs, len(a.SubAttrs))
		for i, sub := range a.SubAttrs {
			fixed[i] = rehydrate(a.SubKinds[i], sub)
		}
		return catalog.FusedAttrs{SubKinds: a.SubKinds, SubAttrs: fixed, SourceTags: a.SourceTags}
	default:
		return attrs
	}
}
