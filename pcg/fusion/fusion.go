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
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/catalog"
)

// Fuse implements the greedy vertical fusion pass: repeat until no
// more fusions; for each non-terminal O[l], find the latest O[i]
// (i < l) it can be incorporated into, and collapse the two into a
// single FusedOp.
//
// This implementation bounds "incorporating O[l] into a FusedOp
// seeded at O[i]" to the common case a linear-into-activation chain
// exercises: O[l] consumes exactly one tensor, and that tensor is
// O[i]'s sole exposed output. A chain producer with multiple live
// consumers, or an O[l] with more than one external input, is never
// folded — it is a safe candidate the pass simply leaves alone, not a
// bug, since under-fusing only costs performance, never correctness.
//
// Fuse mutates g's operator list in place (tensors are never removed
// or recreated — only their OwnerOp bookkeeping changes — so the
// graph's tensor table needs no rebuilding) and returns g.
func Fuse(g *pcg.PCG) (*pcg.PCG, error) {
	before := append([]*pcg.Operator{}, g.Ops...)
	ops := append([]*pcg.Operator{}, g.Ops...)

	for {
		i, l, ok := findFusionCandidate(g, ops)
		if !ok {
			break
		}
		targetID := ops[l].ID
		fused, err := buildFusedOp(g, ops[i], ops[l])
		if err != nil {
			return nil, errors.Wrapf(err, "fusion: seed %d target %d", ops[i].ID, ops[l].ID)
		}
		ops = rewriteList(ops, i, l, fused)
		klog.V(1).Infof("fusion: merged operator %d into %d, new length %d", targetID, fused.ID, len(ops))
	}

	g.Ops = ops
	if err := integrityCheck(before, g); err != nil {
		return nil, err
	}
	return g, nil
}

// findFusionCandidate scans for the first (l, latest-i) pair eligible
// for fusion: for each l in [1, n-1), find the latest i < l such that
// O[l] can be absorbed into O[i].
func findFusionCandidate(g *pcg.PCG, ops []*pcg.Operator) (int, int, bool) {
	for l := 1; l < len(ops)-1; l++ {
		target := ops[l]
		if target.Terminal || target.InPlace || target.Kind.IsParallelOperator() || target.Kind == catalog.Input || !isFusableTarget(target.Kind) {
			continue
		}
		for i := l - 1; i >= 0; i-- {
			seed := ops[i]
			if seed.Terminal || seed.InPlace || seed.Kind.IsParallelOperator() || seed.Kind == catalog.Input {
				continue
			}
			if canFuse(g, seed, target) {
				return i, l, true
			}
		}
	}
	return 0, 0, false
}

// isFusableTarget restricts which kinds may be the absorbed operator
// O[l] in a fusion step to ones whose computation is purely per
// element, with no cross-element reduction or additional structural
// state — the textbook "vertical/elementwise fusion into a preceding
// op" pattern (relu and dropout fold into the linear ahead of them;
// softmax, which normalizes across the whole row, does not fold into
// the linear ahead of it). A kind is always eligible to be the fusion
// seed O[i]; this restriction only ever narrows what can be folded
// onto a seed.
func isFusableTarget(k catalog.OpKind) bool {
	switch k {
	case catalog.ElementBinaryAdd, catalog.ElementBinarySub, catalog.ElementBinaryMul, catalog.ElementBinaryDiv,
		catalog.ElementBinaryMax, catalog.ElementBinaryMin,
		catalog.ElementUnaryExp, catalog.ElementUnarySin, catalog.ElementUnaryCos,
		catalog.ElementUnaryScalarAdd, catalog.ElementUnaryScalarSub, catalog.ElementUnaryScalarMul, catalog.ElementUnaryScalarDiv,
		catalog.ElementUnaryRelu, catalog.ElementUnarySigmoid, catalog.ElementUnaryTanh, catalog.ElementUnaryIdentity,
		catalog.ElementUnaryGelu, catalog.ElementUnaryElu,
		catalog.Dropout, catalog.Cast:
		return true
	default:
		return false
	}
}

// maxWeightOpsPerFusedOp bounds how many weight-bearing sub-ops a
// single fused group may absorb — one, which is enough for the common
// activation-into-linear pattern without letting fusion chain two
// separate parameter updates into one kernel.
const maxWeightOpsPerFusedOp = 1

// canFuse checks the preconditions for the bounded case this pass
// handles: identical machine view, target's sole input is seed's sole
// exposed output, and the resulting group's weight-op count stays
// within bound.
func canFuse(g *pcg.PCG, seed, target *pcg.Operator) bool {
	if !seed.MachineView.Equal(target.MachineView) {
		return false
	}
	if len(target.Inputs) != 1 || len(seed.Outputs) != 1 {
		return false
	}
	t, ok := g.Tensor(target.Inputs[0])
	if !ok {
		return false
	}
	if t.OwnerOp != seed.ID || t.ID != seed.Outputs[0] {
		return false
	}
	return weightOpCount(seed)+weightOpCount(target) <= maxWeightOpsPerFusedOp
}

// weightOpCount counts how many weight-bearing sub-ops seed already
// represents: 1 for a plain weight-bearing op, the count of
// weight-bearing sub-kinds if seed is already a Fused op, 0 otherwise.
func weightOpCount(op *pcg.Operator) int {
	if fa, ok := op.Attrs.(catalog.FusedAttrs); ok {
		n := 0
		for _, k := range fa.SubKinds {
			if k.HasWeights() {
				n++
			}
		}
		return n
	}
	if op.Kind.HasWeights() {
		return 1
	}
	return 0
}

// sourceTag assigns kind the SourceTag its position in the sub-op
// list earns it: weight-bearing sub-ops are always SourceWeight
// regardless of position; the seed (index 0) that consumes the
// FusedOp's external input is SourceInput when it carries no weights;
// every other absorbed, non-weight sub-op is SourceOutput.
func sourceTag(kind catalog.OpKind, index int) catalog.SourceTag {
	switch {
	case kind.HasWeights():
		return catalog.SourceWeight
	case index == 0:
		return catalog.SourceInput
	default:
		return catalog.SourceOutput
	}
}

// buildFusedOp constructs the FusedOp that replaces {seed, target}.
// If seed is already a Fused op, target's kind/attrs extend its
// sub-op list rather than nesting a Fused-within-Fused.
func buildFusedOp(g *pcg.PCG, seed, target *pcg.Operator) (*pcg.Operator, error) {
	var subKinds []catalog.OpKind
	var subAttrs []catalog.Attrs
	var sourceTags []catalog.SourceTag
	if fa, ok := seed.Attrs.(catalog.FusedAttrs); ok {
		subKinds = append(subKinds, fa.SubKinds...)
		subAttrs = append(subAttrs, fa.SubAttrs...)
		sourceTags = append(sourceTags, fa.SourceTags...)
	} else {
		subKinds = append(subKinds, seed.Kind)
		subAttrs = append(subAttrs, seed.Attrs)
		sourceTags = append(sourceTags, sourceTag(seed.Kind, 0))
	}
	subKinds = append(subKinds, target.Kind)
	subAttrs = append(subAttrs, target.Attrs)
	sourceTags = append(sourceTags, sourceTag(target.Kind, len(subKinds)-1))

	fused := &pcg.Operator{
		ID:             seed.ID,
		Kind:           catalog.Fused,
		Attrs:          catalog.FusedAttrs{SubKinds: subKinds, SubAttrs: subAttrs, SourceTags: sourceTags},
		Inputs:         seed.Inputs,
		InputNeedsGrad: seed.InputNeedsGrad,
		Weights:        append(append([]pcg.TensorID{}, seed.Weights...), target.Weights...),
		Outputs:        target.Outputs,
		MachineView:    seed.MachineView,
		ParallelConfig: seed.ParallelConfig,
	}

	for _, tid := range target.Outputs {
		if t, ok := g.Tensor(tid); ok {
			t.OwnerOp = fused.ID
		}
	}
	return fused, nil
}

// rewriteList implements the rebuild step: keep O[0..i), substitute
// the fused op, keep O[i+1..n) \ {O[l]}. Downstream operators' inputs
// are left as they are: they name O[l]'s output tensors by id, and
// buildFusedOp has already re-pointed those tensors' OwnerOp at the
// fused op.
func rewriteList(ops []*pcg.Operator, i, l int, fused *pcg.Operator) []*pcg.Operator {
	next := make([]*pcg.Operator, 0, len(ops)-1)
	next = append(next, ops[:i]...)
	next = append(next, fused)
	for idx := i + 1; idx < len(ops); idx++ {
		if idx == l {
			continue
		}
		next = append(next, ops[idx])
	}
	return next
}

// integrityCheck is the pass's closing check: every non-fused operator
// in the new list also existed in the old list, and every operator's
// region-bearing tensor slots still match the tensors it exposes.
func integrityCheck(before []*pcg.Operator, g *pcg.PCG) error {
	oldIDs := make(map[pcg.OperatorID]bool, len(before))
	for _, op := range before {
		oldIDs[op.ID] = true
	}
	for _, op := range g.Ops {
		if op.Kind != catalog.Fused && !oldIDs[op.ID] {
			return errors.Errorf("fusion: integrity check failed — operator %d in new list was not in old list", op.ID)
		}
		for _, tid := range op.Outputs {
			if _, ok := g.Tensor(tid); !ok {
				return errors.Errorf("fusion: integrity check failed — operator %d exposes unregistered output %d", op.ID, tid)
			}
		}
	}
	return nil
}
