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
	"github.com/pkg/errors"

	"github.com/flexflow/flexflow/types/shapes"
)

// IsValid is the validity predicate of spec.md §4.1 point 2: a cheap,
// structural rejection of shapes an operator cannot accept (rank
// mismatches, input-count mismatches, and the partition-divisibility
// checks ParallelShape.Validate already performs). It does not
// compute output shapes — see Infer for that.
func IsValid(attrs Attrs, inputs []shapes.ParallelShape) error {
	k := attrs.Kind()
	if err := checkArity(k, len(inputs)); err != nil {
		return err
	}
	for i, in := range inputs {
		if err := in.Validate(0); err != nil {
			return errors.Wrapf(err, "%s: input %d", k, i)
		}
	}
	switch a := attrs.(type) {
	case LinearAttrs:
		if inputs[0].Rank() < 1 {
			return errors.Errorf("linear: input must have rank >= 1")
		}
		if a.OutChannels <= 0 {
			return errors.Errorf("linear: out_channels must be positive")
		}
	case Conv2DAttrs:
		if inputs[0].Rank() != 4 {
			return errors.Errorf("conv2d: input must be rank 4 (N,C,H,W), got %d", inputs[0].Rank())
		}
		if inputs[0].Dims[1].Degree != 1 {
			return errors.Errorf("conv2d: channel axis must not be partitioned (num_par_c == 1)")
		}
		if a.Groups <= 0 || a.OutChannels <= 0 {
			return errors.Errorf("conv2d: groups and out_channels must be positive")
		}
	case ElementBinaryAttrs:
		if !inputs[0].Logical().Equal(inputs[1].Logical()) {
			return errors.Errorf("%s: operand shapes must match, got %s and %s", k, inputs[0], inputs[1])
		}
	case ConcatAttrs:
		if len(inputs) < 1 {
			return errors.Errorf("concat: needs at least one input")
		}
		rank := inputs[0].Rank()
		if a.Axis < 0 || a.Axis >= rank {
			return errors.Errorf("concat: axis %d out of range for rank %d", a.Axis, rank)
		}
		for i, in := range inputs {
			if in.Rank() != rank {
				return errors.Errorf("concat: input %d has rank %d, wanted %d", i, in.Rank(), rank)
			}
			if in.Dims[a.Axis].Degree != 1 {
				return errors.Errorf("concat: axis %d must not be partitioned on input %d", a.Axis, i)
			}
		}
	case Pool2DAttrs:
		if inputs[0].Rank() != 4 {
			return errors.Errorf("pool2d: input must be rank 4, got %d", inputs[0].Rank())
		}
	case FlatAttrs:
		if a.StartAxis < 0 || a.StartAxis > inputs[0].Rank() {
			return errors.Errorf("flat: start_axis %d out of range for rank %d", a.StartAxis, inputs[0].Rank())
		}
		for axis := a.StartAxis; axis < inputs[0].Rank(); axis++ {
			if inputs[0].Dims[axis].Degree != 1 {
				return errors.Errorf("flat: axis %d must not be partitioned", axis)
			}
		}
	case GatherAttrs:
		if a.Axis < 0 || a.Axis >= inputs[0].Rank() {
			return errors.Errorf("gather: axis %d out of range", a.Axis)
		}
	case ReduceSumAttrs:
		for _, axis := range a.Axes {
			if axis < 0 || axis >= inputs[0].Rank() {
				return errors.Errorf("reduce-sum: axis %d out of range for rank %d", axis, inputs[0].Rank())
			}
			if inputs[0].Dims[axis].Degree != 1 {
				return errors.Errorf("reduce-sum: axis %d is partitioned, insert a Reduction operator first", axis)
			}
		}
	case ReshapeAttrs:
		if !allUnpartitioned(inputs[0]) {
			return errors.Errorf("reshape: input must be fully unpartitioned")
		}
		size := 1
		for _, d := range a.TargetShape {
			if d <= 0 {
				return errors.Errorf("reshape: target dimensions must be positive")
			}
			size *= d
		}
		if size != inputs[0].Logical().Size() {
			return errors.Errorf("reshape: target shape size %d does not match input size %d", size, inputs[0].Logical().Size())
		}
	case SoftmaxAttrs:
		if a.Axis < 0 || a.Axis >= inputs[0].Rank() {
			return errors.Errorf("softmax: axis %d out of range", a.Axis)
		}
		if inputs[0].Dims[a.Axis].Degree != 1 {
			return errors.Errorf("softmax: normalization axis %d must not be partitioned", a.Axis)
		}
	case RepartitionAttrs:
		if a.Axis < 0 || a.Axis >= inputs[0].Rank() {
			return errors.Errorf("repartition: axis %d out of range", a.Axis)
		}
		if a.Degree < 1 {
			return errors.Errorf("repartition: degree must be >= 1")
		}
		if inputs[0].Dims[a.Axis].Size%a.Degree != 0 {
			return errors.Errorf("repartition: size %d not divisible by degree %d", inputs[0].Dims[a.Axis].Size, a.Degree)
		}
	case ReductionAttrs:
		if a.Axis < 0 || a.Axis >= inputs[0].Rank() {
			return errors.Errorf("reduction: axis %d out of range", a.Axis)
		}
		if inputs[0].Dims[a.Axis].Degree <= 1 {
			return errors.Errorf("reduction: axis %d is not partitioned, nothing to reduce", a.Axis)
		}
	case CombineAttrs:
		if a.Axis < 0 || a.Axis >= inputs[0].Rank() {
			return errors.Errorf("combine: axis %d out of range", a.Axis)
		}
	case TransposeAttrs:
		if len(a.Permutation) != inputs[0].Rank() {
			return errors.Errorf("transpose: permutation length %d must equal rank %d", len(a.Permutation), inputs[0].Rank())
		}
		if !isPermutation(a.Permutation) {
			return errors.Errorf("transpose: %v is not a permutation", a.Permutation)
		}
	case BatchMatmulAttrs:
		if inputs[0].Rank() < 2 || inputs[1].Rank() < 2 {
			return errors.Errorf("batch-matmul: operands must have rank >= 2")
		}
	case SplitAttrs:
		if a.Axis < 0 || a.Axis >= inputs[0].Rank() {
			return errors.Errorf("split: axis %d out of range", a.Axis)
		}
		if inputs[0].Dims[a.Axis].Degree != 1 {
			return errors.Errorf("split: axis %d must not be partitioned", a.Axis)
		}
		sum := 0
		for _, s := range a.Sizes {
			if s <= 0 {
				return errors.Errorf("split: sizes must be positive")
			}
			sum += s
		}
		if sum != inputs[0].Dims[a.Axis].Size {
			return errors.Errorf("split: sizes sum to %d, axis has size %d", sum, inputs[0].Dims[a.Axis].Size)
		}
	case TopKAttrs:
		if a.Axis < 0 || a.Axis >= inputs[0].Rank() {
			return errors.Errorf("topk: axis %d out of range", a.Axis)
		}
		if a.K <= 0 || a.K > inputs[0].Dims[a.Axis].Size {
			return errors.Errorf("topk: k=%d out of range for axis size %d", a.K, inputs[0].Dims[a.Axis].Size)
		}
		if inputs[0].Dims[a.Axis].Degree != 1 {
			return errors.Errorf("topk: axis %d must not be partitioned", a.Axis)
		}
	case AggregateAttrs:
		if err := validateAggregateInputs(k, a.N, inputs); err != nil {
			return err
		}
	case AggregateSpecAttrs:
		if err := validateAggregateInputs(k, a.N, inputs); err != nil {
			return err
		}
	}
	return nil
}

func checkArity(k OpKind, n int) error {
	switch k {
	case Input, Noop, ElementUnaryExp, ElementUnarySin, ElementUnaryCos,
		ElementUnaryScalarAdd, ElementUnaryScalarSub, ElementUnaryScalarMul, ElementUnaryScalarDiv,
		ElementUnaryRelu, ElementUnarySigmoid, ElementUnaryTanh, ElementUnaryIdentity,
		ElementUnaryGelu, ElementUnaryElu, Linear, Conv2D, Pool2D, Cast, Dropout,
		Flat, LayerNorm, ReduceSum, Reshape, Softmax, Repartition, Replicate,
		Reduction, Combine, Transpose, Split, TopK, Embedding:
		if n != 1 && k != Input {
			return errors.Errorf("%s: expects exactly one input, got %d", k, n)
		}
		if k == Input && n != 0 {
			return errors.Errorf("input: expects no inputs, got %d", n)
		}
	case ElementBinaryAdd, ElementBinarySub, ElementBinaryMul, ElementBinaryDiv,
		ElementBinaryMax, ElementBinaryMin, Gather, BatchMatmul, GroupBy:
		if n != 2 {
			return errors.Errorf("%s: expects exactly two inputs, got %d", k, n)
		}
	case MultiHeadAttention:
		if n != 3 {
			return errors.Errorf("multi-head-attention: expects query, key, value inputs, got %d", n)
		}
	case Concat:
		if n < 1 {
			return errors.Errorf("concat: expects at least one input, got %d", n)
		}
	case Aggregate, AggregateSpec:
		if n < 4 {
			return errors.Errorf("%s: expects at least 4 inputs (gate_preds, gate_assign, true_gate_assign, full_gate, experts...), got %d", k, n)
		}
	}
	return nil
}

func validateAggregateInputs(k OpKind, n int, inputs []shapes.ParallelShape) error {
	if len(inputs) != 4+n {
		return errors.Errorf("%s: n=%d requires %d inputs (4 + n experts), got %d", k, n, 4+n, len(inputs))
	}
	gatePreds := inputs[0]
	for i := 0; i < 3; i++ {
		if inputs[i].Rank() != 3 {
			return errors.Errorf("%s: gate input %d must be rank 3, got %d", k, i, inputs[i].Rank())
		}
	}
	batch := gatePreds.Dims[1].Size
	for i := 4; i < len(inputs); i++ {
		expert := inputs[i]
		if expert.Rank() != 3 {
			return errors.Errorf("%s: expert %d must be rank 3, got %d", k, i-4, expert.Rank())
		}
		if expert.Dims[1].Size != batch {
			return errors.Errorf("%s: expert %d batch dim %d does not match gate batch dim %d", k, i-4, expert.Dims[1].Size, batch)
		}
	}
	return nil
}

func allUnpartitioned(p shapes.ParallelShape) bool {
	for _, d := range p.Dims {
		if d.Degree != 1 {
			return false
		}
	}
	return true
}

func isPermutation(perm []int) bool {
	seen := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}
