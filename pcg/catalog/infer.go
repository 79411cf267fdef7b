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

// Infer is the output-shape function of spec.md §4.1 point 3: given
// an attribute record and input parallel shapes, deterministically
// produce the operator's output shape(s). It must agree with what the
// (opaque, externally supplied) kernel actually computes.
//
// Infer re-derives the structural checks IsValid performs — callers
// that already ran IsValid pay a small amount of redundant work in
// exchange for Infer never silently computing a bogus shape from
// inputs it didn't validate.
func Infer(attrs Attrs, inputs []shapes.ParallelShape) ([]shapes.ParallelShape, error) {
	if err := IsValid(attrs, inputs); err != nil {
		return nil, err
	}
	switch a := attrs.(type) {
	case InputAttrs:
		out := shapes.MakeParallel(a.DType, a.Shape...)
		return []shapes.ParallelShape{out}, nil

	case LinearAttrs:
		x := inputs[0]
		out := x.Clone()
		out.Dims[out.Rank()-1] = shapes.Unpartitioned(a.OutChannels)
		return []shapes.ParallelShape{out}, nil

	case Conv2DAttrs:
		x := inputs[0]
		h := convOutSize(x.Dims[2].Size, a.KernelH, a.StrideH, a.PaddingH)
		w := convOutSize(x.Dims[3].Size, a.KernelW, a.StrideW, a.PaddingW)
		out := shapes.ParallelShape{DType: x.DType, Dims: []shapes.ParallelDim{
			x.Dims[0],
			shapes.Unpartitioned(a.OutChannels),
			shapes.Unpartitioned(h),
			shapes.Unpartitioned(w),
		}}
		return []shapes.ParallelShape{out}, nil

	case ElementBinaryAttrs:
		return []shapes.ParallelShape{inputs[0].Clone()}, nil

	case ElementUnaryAttrs:
		return []shapes.ParallelShape{inputs[0].Clone()}, nil

	case ElementScalarUnaryAttrs:
		return []shapes.ParallelShape{inputs[0].Clone()}, nil

	case ConcatAttrs:
		out := inputs[0].Clone()
		total := 0
		for _, in := range inputs {
			total += in.Dims[a.Axis].Size
		}
		out.Dims[a.Axis] = shapes.Unpartitioned(total)
		return []shapes.ParallelShape{out}, nil

	case Pool2DAttrs:
		x := inputs[0]
		h := convOutSize(x.Dims[2].Size, a.KernelH, a.StrideH, a.PaddingH)
		w := convOutSize(x.Dims[3].Size, a.KernelW, a.StrideW, a.PaddingW)
		out := x.Clone()
		out.Dims[2] = shapes.ParallelDim{Size: h, Degree: 1, ParallelIdx: -1}
		out.Dims[3] = shapes.ParallelDim{Size: w, Degree: 1, ParallelIdx: -1}
		return []shapes.ParallelShape{out}, nil

	case CastAttrs:
		out := inputs[0].Clone()
		out.DType = a.Target
		return []shapes.ParallelShape{out}, nil

	case DropoutAttrs:
		return []shapes.ParallelShape{inputs[0].Clone()}, nil

	case EmbeddingAttrs:
		ids := inputs[0]
		out := ids.Clone()
		out.Dims = append(out.Dims, shapes.Unpartitioned(a.OutDim))
		return []shapes.ParallelShape{out}, nil

	case FlatAttrs:
		x := inputs[0]
		flatSize := 1
		for axis := a.StartAxis; axis < x.Rank(); axis++ {
			flatSize *= x.Dims[axis].Size
		}
		out := shapes.ParallelShape{DType: x.DType, Dims: append(append([]shapes.ParallelDim{}, x.Dims[:a.StartAxis]...), shapes.Unpartitioned(flatSize))}
		return []shapes.ParallelShape{out}, nil

	case GatherAttrs:
		data, idx := inputs[0], inputs[1]
		dims := make([]shapes.ParallelDim, 0, data.Rank()-1+idx.Rank())
		dims = append(dims, data.Dims[:a.Axis]...)
		dims = append(dims, idx.Dims...)
		dims = append(dims, data.Dims[a.Axis+1:]...)
		return []shapes.ParallelShape{{DType: data.DType, Dims: dims}}, nil

	case MultiHeadAttentionAttrs:
		return []shapes.ParallelShape{inputs[0].Clone()}, nil

	case LayerNormAttrs:
		return []shapes.ParallelShape{inputs[0].Clone()}, nil

	case ReduceSumAttrs:
		x := inputs[0]
		drop := make(map[int]bool, len(a.Axes))
		for _, axis := range a.Axes {
			drop[axis] = true
		}
		var dims []shapes.ParallelDim
		for axis, d := range x.Dims {
			if drop[axis] {
				if a.KeepDims {
					dims = append(dims, shapes.Unpartitioned(1))
				}
				continue
			}
			dims = append(dims, d)
		}
		return []shapes.ParallelShape{{DType: x.DType, Dims: dims}}, nil

	case ReshapeAttrs:
		out := shapes.MakeParallel(inputs[0].DType, a.TargetShape...)
		return []shapes.ParallelShape{out}, nil

	case SoftmaxAttrs:
		return []shapes.ParallelShape{inputs[0].Clone()}, nil

	case RepartitionAttrs:
		out := inputs[0].WithDegree(a.Axis, a.Degree, a.MachineAxis)
		return []shapes.ParallelShape{out}, nil

	case ReplicateAttrs:
		out := inputs[0].Clone()
		out.Dims = append(out.Dims, shapes.ParallelDim{Size: 1, Degree: a.Degree, ParallelIdx: a.MachineAxis, IsReplica: true})
		return []shapes.ParallelShape{out}, nil

	case ReductionAttrs:
		x := inputs[0]
		dims := make([]shapes.ParallelDim, 0, x.Rank()-1)
		dims = append(dims, x.Dims[:a.Axis]...)
		dims = append(dims, x.Dims[a.Axis+1:]...)
		return []shapes.ParallelShape{{DType: x.DType, Dims: dims}}, nil

	case CombineAttrs:
		out := inputs[0].Clone()
		out.Dims[a.Axis] = shapes.Unpartitioned(out.Dims[a.Axis].Size)
		return []shapes.ParallelShape{out}, nil

	case FusedParallelAttrs:
		cur := inputs[0].Clone()
		for _, step := range a.Steps {
			next, err := applyParallelStep(cur, step)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return []shapes.ParallelShape{cur}, nil

	case TransposeAttrs:
		x := inputs[0]
		dims := make([]shapes.ParallelDim, len(a.Permutation))
		for newAxis, oldAxis := range a.Permutation {
			d := x.Dims[oldAxis]
			if d.ParallelIdx >= 0 {
				d.ParallelIdx = newAxis
			}
			dims[newAxis] = d
		}
		return []shapes.ParallelShape{{DType: x.DType, Dims: dims}}, nil

	case BatchMatmulAttrs:
		lhs, rhs := inputs[0], inputs[1]
		lhsRows, lhsCols := lhs.Dims[lhs.Rank()-2], lhs.Dims[lhs.Rank()-1]
		rhsRows, rhsCols := rhs.Dims[rhs.Rank()-2], rhs.Dims[rhs.Rank()-1]
		m, n := lhsRows, rhsCols
		if a.TransposeA {
			m = lhsCols
		}
		if a.TransposeB {
			n = rhsRows
		}
		dims := append([]shapes.ParallelDim{}, lhs.Dims[:lhs.Rank()-2]...)
		dims = append(dims, shapes.Unpartitioned(m.Size), shapes.Unpartitioned(n.Size))
		return []shapes.ParallelShape{{DType: lhs.DType, Dims: dims}}, nil

	case SplitAttrs:
		x := inputs[0]
		outs := make([]shapes.ParallelShape, len(a.Sizes))
		for i, size := range a.Sizes {
			out := x.Clone()
			out.Dims[a.Axis] = shapes.Unpartitioned(size)
			outs[i] = out
		}
		return outs, nil

	case TopKAttrs:
		x := inputs[0]
		values := x.Clone()
		values.Dims[a.Axis] = shapes.Unpartitioned(a.K)
		indices := values.Clone()
		return []shapes.ParallelShape{values, indices}, nil

	case GroupByAttrs:
		data := inputs[0]
		dims := append([]shapes.ParallelDim{shapes.Unpartitioned(a.NumGroups)}, data.Dims[1:]...)
		return []shapes.ParallelShape{{DType: data.DType, Dims: dims}}, nil

	case AggregateAttrs:
		return inferAggregate(inputs), nil

	case AggregateSpecAttrs:
		return inferAggregate(inputs), nil

	case NoopAttrs:
		return []shapes.ParallelShape{inputs[0].Clone()}, nil

	case FusedAttrs:
		return nil, errors.Errorf("fused: shape is fixed at fusion time, not re-inferred")

	default:
		return nil, errors.Errorf("catalog.Infer: unhandled kind %s", attrs.Kind())
	}
}

// inferAggregate implements spec.md §8 scenario S2: output is
// [out_channels, batch, r] where out_channels comes from the experts
// and batch/r come from the gate predictions.
func inferAggregate(inputs []shapes.ParallelShape) []shapes.ParallelShape {
	gatePreds := inputs[0]
	expert0 := inputs[4]
	out := shapes.ParallelShape{
		DType: expert0.DType,
		Dims: []shapes.ParallelDim{
			shapes.Unpartitioned(expert0.Dims[0].Size),
			shapes.Unpartitioned(gatePreds.Dims[1].Size),
			shapes.Unpartitioned(gatePreds.Dims[2].Size),
		},
	}
	return []shapes.ParallelShape{out}
}

func convOutSize(size, kernel, stride, padding int) int {
	return (size+2*padding-kernel)/stride + 1
}

func applyParallelStep(shape shapes.ParallelShape, step ParallelStep) (shapes.ParallelShape, error) {
	switch step.Kind {
	case Repartition:
		return shape.WithDegree(step.Axis, shape.Dims[step.Axis].Degree, shape.Dims[step.Axis].ParallelIdx), nil
	case Combine:
		out := shape.Clone()
		out.Dims[step.Axis] = shapes.Unpartitioned(out.Dims[step.Axis].Size)
		return out, nil
	case Reduction:
		dims := make([]shapes.ParallelDim, 0, shape.Rank()-1)
		dims = append(dims, shape.Dims[:step.Axis]...)
		dims = append(dims, shape.Dims[step.Axis+1:]...)
		return shapes.ParallelShape{DType: shape.DType, Dims: dims}, nil
	case Replicate:
		out := shape.Clone()
		out.Dims = append(out.Dims, shapes.ParallelDim{Size: 1, Degree: shape.Dims[step.Axis].Degree, ParallelIdx: step.Axis, IsReplica: true})
		return out, nil
	default:
		return shapes.ParallelShape{}, errors.Errorf("fused-parallel: unsupported step kind %s", step.Kind)
	}
}
