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

// Package compile is spec.md §6's user-facing compile API: it drives
// the lifter (C3), the MCMC search driver (C7, backed by a cost
// simulator C6), the fusion pass (C9), the region mapper (C8), and the
// graph serializer (C10) in the order spec.md §2 lays out, then
// returns a CompiledModel exposing the iteration-time stubs spec.md
// §6 names. The core never runs a kernel; those operations only
// record that they were called, for the external task runtime to
// drive (spec.md §5 "the core neither owns the kernels nor the
// scheduler").
package compile

import (
	"math/rand"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/assign"
	"github.com/flexflow/flexflow/pcg/config"
	"github.com/flexflow/flexflow/pcg/fusion"
	"github.com/flexflow/flexflow/pcg/lift"
	"github.com/flexflow/flexflow/pcg/region"
	"github.com/flexflow/flexflow/pcg/search"
	"github.com/flexflow/flexflow/pcg/serialize"
	"github.com/flexflow/flexflow/pcg/simulate"
)

// Mode mirrors spec.md §6's compile mode ∈ {training, inference}.
type Mode int

const (
	Training Mode = iota
	Inference
)

func (m Mode) simulateMode() simulate.Mode {
	if m == Training {
		return simulate.Training
	}
	return simulate.Inference
}

// Optimizer is spec.md §6's abstract optimizer boundary: the core
// only needs to know an optimizer exists to call at update() time, not
// how it updates weights (that is the external runtime's concern).
type Optimizer interface {
	Step(weights []pcg.TensorID) error
}

// TaskRuntime is spec.md §6's abstract boundary with the external
// task scheduler: the core hands it a serialized graph and per-point
// region requirements; it never implements scheduling itself.
type TaskRuntime interface {
	Launch(serialized []byte) error
}

// Metrics is the result of get_metrics(); its fields are left to the
// caller's loss/metric choice (spec.md §6 names metrics[] abstractly).
type Metrics map[string]float64

// CompiledModel is spec.md §6's "ready-to-execute model": the fused,
// region-mapped PCG plus the assignment the search settled on, and the
// iteration-time operations the external runtime drives.
type CompiledModel struct {
	PCG        *pcg.PCG
	Assignment assign.Assignment
	Mode       Mode
	BestCost   float64
	Serialized []byte

	optimizer Optimizer
	runtime   TaskRuntime
	metrics   Metrics
}

// Compile implements spec.md §6's `compile(optimizer, loss_type,
// metrics, mode)`: lift → search → fusion → region mapping →
// serialize. Every structural panic raised deep in shape inference or
// region construction (exceptions.Panicf) is recovered here and
// turned into a returned error, per SPEC_FULL.md §1.2 — Compile never
// panics out to its caller.
func Compile(g *lift.LayerGraph, m *pcg.Model, opts lift.Options, cfg config.Config, sim simulate.Simulator, optimizer Optimizer, runtime TaskRuntime, mode Mode) (*CompiledModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "compile: invalid config")
	}

	var result *CompiledModel
	var compileErr error
	panicked := exceptions.Try(func() {
		result, compileErr = compile(g, m, opts, cfg, sim, optimizer, runtime, mode)
	})
	if panicked != nil {
		klog.Errorf("compile: recovered panic: %v", panicked)
		if err, ok := panicked.(error); ok {
			return nil, errors.Wrap(err, "compile: internal invariant violation")
		}
		return nil, errors.Errorf("compile: internal invariant violation: %v", panicked)
	}
	return result, compileErr
}

func compile(g *lift.LayerGraph, m *pcg.Model, opts lift.Options, cfg config.Config, sim simulate.Simulator, optimizer Optimizer, runtime TaskRuntime, mode Mode) (*CompiledModel, error) {
	if _, err := lift.Lift(g, m, opts); err != nil {
		return nil, errors.Wrap(err, "compile: lift")
	}
	if err := m.PCG.Validate(); err != nil {
		return nil, errors.Wrap(err, "compile: lifted graph failed validation")
	}

	initial := assign.DataParallelInitial(m.PCG)
	best := initial
	bestCost := sim.SimulateRuntime(m.PCG, initial, mode.simulateMode())

	if cfg.SearchBudget > 0 {
		driver := &search.Driver{
			Sim:                       sim,
			Mode:                      mode.simulateMode(),
			Rng:                       rand.New(rand.NewSource(1)),
			NumDevices:                m.NumDevices,
			PropagateChance:           search.DefaultPropagateChance,
			ContinuePropagationChance: search.DefaultContinuePropagationChance,
			SizeWeight:                search.DefaultSizeWeight,
		}
		result := driver.Run(m.PCG, initial, cfg.SearchBudget, cfg.SearchAlpha)
		best, bestCost = result.Best, result.BestCost
		klog.V(1).Infof("compile: search ran %d iterations, best_cost=%f", result.Iterations, bestCost)
	}

	for id, pconfig := range best {
		op, ok := m.PCG.Operator(id)
		if !ok {
			exceptions.Panicf("compile: search result references unknown operator %d", id)
		}
		op.ParallelConfig = pconfig
	}

	if cfg.EnableInplaceOptimizations {
		fusion.MarkInPlace(m.PCG)
	}
	if cfg.PerformFusion {
		if _, err := fusion.Fuse(m.PCG); err != nil {
			return nil, errors.Wrap(err, "compile: fusion")
		}
	}

	for _, op := range m.PCG.Ops {
		for _, tid := range op.Outputs {
			t, ok := m.PCG.Tensor(tid)
			if !ok {
				exceptions.Panicf("compile: operator %d exposes unregistered output %d", op.ID, tid)
			}
			if err := region.Map(t, len(op.MachineView.AxisExtents)); err != nil {
				return nil, errors.Wrapf(err, "compile: region mapping tensor %d", tid)
			}
			if t.CreateGradient && mode == Training {
				if err := region.MapGradient(t, len(op.MachineView.AxisExtents)); err != nil {
					return nil, errors.Wrapf(err, "compile: gradient region mapping tensor %d", tid)
				}
			}
		}
		if len(op.Weights) > 0 {
			if err := region.MapOperatorWeights(m.PCG, op, len(op.MachineView.AxisExtents)); err != nil {
				return nil, errors.Wrapf(err, "compile: weight region mapping operator %d", op.ID)
			}
		}
	}

	data, err := serialize.Encode(m.PCG)
	if err != nil {
		return nil, errors.Wrap(err, "compile: serialize")
	}

	return &CompiledModel{
		PCG:        m.PCG,
		Assignment: best,
		Mode:       mode,
		BestCost:   bestCost,
		Serialized: data,
		optimizer:  optimizer,
		runtime:    runtime,
		metrics:    Metrics{},
	}, nil
}

// Forward is spec.md §6's forward(seq_length): it hands the
// already-serialized graph to the task runtime. The core performs no
// computation itself.
func (c *CompiledModel) Forward(seqLength int) error {
	if c.runtime == nil {
		return errors.New("compile: forward called with no task runtime configured")
	}
	klog.V(2).Infof("compile: forward seq_length=%d", seqLength)
	return c.runtime.Launch(c.Serialized)
}

// Backward is spec.md §6's backward(seq_length): as with Forward, the
// core only launches the external runtime's task graph.
func (c *CompiledModel) Backward(seqLength int) error {
	if c.Mode != Training {
		return errors.New("compile: backward called on a model compiled for inference")
	}
	if c.runtime == nil {
		return errors.New("compile: backward called with no task runtime configured")
	}
	klog.V(2).Infof("compile: backward seq_length=%d", seqLength)
	return c.runtime.Launch(c.Serialized)
}

// Update is spec.md §6's update(): it delegates to the configured
// Optimizer over every weight tensor in the graph.
func (c *CompiledModel) Update() error {
	if c.optimizer == nil {
		return errors.New("compile: update called with no optimizer configured")
	}
	var weights []pcg.TensorID
	for _, op := range c.PCG.Ops {
		weights = append(weights, op.Weights...)
	}
	return c.optimizer.Step(weights)
}

// ZeroGradients is spec.md §6's zero_gradients(); the core has no
// gradient buffers of its own to clear, so this is a no-op recorded
// for symmetry with the external interface.
func (c *CompiledModel) ZeroGradients() {
	klog.V(2).Info("compile: zero_gradients")
}

// ResetMetrics is spec.md §6's reset_metrics().
func (c *CompiledModel) ResetMetrics() {
	c.metrics = Metrics{}
}

// GetMetrics is spec.md §6's get_metrics().
func (c *CompiledModel) GetMetrics() Metrics {
	return c.metrics
}
