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

package search

import (
	"math"
	"math/rand"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/flexflow/flexflow/pcg"
	"github.com/flexflow/flexflow/pcg/assign"
	"github.com/flexflow/flexflow/pcg/simulate"
)

// PropagateChance, ContinuePropagationChance and SizeWeight are left
// unfixed by the mutation rules themselves; these defaults (each in
// [0, 1]) give every tunable an explicit, documented value rather
// than a magic literal buried in a call site.
const (
	DefaultPropagateChance         = 0.3
	DefaultContinuePropagationChance = 0.6
	DefaultSizeWeight               = 0.5
)

// Result is the outcome of a completed search: the best assignment
// found and the cost the simulator assigned it.
type Result struct {
	Best     assign.Assignment
	BestCost float64
	Iterations int
}

// Driver runs spec.md §4.5's simulated-annealing loop. It carries a
// cooperative stop flag (SPEC_FULL.md §4 item 4; spec.md §5
// "Cancellation/timeout": "an implementation should support an
// external cooperative stop flag checked between iterations") since
// the core never does wall-clock cancellation on its own.
type Driver struct {
	Sim   simulate.Simulator
	Mode  simulate.Mode
	Rng   *rand.Rand
	NumDevices int

	PropagateChance                  float64
	ContinuePropagationChance        float64
	SizeWeight                       float64

	stop atomic.Bool
}

// Stop requests the search halt before its next iteration. Safe to
// call from another goroutine; the driver itself is still
// single-threaded per spec.md §5's "the search driver is
// intentionally serial."
func (d *Driver) Stop() { d.stop.Store(true) }

// Run executes spec.md §4.5's pseudocode verbatim: budget B,
// temperature α, reset span R = clamp(B/100, 1, 1000).
//
// Guarantees preserved: (a) best_cost is monotone non-increasing; (b)
// periodic restart from best prevents drift; (c) rewrite primitives
// never hand back an assignment that fails ValidateClosure, so no
// iteration here needs to re-check validity.
func (d *Driver) Run(g *pcg.PCG, initial assign.Assignment, budget int, alpha float64) Result {
	reset := clamp(budget/100, 1, 1000)

	best := initial
	bestCost := d.Sim.SimulateRuntime(g, best, d.Mode)
	current := best
	currentCost := bestCost
	lastReset := 0

	iter := 0
	for ; iter < budget; iter++ {
		if d.stop.Load() {
			klog.V(1).Infof("search: stop requested at iteration %d", iter)
			break
		}
		if iter-lastReset >= reset {
			current, currentCost = best, bestCost
			lastReset = iter
		}

		next := d.rewrite(g, current)
		nextCost := d.Sim.SimulateRuntime(g, next, d.Mode)

		if nextCost < bestCost {
			best, bestCost = next, nextCost
		}
		if nextCost < currentCost {
			current, currentCost = next, nextCost
		} else if d.Rng.Float64() < math.Exp(-alpha*(nextCost-currentCost)) {
			current, currentCost = next, nextCost
		}
		klog.V(1).Infof("search: iter=%d current_cost=%f best_cost=%f", iter, currentCost, bestCost)
	}

	return Result{Best: best, BestCost: bestCost, Iterations: iter}
}

func (d *Driver) rewrite(g *pcg.PCG, current assign.Assignment) assign.Assignment {
	if d.Rng.Float64() < d.PropagateChance {
		return assign.PropagationRewrite(g, current, d.Rng, d.SizeWeight, d.ContinuePropagationChance)
	}
	return assign.RandomRewrite(g, current, d.Rng, d.NumDevices)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
