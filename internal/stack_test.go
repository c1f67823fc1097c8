// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package internal

import "testing"

// buildSingleFrameStack runs the whole pipeline on one textured frame
// and returns the stacker, optionally with a uniform flat field.
func buildSingleFrameStack(t *testing.T, flat []float32) *Stacker {
	t.Helper()
	frames := []*Frame{texturedFrame(0, 48, 48)}
	source := NewSliceSource(frames)
	ga, err := NewGlobalAligner(source, AlignParams{
		AnchorPositions: []Point{{24, 24}}, BlockRadius: 4, SearchRadius: 2,
	})
	if err != nil {
		t.Fatalf("NewGlobalAligner: %v", err)
	}
	runToCompletion(ga.Step)

	qe, err := NewQualityEstimator(ga, QualityParams{AreaSize: 12, DetailScale: 2})
	if err != nil {
		t.Fatalf("NewQualityEstimator: %v", err)
	}
	if err := runToCompletion(qe.Step); !IsLastStep(err) {
		t.Fatalf("expected LastStep, got %v", err)
	}

	points, err := PlaceRefPoints(qe, RefPointParams{
		Positions:    []Point{{8, 8}, {40, 8}, {8, 40}, {40, 40}, {24, 24}},
		RefBlockSize: 5,
	})
	if err != nil {
		t.Fatalf("PlaceRefPoints: %v", err)
	}
	ra, err := NewRefAligner(qe, points, RefAlignParams{Criterion: NumberBest, Threshold: 1, SearchRadius: 2})
	if err != nil {
		t.Fatalf("NewRefAligner: %v", err)
	}
	runToCompletion(ra.Step)

	st, err := NewStacker(ra, StackParams{FlatField: flat})
	if err != nil {
		t.Fatalf("NewStacker: %v", err)
	}
	if err := runToCompletion(st.Step); !IsLastStep(err) {
		t.Fatalf("expected LastStep, got %v", err)
	}
	return st
}

// Scenario 6: a uniform flat field cancels out exactly (dividing by
// F/mean(F) == 1 for any uniform F), leaving output identical to the
// non-flat-fielded stack.
func TestStackerUniformFlatFieldCancels(t *testing.T) {
	plain := buildSingleFrameStack(t, nil)
	flat := make([]float32, 48*48)
	for i := range flat {
		flat[i] = 500 // arbitrary uniform value, not 1
	}
	flatFielded := buildSingleFrameStack(t, flat)

	plainAcc := plain.Result().Acc
	flatAcc := flatFielded.Result().Acc
	if len(plainAcc) != len(flatAcc) {
		t.Fatalf("accumulator length mismatch: %d vs %d", len(plainAcc), len(flatAcc))
	}
	for i := range plainAcc {
		if plainAcc[i] != flatAcc[i] {
			t.Fatalf("pixel %d: plain %v != flat-fielded %v, flat field should cancel exactly", i, plainAcc[i], flatAcc[i])
		}
	}
}

// Stacking normalization invariant: output pixel equals acc/weight
// where weight > 0, else 0.
func TestStackResultFinalNormalization(t *testing.T) {
	r := &StackResult{
		Width: 2, Height: 1, Format: Gray8,
		Acc:    []float32{10, 0},
		Weight: []float32{4, 0},
	}
	final := r.Final()
	if final[0] != 2.5 {
		t.Fatalf("expected 10/4=2.5, got %v", final[0])
	}
	if final[1] != 0 {
		t.Fatalf("expected 0 for zero weight, got %v", final[1])
	}
}

// LastTriangles reports the triangles the most recent Step actually
// warped, and must stay within the triangulation's own index range.
func TestStackerLastTrianglesAfterStep(t *testing.T) {
	st := buildSingleFrameStack(t, nil)
	last := st.LastTriangles()
	if len(last) == 0 {
		t.Fatal("expected at least one active triangle for a fully valid single-frame stack")
	}
	for _, ti := range last {
		if ti < 0 || ti >= len(st.Triangulation().Triangles) {
			t.Fatalf("triangle index %d out of range [0,%d)", ti, len(st.Triangulation().Triangles))
		}
	}
}

func TestBarycentricPartitionsSharedEdgeWithoutOverlap(t *testing.T) {
	// Two triangles sharing edge (0,0)-(10,0): a point exactly on that
	// edge must be claimed by exactly one of them.
	a, b, c := FloatPoint{0, 0}, FloatPoint{10, 0}, FloatPoint{5, 10}
	f := FloatPoint{5, -10}

	tri := &Triangulation{
		Vertices: []FloatPoint{a, b, c, f},
		Triangles: []Triangle{
			{0, 1, 2}, // upper triangle, index 0
			{0, 1, 3}, // lower triangle, index 1
		},
	}

	mid := FloatPoint{5, 0} // on the shared edge
	upperClaims := pointInTriangle(mid, a, b, c, 0, tri, -1)
	lowerClaims := pointInTriangle(mid, a, b, f, 1, tri, -1)
	if upperClaims == lowerClaims {
		t.Fatalf("shared-edge point must be claimed by exactly one triangle, upper=%v lower=%v", upperClaims, lowerClaims)
	}
}
