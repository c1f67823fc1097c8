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

// With uniform quality, PercentageBest(100) and NumberBest(n) select
// every frame, while MinRelQuality selects none.
func TestQualifyingFramesUniformQuality(t *testing.T) {
	quality := []float32{100, 100, 100, 100, 100}

	pct := qualifyingFrames(quality, RefAlignParams{Criterion: PercentageBest, Threshold: 100})
	minRel := qualifyingFrames(quality, RefAlignParams{Criterion: MinRelQuality, Threshold: 0})
	number := qualifyingFrames(quality, RefAlignParams{Criterion: NumberBest, Threshold: float32(len(quality))})

	for i := range quality {
		if !pct[i] {
			t.Fatalf("PercentageBest: frame %d expected to qualify", i)
		}
		if !number[i] {
			t.Fatalf("NumberBest: frame %d expected to qualify", i)
		}
		// MIN_REL_QUALITY with all-equal quality has min==max, so the
		// cutoff equals the common value and, since only frames strictly
		// above the cutoff qualify, no frame is selected.
		if minRel[i] {
			t.Fatalf("MinRelQuality: frame %d expected not to qualify at uniform quality", i)
		}
	}
}

func TestQualifyingFramesNumberBest(t *testing.T) {
	quality := []float32{5, 1, 9, 3, 7}
	got := qualifyingFrames(quality, RefAlignParams{Criterion: NumberBest, Threshold: 2})
	want := map[int]bool{2: true, 4: true} // values 9 and 7
	for i := range quality {
		if got[i] != want[i] {
			t.Fatalf("frame %d: expected qualify=%v, got %v", i, want[i], got[i])
		}
	}
}

func TestQualifyingFramesMinRelQuality(t *testing.T) {
	quality := []float32{0, 25, 50, 75, 100}
	// cutoff = 0 + 50*(100-0)/100 = 50; strictly greater than 50 qualifies.
	got := qualifyingFrames(quality, RefAlignParams{Criterion: MinRelQuality, Threshold: 50})
	want := []bool{false, false, false, true, true}
	for i := range quality {
		if got[i] != want[i] {
			t.Fatalf("frame %d: expected qualify=%v, got %v", i, want[i], got[i])
		}
	}
}

// Scenario 4: triangles sharing an edge must not double-count any pixel;
// no pixel may have a weight above 1 after a single-frame stack.
func TestStackCoverageNoDoubleCounting(t *testing.T) {
	frames := []*Frame{texturedFrame(0, 48, 48)}
	source := NewSliceSource(frames)
	ga, err := NewGlobalAligner(source, AlignParams{
		AnchorPositions: []Point{{24, 24}}, BlockRadius: 4, SearchRadius: 2,
	})
	if err != nil {
		t.Fatalf("NewGlobalAligner: %v", err)
	}
	// A single-frame source completes global alignment inside the
	// constructor itself, so the first Step call already reports
	// NoMoreImages rather than LastStep.
	if err := runToCompletion(ga.Step); !IsLastStep(err) && !IsNoMoreImages(err) {
		t.Fatalf("expected LastStep or NoMoreImages, got %v", err)
	}
	qe, err := NewQualityEstimator(ga, QualityParams{AreaSize: 12, DetailScale: 2})
	if err != nil {
		t.Fatalf("NewQualityEstimator: %v", err)
	}
	if err := runToCompletion(qe.Step); !IsLastStep(err) {
		t.Fatalf("expected LastStep, got %v", err)
	}
	points, err := PlaceRefPoints(qe, RefPointParams{
		Positions:    []Point{{6, 6}, {40, 6}, {6, 40}, {40, 40}, {23, 23}},
		RefBlockSize: 5,
	})
	if err != nil {
		t.Fatalf("PlaceRefPoints: %v", err)
	}
	ra, err := NewRefAligner(qe, points, RefAlignParams{Criterion: NumberBest, Threshold: 1, SearchRadius: 2})
	if err != nil {
		t.Fatalf("NewRefAligner: %v", err)
	}
	if err := runToCompletion(ra.Step); err != nil && !IsNoMoreImages(err) {
		t.Fatalf("unexpected error: %v", err)
	}
	st, err := NewStacker(ra, StackParams{})
	if err != nil {
		t.Fatalf("NewStacker: %v", err)
	}
	if err := runToCompletion(st.Step); !IsLastStep(err) {
		t.Fatalf("expected LastStep, got %v", err)
	}
	result := st.Result()
	for i, w := range result.Weight {
		if w > 1 {
			t.Fatalf("pixel %d: weight %v exceeds 1 for a single-frame stack (double-counted)", i, w)
		}
	}
}
