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

import (
	"fmt"
	"sort"
)

// QualityCriterion selects which frames qualify to contribute to a
// reference point's per-frame alignment, evaluated per quality area.
type QualityCriterion int

const (
	PercentageBest QualityCriterion = iota
	MinRelQuality
	NumberBest
)

// RefAlignParams are the unit-bearing parameters for reference-point
// alignment.
type RefAlignParams struct {
	Criterion    QualityCriterion
	Threshold    float32 // meaning depends on Criterion: percent, percent-of-range, or count
	SearchRadius int32   // pixels
	RejectionPct float32 // normalized SAD above which a match is rejected; 0 uses the same default as global alignment
}

func (p *RefAlignParams) String() string {
	return fmt.Sprintf("criterion %d threshold %.2f searchRadius %d", p.Criterion, p.Threshold, p.SearchRadius)
}

// RefAligner is the step-driven reference-point alignment stage (§4.6).
// It borrows the quality estimator (and transitively the global
// aligner) read-only.
type RefAligner struct {
	qe     *QualityEstimator
	params RefAlignParams
	points []RefPoint

	qualifies [][]bool // qualifies[areaIdx][frameCursor]

	frameCursor int
	done        bool
	err         error
}

// NewRefAligner precomputes, per quality area, the set of frames
// qualifying under the configured criterion, then positions every
// reference point at its quality area's center in the first frame.
func NewRefAligner(qe *QualityEstimator, points []RefPoint, params RefAlignParams) (*RefAligner, error) {
	if !qe.Done() {
		return nil, newError(KindInvalidParameters, "quality estimation must complete before reference-point alignment")
	}
	numFrames := len(qe.Aligner().Offsets())
	areas := qe.Areas()

	qualifies := make([][]bool, len(areas))
	for ai, a := range areas {
		qualifies[ai] = qualifyingFrames(a.Quality, params)
	}

	ra := &RefAligner{qe: qe, params: params, points: points, qualifies: qualifies}
	LogPrintf("reference alignment: %d points, %d frames\n", len(points), numFrames)

	intersect := qe.Intersection()
	for i := range ra.points {
		p := &ra.points[i]
		p.PositionPerFrame = make([]FloatPoint, numFrames)
		p.ValidPerFrame = make([]bool, numFrames)
		start := refPointStartPosition(intersect, p, areas)
		local := Rect{0, 0, intersect.Width, intersect.Height}
		p.PositionPerFrame[0] = start
		p.ValidPerFrame[0] = ra.qualifies[p.AreaIdx][0] && local.ContainsFloat(start)
	}

	if numFrames == 1 {
		// A single-frame sequence has no further steps to take; finalize
		// immediately from frame 0's own validity, mirroring the global
		// aligner's and quality estimator's single-frame completion.
		ra.finalize()
		ra.done = true
	}

	return ra, nil
}

// refPointStartPosition reconstructs a reference point's frame-0
// intersection-local position from its area's center, since placement
// does not retain the original lattice point once the reference block
// has been extracted.
func refPointStartPosition(intersect Rect, p *RefPoint, areas []QualityArea) FloatPoint {
	c := areas[p.AreaIdx].Center
	return FloatPoint{c.X - float32(intersect.X), c.Y - float32(intersect.Y)}
}

// qualifyingFrames evaluates quality_criterion over one area's quality
// vector, returning which frame positions qualify.
func qualifyingFrames(quality []float32, params RefAlignParams) []bool {
	n := len(quality)
	out := make([]bool, n)
	switch params.Criterion {
	case PercentageBest:
		order := sortedIndicesDesc(quality)
		keep := int(float32(n) * params.Threshold / 100)
		if keep < 1 {
			keep = 1
		}
		for i := 0; i < keep && i < n; i++ {
			out[order[i]] = true
		}
	case MinRelQuality:
		min, max := minMax(quality)
		cutoff := min + params.Threshold*(max-min)/100
		for i, q := range quality {
			if q > cutoff {
				out[i] = true
			}
		}
	case NumberBest:
		order := sortedIndicesDesc(quality)
		keep := int(params.Threshold)
		if keep > n {
			keep = n
		}
		for i := 0; i < keep; i++ {
			out[order[i]] = true
		}
	}
	return out
}

func sortedIndicesDesc(xs []float32) []int {
	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if xs[order[i]] != xs[order[j]] {
			return xs[order[i]] > xs[order[j]]
		}
		return order[i] < order[j]
	})
	return order
}

func minMax(xs []float32) (min, max float32) {
	if len(xs) == 0 {
		return 0, 0
	}
	min, max = xs[0], xs[0]
	for _, x := range xs {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max
}

// Step advances every reference point by one frame.
func (ra *RefAligner) Step() error {
	if ra.err != nil {
		return ra.err
	}
	if ra.done {
		return ErrNoMoreImages
	}

	next := ra.frameCursor + 1
	offsets := ra.qe.Aligner().Offsets()
	indices := ra.qe.Aligner().FrameIndices()
	if next >= len(offsets) {
		ra.done = true
		return ErrNoMoreImages
	}

	frame, err := ra.qe.Aligner().Source().ByIndex(indices[next])
	if err != nil {
		ra.err = err
		return err
	}
	gray := frame.Gray()
	off := offsets[next]
	intersect := ra.qe.Intersection()
	threshold := ra.params.RejectionPct
	if threshold <= 0 {
		threshold = 0.3
	}

	for i := range ra.points {
		p := &ra.points[i]
		prev := p.PositionPerFrame[ra.frameCursor]

		if !ra.qualifies[p.AreaIdx][next] {
			p.PositionPerFrame[next] = prev
			p.ValidPerFrame[next] = false
			continue
		}

		searchCenter := Point{
			X: int32(prev.X) + intersect.X + off.X,
			Y: int32(prev.Y) + intersect.Y + off.Y,
		}
		cand, score, found := FindBestOffset(p.ReferenceBlock, gray, frame.Width, frame.Height, searchCenter, ra.params.SearchRadius)
		normalized := float32(2) // worse than any real threshold if not found
		if found {
			normalized = float32(score) / float32(int64(p.ReferenceBlock.Size)*int64(p.ReferenceBlock.Size)*255)
		}
		newPos := FloatPoint{prev.X + float32(cand.X), prev.Y + float32(cand.Y)}

		if !found || normalized > threshold || !intersect.ContainsFloat(FloatPoint{newPos.X + float32(intersect.X), newPos.Y + float32(intersect.Y)}) {
			p.PositionPerFrame[next] = prev
			p.ValidPerFrame[next] = false
			continue
		}
		p.PositionPerFrame[next] = newPos
		p.ValidPerFrame[next] = true
	}

	ra.frameCursor = next
	if ra.frameCursor == len(offsets)-1 {
		ra.finalize()
		ra.done = true
		return ErrLastStep
	}
	return nil
}

// finalize computes each point's final position as the mean of its
// valid per-frame positions. Points with zero valid frames keep a zero
// position and no final position: FinalPositions omits them, and their
// RefPoint.FinalPosition reports false.
func (ra *RefAligner) finalize() {
	LogPrintf("reference alignment: done, %d points\n", len(ra.points))
	for i := range ra.points {
		p := &ra.points[i]
		var sum FloatPoint
		count := 0
		for fi, valid := range p.ValidPerFrame {
			count += Btoi(valid)
			if valid {
				sum = sum.Add(p.PositionPerFrame[fi])
			}
		}
		if count > 0 {
			p.finalPosition = FloatPoint{sum.X / float32(count), sum.Y / float32(count)}
			p.hasFinal = true
		}
	}
}

// Points returns the reference points with their completed per-frame
// tracks. Valid only after Step has returned ErrLastStep.
func (ra *RefAligner) Points() []RefPoint { return ra.points }

// FinalPositions returns the final (mean-of-valid-frames) position for
// every point that had at least one valid frame, alongside the index
// into Points() each entry corresponds to.
func (ra *RefAligner) FinalPositions() ([]FloatPoint, []int) {
	var positions []FloatPoint
	var idxs []int
	for i, p := range ra.points {
		if p.hasFinal {
			positions = append(positions, p.finalPosition)
			idxs = append(idxs, i)
		}
	}
	return positions, idxs
}

// Done reports whether every frame has been processed.
func (ra *RefAligner) Done() bool { return ra.done }

// QualityEstimator exposes the read-only borrowed upstream stage.
func (ra *RefAligner) QualityEstimator() *QualityEstimator { return ra.qe }
