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
	"math"
)

// RefPointParams are the unit-bearing parameters for reference-point
// placement.
type RefPointParams struct {
	Positions        []Point // optional explicit placement; bypasses filtering
	Spacing          int32   // pixels, lattice pitch
	RefBlockSize     int32   // pixels, side of the reference block
	BrightnessThresh float32 // [0,1], normalized as in global alignment
	StructureThresh  float32
	StructureScale   int32 // pixels, box-blur radius for the structure score
}

func (p *RefPointParams) String() string {
	return fmt.Sprintf("spacing %d refBlockSize %d brightnessThresh %.2f structureThresh %.2f structureScale %d",
		p.Spacing, p.RefBlockSize, p.BrightnessThresh, p.StructureThresh, p.StructureScale)
}

// RefPoint is a tracked texture location whose per-frame offset drives
// local warping during stacking.
type RefPoint struct {
	PositionPerFrame []FloatPoint
	ValidPerFrame    []bool
	AreaIdx          int
	ReferenceBlock   Block
	QualityThreshold float32

	finalPosition FloatPoint
	hasFinal      bool
}

// FinalPosition returns the point's mean-of-valid-frames position and
// whether it has one (false if every frame was invalid for this point).
func (p *RefPoint) FinalPosition() (FloatPoint, bool) { return p.finalPosition, p.hasFinal }

// PlaceRefPoints runs automatic lattice placement (or accepts explicit
// positions, bypassing brightness/structure filtering) over the quality
// estimator's intersection, using its completed best-fragment composite
// as the source image for brightness and structure scoring.
func PlaceRefPoints(qe *QualityEstimator, params RefPointParams) ([]RefPoint, error) {
	if !qe.Done() {
		return nil, newError(KindInvalidParameters, "quality estimation must complete before reference-point placement")
	}
	intersect := qe.Intersection()
	composite, err := qe.BestFragmentComposite()
	if err != nil {
		return nil, err
	}
	width, height := intersect.Width, intersect.Height

	lo, hi := float32(255), float32(0)
	for _, v := range composite {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo

	blurred := boxBlur(composite, width, height, params.StructureScale)

	var candidates []Point
	if len(params.Positions) > 0 {
		for _, p := range params.Positions {
			if !intersect.ContainsFloat(PointOf(p)) {
				return nil, newError(KindInvalidParameters, "explicit reference point outside intersection")
			}
			candidates = append(candidates, p)
		}
	} else {
		half := params.RefBlockSize / 2
		for y := half; y+half < height; y += params.Spacing {
			for x := half; x+half < width; x += params.Spacing {
				candidates = append(candidates, Point{x, y})
			}
		}
	}

	explicit := len(params.Positions) > 0
	var points []RefPoint
	for _, local := range candidates {
		if !explicit {
			mean, _ := planeMeanStd(composite, width, height, local, params.RefBlockSize)
			normalized := float32(0)
			if span > 0 {
				normalized = (mean - lo) / span
			}
			if normalized < params.BrightnessThresh {
				continue
			}
			structure := structureScore(composite, blurred, width, height, local, params.RefBlockSize, mean)
			if structure < params.StructureThresh {
				continue
			}
		}

		absolute := Point{intersect.X + local.X, intersect.Y + local.Y}
		areaIdx, ok := qe.AreaIndexAt(PointOf(absolute))
		if !ok {
			continue
		}
		frameCursor := qe.BestFrameForArea(areaIdx)
		indices := qe.Aligner().FrameIndices()
		offsets := qe.Aligner().Offsets()
		frame, err := qe.Aligner().Source().ByIndex(indices[frameCursor])
		if err != nil {
			return nil, err
		}
		srcPos := absolute.Add(offsets[frameCursor])
		block, err := ExtractBlock(frame.Gray(), frame.Width, frame.Height, srcPos, params.RefBlockSize)
		if err != nil {
			continue
		}
		points = append(points, RefPoint{
			AreaIdx:        areaIdx,
			ReferenceBlock: block,
		})
	}
	return points, nil
}

func planeMeanStd(plane []float32, width, height int32, center Point, size int32) (mean, std float32) {
	half := size / 2
	x0, y0 := center.X-half, center.Y-half
	x1, y1 := x0+size, y0+size
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	var sum, sumSq float64
	n := 0
	for y := y0; y < y1; y++ {
		row := y * width
		for x := x0; x < x1; x++ {
			v := float64(plane[row+x])
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	m := sum / float64(n)
	variance := sumSq/float64(n) - m*m
	if variance < 0 {
		variance = 0
	}
	return float32(m), float32(math.Sqrt(variance))
}

// structureScore is the ratio of box-blurred local contrast at
// structure_scale to the area's mean brightness (§4.4).
func structureScore(raw, blurred []float32, width, height int32, center Point, size int32, mean float32) float32 {
	half := size / 2
	x0, y0 := center.X-half, center.Y-half
	x1, y1 := x0+size, y0+size
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	var sum float32
	n := 0
	for y := y0; y < y1; y++ {
		row := y * width
		for x := x0; x < x1; x++ {
			d := raw[row+x] - blurred[row+x]
			if d < 0 {
				d = -d
			}
			sum += d
			n++
		}
	}
	if n == 0 || mean == 0 {
		return 0
	}
	return (sum / float32(n)) / mean
}
