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

import "fmt"

// QualityParams are the unit-bearing parameters for the quality estimator.
type QualityParams struct {
	AreaSize    int32 // pixels, side of each grid tile
	DetailScale int32 // pixels, box-blur radius used for the local-contrast measure
}

func (p *QualityParams) String() string {
	return fmt.Sprintf("areaSize %d detailScale %d", p.AreaSize, p.DetailScale)
}

// QualityArea is a grid tile over the intersection rectangle.
type QualityArea struct {
	Rect    Rect       // in frame-0 coordinates, like the intersection rectangle itself
	Center  FloatPoint // frame-0 coordinates
	Quality []float32  // per active-sequence frame position
}

// QualityEstimator is the step-driven quality estimation stage (§4.3). It
// borrows the completed GlobalAligner read-only.
type QualityEstimator struct {
	aligner *GlobalAligner
	params  QualityParams

	areas       []QualityArea
	cols, rows  int32
	intersect   Rect
	frameCursor int
	done        bool
	err         error

	// bestFragment[areaIdx] = frame position (into aligner.Offsets()) holding the max quality for that area.
	bestFragment []int
}

// NewQualityEstimator constructs the stage once global alignment is done.
func NewQualityEstimator(aligner *GlobalAligner, params QualityParams) (*QualityEstimator, error) {
	if !aligner.Done() {
		return nil, newError(KindInvalidParameters, "global alignment must complete before quality estimation")
	}
	if params.AreaSize <= 0 {
		return nil, newError(KindInvalidParameters, "areaSize must be positive")
	}
	intersect := aligner.Intersection()
	cols := (intersect.Width + params.AreaSize - 1) / params.AreaSize
	rows := (intersect.Height + params.AreaSize - 1) / params.AreaSize

	areas := make([]QualityArea, 0, cols*rows)
	for ay := int32(0); ay < rows; ay++ {
		for ax := int32(0); ax < cols; ax++ {
			x0 := intersect.X + ax*params.AreaSize
			y0 := intersect.Y + ay*params.AreaSize
			w := MinInt32(params.AreaSize, intersect.X+intersect.Width-x0)
			h := MinInt32(params.AreaSize, intersect.Y+intersect.Height-y0)
			r := Rect{x0, y0, w, h}
			areas = append(areas, QualityArea{
				Rect:   r,
				Center: FloatPoint{float32(x0) + float32(w)/2, float32(y0) + float32(h)/2},
			})
		}
	}

	numFrames := len(aligner.Offsets())
	for i := range areas {
		areas[i].Quality = make([]float32, numFrames)
	}

	bestFragment := make([]int, len(areas))
	LogPrintf("quality estimation: %dx%d areas over intersection %dx%d\n", cols, rows, intersect.Width, intersect.Height)

	return &QualityEstimator{
		aligner: aligner, params: params,
		areas: areas, cols: cols, rows: rows, intersect: intersect,
		bestFragment: bestFragment,
	}, nil
}

// Step pulls the next stabilised frame, box-blurs the intersection, and
// records each area's local-contrast sum for that frame.
func (qe *QualityEstimator) Step() error {
	if qe.err != nil {
		return qe.err
	}
	if qe.done {
		return ErrNoMoreImages
	}

	offsets := qe.aligner.Offsets()
	indices := qe.aligner.FrameIndices()
	if qe.frameCursor >= len(offsets) {
		qe.done = true
		return ErrNoMoreImages
	}

	frameIdx := indices[qe.frameCursor]
	off := offsets[qe.frameCursor]
	frame, err := qe.aligner.Source().ByIndex(frameIdx)
	if err != nil {
		qe.err = err
		return err
	}
	gray := frame.Gray()

	// Extract the stabilised intersection: pixel (x,y) in intersection
	// coordinates reads frame content at (x,y)+offset.
	raw := extractStabilised(gray, frame.Width, frame.Height, qe.intersect, off)
	blurred := boxBlur(raw, qe.intersect.Width, qe.intersect.Height, qe.params.DetailScale)

	qe.computeAreaQualities(raw, blurred, qe.frameCursor)

	qe.frameCursor++
	if qe.frameCursor >= len(offsets) {
		qe.finalizeBestFragment()
		qe.done = true
		return ErrLastStep
	}
	return nil
}

func (qe *QualityEstimator) computeAreaQualities(raw, blurred []float32, frameCursor int) {
	numWorkers := blockMatchWorkers()
	if numWorkers > len(qe.areas) {
		numWorkers = len(qe.areas)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	sem := make(chan bool, numWorkers)
	perWorker := (len(qe.areas) + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		sem <- true
		go func(w int) {
			defer func() { <-sem }()
			lo := w * perWorker
			hi := MinInt(lo+perWorker, len(qe.areas))
			for ai := lo; ai < hi; ai++ {
				a := &qe.areas[ai]
				var sum float32
				for y := a.Rect.Y - qe.intersect.Y; y < a.Rect.Y-qe.intersect.Y+a.Rect.Height; y++ {
					rowOff := y * qe.intersect.Width
					for x := a.Rect.X - qe.intersect.X; x < a.Rect.X-qe.intersect.X+a.Rect.Width; x++ {
						d := raw[rowOff+x] - blurred[rowOff+x]
						if d < 0 {
							d = -d
						}
						sum += d
					}
				}
				a.Quality[frameCursor] = sum
			}
		}(w)
	}
	for i := 0; i < cap(sem); i++ {
		sem <- true
	}
}

func (qe *QualityEstimator) finalizeBestFragment() {
	LogPrintf("quality estimation: done, %d frames\n", len(qe.aligner.Offsets()))
	for ai := range qe.areas {
		best, bestQ := 0, float32(-1)
		for fi, q := range qe.areas[ai].Quality {
			if q > bestQ {
				best, bestQ = fi, q
			}
		}
		qe.bestFragment[ai] = best
	}
}

// extractStabilised copies the intersection rectangle's worth of pixels
// from a frame shifted by off, so intersection-local coordinate (x,y)
// reads frame content at intersection.X+x+off.X, intersection.Y+y+off.Y.
func extractStabilised(gray []uint8, width, height int32, intersect Rect, off Point) []float32 {
	out := make([]float32, intersect.Width*intersect.Height)
	for y := int32(0); y < intersect.Height; y++ {
		srcY := intersect.Y + y + off.Y
		dstRow := y * intersect.Width
		for x := int32(0); x < intersect.Width; x++ {
			srcX := intersect.X + x + off.X
			if srcX >= 0 && srcX < width && srcY >= 0 && srcY < height {
				out[dstRow+x] = float32(gray[srcY*width+srcX])
			}
		}
	}
	return out
}

// FrameQuality returns the sum over areas of q(area,frameCursor), the
// invariant Σ_area q(a,i) == reported frame quality.
func (qe *QualityEstimator) FrameQuality(frameCursor int) float32 {
	var sum float32
	for _, a := range qe.areas {
		sum += a.Quality[frameCursor]
	}
	return sum
}

// Areas returns the computed quality areas.
func (qe *QualityEstimator) Areas() []QualityArea { return qe.areas }

// AreaIndexAt maps a point in frame-0 coordinates that lies inside the
// intersection to its containing area index.
func (qe *QualityEstimator) AreaIndexAt(p FloatPoint) (int, bool) {
	lx := p.X - float32(qe.intersect.X)
	ly := p.Y - float32(qe.intersect.Y)
	if lx < 0 || ly < 0 {
		return 0, false
	}
	ax := int32(lx) / qe.params.AreaSize
	ay := int32(ly) / qe.params.AreaSize
	if ax >= qe.cols || ay >= qe.rows {
		return 0, false
	}
	idx := int(ay*qe.cols + ax)
	if idx < 0 || idx >= len(qe.areas) {
		return 0, false
	}
	return idx, true
}

// BestAvgAreaQuality is best_avg_area_quality = max_a avg_i q(a,i).
func (qe *QualityEstimator) BestAvgAreaQuality() float32 {
	best := float32(0)
	for _, a := range qe.areas {
		avg := avgOf(a.Quality)
		if avg > best {
			best = avg
		}
	}
	return best
}

// MinNonzeroAvgAreaQuality is min_nonzero_avg_area_quality = min_a {avg_i q(a,i) > 0}.
func (qe *QualityEstimator) MinNonzeroAvgAreaQuality() float32 {
	min := float32(-1)
	for _, a := range qe.areas {
		avg := avgOf(a.Quality)
		if avg > 0 && (min < 0 || avg < min) {
			min = avg
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

func avgOf(xs []float32) float32 {
	if len(xs) == 0 {
		return 0
	}
	var sum float32
	for _, x := range xs {
		sum += x
	}
	return sum / float32(len(xs))
}

// BestFragmentComposite assembles, per area, the pixel tile from the
// frame with the maximum q(area,frame), producing the best fragment
// composite image over the intersection.
func (qe *QualityEstimator) BestFragmentComposite() ([]float32, error) {
	out := make([]float32, qe.intersect.Width*qe.intersect.Height)
	offsets := qe.aligner.Offsets()
	indices := qe.aligner.FrameIndices()
	for ai, a := range qe.areas {
		frameCursor := qe.bestFragment[ai]
		frameIdx := indices[frameCursor]
		off := offsets[frameCursor]
		frame, err := qe.aligner.Source().ByIndex(frameIdx)
		if err != nil {
			return nil, err
		}
		gray := frame.Gray()
		for y := int32(0); y < a.Rect.Height; y++ {
			srcY := a.Rect.Y + y + off.Y
			dstY := a.Rect.Y - qe.intersect.Y + y
			for x := int32(0); x < a.Rect.Width; x++ {
				srcX := a.Rect.X + x + off.X
				dstX := a.Rect.X - qe.intersect.X + x
				if srcX >= 0 && srcX < frame.Width && srcY >= 0 && srcY < frame.Height {
					out[dstY*qe.intersect.Width+dstX] = float32(gray[srcY*frame.Width+srcX])
				}
			}
		}
	}
	return out, nil
}

// Intersection returns the intersection rectangle this stage partitions.
func (qe *QualityEstimator) Intersection() Rect { return qe.intersect }

// BestFrameForArea returns the active-sequence frame position holding
// the maximum quality for the given area, valid after Step has returned
// ErrLastStep.
func (qe *QualityEstimator) BestFrameForArea(areaIdx int) int { return qe.bestFragment[areaIdx] }

// Done reports whether every frame has been processed.
func (qe *QualityEstimator) Done() bool { return qe.done }

// Aligner exposes the read-only borrowed upstream stage.
func (qe *QualityEstimator) Aligner() *GlobalAligner { return qe.aligner }
