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

// StackParams are the unit-bearing parameters for the stacker. FlatField,
// if non-nil, is borrowed only during construction; the stacker stores
// its own normalized copy (§9 design note).
type StackParams struct {
	FlatField []float32 // optional, width*height samples matching the intersection size
}

// StackResult is the final accumulator/weight pair, normalized on demand.
type StackResult struct {
	Width, Height int32
	Format        PixelFormat
	Acc           []float32 // planar per channel, like Frame.Data
	Weight        []float32 // shared across channels
}

// Final returns acc/weight, zero where weight is zero, one channel
// plane at a time.
func (r *StackResult) Final() []float32 {
	channels := r.Format.Channels()
	out := make([]float32, int32(channels)*r.Width*r.Height)
	planeLen := r.Width * r.Height
	for c := 0; c < channels; c++ {
		base := int32(c) * planeLen
		for i := int32(0); i < planeLen; i++ {
			w := r.Weight[i]
			if w > 0 {
				out[base+i] = r.Acc[base+i] / w
			}
		}
	}
	return out
}

// Stacker is the step-driven triangle-warp stacking stage (§4.7). It
// borrows the reference aligner (and transitively the quality estimator
// and global aligner) read-only.
type Stacker struct {
	ra     *RefAligner
	params StackParams
	tri    *Triangulation

	flatField     []float32 // normalized copy: F(x,y)/mean(F)
	result        *StackResult
	frameCursor   int
	done          bool
	err           error
	lastTriangles []int
}

// NewStacker triangulates the aligner's final reference-point positions
// (plus the super-triangle) and zero-initializes the accumulator.
func NewStacker(ra *RefAligner, params StackParams) (*Stacker, error) {
	if !ra.Done() {
		return nil, newError(KindInvalidParameters, "reference-point alignment must complete before stacking")
	}
	positions, _ := ra.FinalPositions()
	if len(positions) < 3 {
		return nil, newError(KindInvalidParameters, "fewer than 3 valid reference points, cannot triangulate")
	}
	tri, err := Triangulate(positions)
	if err != nil {
		return nil, err
	}

	intersect := ra.QualityEstimator().Intersection()
	qe := ra.QualityEstimator()
	frame0, err := qe.Aligner().Source().ByIndex(qe.Aligner().FrameIndices()[0])
	if err != nil {
		return nil, err
	}
	format := frame0.Format

	planeLen := intersect.Width * intersect.Height
	result := &StackResult{
		Width: intersect.Width, Height: intersect.Height, Format: format,
		Acc:    make([]float32, int32(format.Channels())*planeLen),
		Weight: make([]float32, planeLen),
	}

	var flat []float32
	if len(params.FlatField) > 0 {
		flat = normalizeFlatField(params.FlatField)
	}

	LogPrintf("stacking: %d reference points, %d triangles\n", len(positions), len(tri.Triangles))
	return &Stacker{ra: ra, params: params, tri: tri, flatField: flat, result: result}, nil
}

func normalizeFlatField(f []float32) []float32 {
	var sum float64
	for _, v := range f {
		sum += float64(v)
	}
	mean := float32(sum / float64(len(f)))
	if mean == 0 {
		mean = 1
	}
	out := make([]float32, len(f))
	for i, v := range f {
		out[i] = v / mean
	}
	return out
}

// Step warps and accumulates one frame's active triangles.
func (s *Stacker) Step() error {
	if s.err != nil {
		return s.err
	}
	if s.done {
		return ErrNoMoreImages
	}

	offsets := s.ra.QualityEstimator().Aligner().Offsets()
	indices := s.ra.QualityEstimator().Aligner().FrameIndices()
	if s.frameCursor >= len(offsets) {
		s.done = true
		return ErrNoMoreImages
	}

	frame, err := s.ra.QualityEstimator().Aligner().Source().ByIndex(indices[s.frameCursor])
	if err != nil {
		s.err = err
		return err
	}

	active, vertexPos := s.activeTriangles(s.frameCursor)
	s.lastTriangles = active
	LogPrintf("stacking: frame %d, %d active triangles\n", frame.Index, len(active))

	numWorkers := blockMatchWorkers()
	if numWorkers > len(active) {
		numWorkers = len(active)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	sem := make(chan bool, numWorkers)
	perWorker := (len(active) + numWorkers - 1) / numWorkers
	off := offsets[s.frameCursor]
	for w := 0; w < numWorkers; w++ {
		sem <- true
		go func(w int) {
			defer func() { <-sem }()
			lo := w * perWorker
			hi := MinInt(lo+perWorker, len(active))
			for k := lo; k < hi; k++ {
				s.warpTriangle(active[k], vertexPos, frame, off)
			}
		}(w)
	}
	for i := 0; i < cap(sem); i++ {
		sem <- true
	}

	s.frameCursor++
	if s.frameCursor >= len(offsets) {
		s.done = true
		LogPrintf("stacking: done, %d frames\n", s.frameCursor)
		return ErrLastStep
	}
	return nil
}

// activeTriangles returns, for frameCursor, the indices of triangles
// whose three reference-point vertices are all valid in that frame
// (super-triangle vertices are always valid and use the frame's
// translation of the nearest reference point), together with each
// vertex's frame-n final-position-space coordinate.
func (s *Stacker) activeTriangles(frameCursor int) ([]int, []FloatPoint) {
	points := s.ra.Points()
	_, idxs := s.ra.FinalPositions()
	pointAtVertex := make(map[int]int, len(idxs)) // triangulation vertex index -> points index
	for vi, pi := range idxs {
		pointAtVertex[vi] = pi
	}

	vertexPos := make([]FloatPoint, len(s.tri.Vertices))
	validVertex := make([]bool, len(s.tri.Vertices))
	for vi := range s.tri.Vertices {
		if pi, ok := pointAtVertex[vi]; ok {
			p := points[pi]
			if frameCursor < len(p.ValidPerFrame) && p.ValidPerFrame[frameCursor] {
				vertexPos[vi] = p.PositionPerFrame[frameCursor]
				validVertex[vi] = true
			}
		}
	}
	for _, sv := range s.tri.SuperTriangle {
		pos, ok := nearestValidFramePosition(s.tri, sv, pointAtVertex, points, frameCursor)
		if ok {
			vertexPos[sv] = pos
			validVertex[sv] = true
		}
	}

	var active []int
	for ti, t := range s.tri.Triangles {
		if validVertex[t.A] && validVertex[t.B] && validVertex[t.C] {
			active = append(active, ti)
		}
	}
	return active, vertexPos
}

// nearestValidFramePosition gives a super-triangle vertex a frame-n
// position by applying the translation (frame-n position minus final
// position) of the nearest valid reference point to the super-triangle
// vertex's own final position.
func nearestValidFramePosition(tri *Triangulation, superVertex int, pointAtVertex map[int]int, points []RefPoint, frameCursor int) (FloatPoint, bool) {
	superFinal := tri.Vertices[superVertex]
	bestDist := float32(-1)
	var bestDelta FloatPoint
	found := false
	for vi, pi := range pointAtVertex {
		p := points[pi]
		if frameCursor >= len(p.ValidPerFrame) || !p.ValidPerFrame[frameCursor] {
			continue
		}
		final := tri.Vertices[vi]
		dx := final.X - superFinal.X
		dy := final.Y - superFinal.Y
		dist := dx*dx + dy*dy
		if !found || dist < bestDist {
			bestDist = dist
			bestDelta = p.PositionPerFrame[frameCursor].Sub(final)
			found = true
		}
	}
	if !found {
		return FloatPoint{}, false
	}
	return superFinal.Add(bestDelta), true
}

// warpTriangle rasterizes the intersection pixels inside triangle t
// (final-position coordinates), samples frame via the affine map to
// its frame-n vertex positions, and accumulates.
func (s *Stacker) warpTriangle(triIdx int, vertexPos []FloatPoint, frame *Frame, off Point) {
	t := s.tri.Triangles[triIdx]
	A, B, C := s.tri.Vertices[t.A], s.tri.Vertices[t.B], s.tri.Vertices[t.C]
	Ap, Bp, Cp := vertexPos[t.A], vertexPos[t.B], vertexPos[t.C]

	transform, err := NewTransform2D(A, B, C, Ap, Bp, Cp)
	if err != nil {
		return
	}

	minX := MinInt(MinInt(int(A.X), int(B.X)), int(C.X))
	maxX := MaxInt(MaxInt(int(A.X), int(B.X)), int(C.X))
	minY := MinInt(MinInt(int(A.Y), int(B.Y)), int(C.Y))
	maxY := MaxInt(MaxInt(int(A.Y), int(B.Y)), int(C.Y))
	minX = ClampInt(minX, 0, int(s.result.Width)-1)
	maxX = ClampInt(maxX, 0, int(s.result.Width)-1)
	minY = ClampInt(minY, 0, int(s.result.Height)-1)
	maxY = ClampInt(maxY, 0, int(s.result.Height)-1)

	channels := s.result.Format.Channels()
	planeLen := s.result.Width * s.result.Height
	intersect := s.ra.QualityEstimator().Intersection()
	gray := frame.Data
	frameWidth, frameHeight := frame.Width, frame.Height

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px := FloatPoint{float32(x) + 0.5, float32(y) + 0.5}
			if !pointInTriangle(px, A, B, C, triIdx, s.tri, s.pixelOwner(x, y, triIdx)) {
				continue
			}
			srcLocal := transform.Apply(px)
			srcAbs := FloatPoint{srcLocal.X + float32(intersect.X+off.X), srcLocal.Y + float32(intersect.Y+off.Y)}

			outIdx := int32(y)*s.result.Width + int32(x)
			flatDivisor := float32(1)
			if s.flatField != nil && int(outIdx) < len(s.flatField) {
				flatDivisor = s.flatField[outIdx]
				if flatDivisor == 0 {
					flatDivisor = 1
				}
			}

			for c := 0; c < channels; c++ {
				sample, ok := bilinearSample(gray, frameWidth, frameHeight, int32(c), srcAbs)
				if !ok {
					continue
				}
				s.result.Acc[int32(c)*planeLen+outIdx] += sample / flatDivisor
			}
			s.result.Weight[outIdx]++
		}
	}
}

// pixelOwner memoizes nothing; kept as a seam for future acceleration
// (e.g. a per-pixel triangle index cache). Currently always returns -1,
// meaning "decide from scratch".
func (s *Stacker) pixelOwner(x, y, triIdx int) int { return -1 }

// pointInTriangle implements the barycentric-coordinate pixel-in-triangle
// rule of §4.7: a pixel belongs to the triangle where all three
// barycentric coordinates are strictly positive; failing that (exactly
// on a shared edge), it belongs to the triangle with the smallest index
// among those with non-negative coordinates, so adjoining triangles
// tile the plane without double-counting or gaps.
func pointInTriangle(p, a, b, c FloatPoint, triIdx int, tri *Triangulation, _ int) bool {
	u, v, w, ok := barycentric(p, a, b, c)
	if !ok {
		return false
	}
	if u > 0 && v > 0 && w > 0 {
		return true
	}
	if u < 0 || v < 0 || w < 0 {
		return false
	}
	// On a shared edge: this triangle only claims the pixel if no
	// lower-indexed triangle containing this same point (non-negative
	// coordinates) exists.
	for i := 0; i < triIdx; i++ {
		t := tri.Triangles[i]
		A, B, C := tri.Vertices[t.A], tri.Vertices[t.B], tri.Vertices[t.C]
		u2, v2, w2, ok2 := barycentric(p, A, B, C)
		if ok2 && u2 >= 0 && v2 >= 0 && w2 >= 0 {
			return false
		}
	}
	return true
}

func barycentric(p, a, b, c FloatPoint) (u, v, w float32, ok bool) {
	v0x, v0y := b.X-a.X, b.Y-a.Y
	v1x, v1y := c.X-a.X, c.Y-a.Y
	v2x, v2y := p.X-a.X, p.Y-a.Y

	den := v0x*v1y - v1x*v0y
	if den == 0 {
		return 0, 0, 0, false
	}
	vv := (v2x*v1y - v1x*v2y) / den
	ww := (v0x*v2y - v2x*v0y) / den
	uu := 1 - vv - ww
	return uu, vv, ww, true
}

// bilinearSample reads channel c from a planar Frame.Data buffer at
// real-valued position p (absolute frame coordinates). Returns false if
// every corner would fall outside the frame.
func bilinearSample(data []float32, width, height int32, channel int32, p FloatPoint) (float32, bool) {
	x := p.X - 0.5
	y := p.Y - 0.5
	x0 := int32(floorFloat32(x))
	y0 := int32(floorFloat32(y))
	x1, y1 := x0+1, y0+1
	fx := x - float32(x0)
	fy := y - float32(y0)

	planeLen := width * height
	base := channel * planeLen

	get := func(xi, yi int32) (float32, bool) {
		if xi < 0 || xi >= width || yi < 0 || yi >= height {
			return 0, false
		}
		return data[base+yi*width+xi], true
	}

	v00, ok00 := get(x0, y0)
	v10, ok10 := get(x1, y0)
	v01, ok01 := get(x0, y1)
	v11, ok11 := get(x1, y1)
	if !ok00 && !ok10 && !ok01 && !ok11 {
		return 0, false
	}
	top := v00*(1-fx) + v10*fx
	bottom := v01*(1-fx) + v11*fx
	return top*(1-fy) + bottom*fy, true
}

func floorFloat32(v float32) float32 {
	i := float32(int32(v))
	if v < 0 && i != v {
		return i - 1
	}
	return i
}

// LastTriangles returns the triangle indices processed by the most
// recent Step, exposed for progress/debug observers (§4.7 item 4).
func (s *Stacker) LastTriangles() []int { return s.lastTriangles }

// Result returns the accumulator/weight buffers. Final() normalizes.
func (s *Stacker) Result() *StackResult { return s.result }

// Triangulation exposes the triangulation the stacker built.
func (s *Stacker) Triangulation() *Triangulation { return s.tri }

// Done reports whether every frame has been stacked.
func (s *Stacker) Done() bool { return s.done }
