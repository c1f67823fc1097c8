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

// AlignMethod selects how global alignment tracks bulk frame translation.
// ANCHORS is the only method in scope; rotation/scale/shear compensation
// is a non-goal.
type AlignMethod int

const (
	MethodAnchors AlignMethod = iota
)

// AlignParams are the unit-bearing parameters for global alignment.
type AlignParams struct {
	Method                AlignMethod
	AnchorPositions       []Point // optional explicit starting anchors; nil = auto-place on frame 0
	BlockRadius           int32   // pixels
	SearchRadius          int32   // pixels
	BrightnessThreshold   float32 // [0,1], auto anchor placement only
	RejectionThresholdPct float32 // normalized SAD above which a match is rejected; 0 uses a sane default
}

// refBlockSize is 2*BlockRadius+1, the side length of an anchor's reference block.
func (p *AlignParams) refBlockSize() int32 { return 2*p.BlockRadius + 1 }

func (p *AlignParams) String() string {
	return fmt.Sprintf("blockRadius %d searchRadius %d brightnessThresh %.2f",
		p.BlockRadius, p.SearchRadius, p.BrightnessThreshold)
}

// Anchor is a tracked brightness feature. The anchor list is an
// append-only vector with exactly one active cursor, per the design
// note "Anchor re-placement": re-placement never mutates history, it
// appends a fresh anchor and moves the cursor.
type Anchor struct {
	BasePosition   Point // position at the moment this anchor was placed
	BaseOffset     Point // PerFrameOffset held by the frame this anchor was placed on
	Position       Point // current tracked position, updated by block matching each step
	Valid          bool
	CreatedAtFrame int
	Block          Block
}

// GlobalAligner is the step-driven global alignment stage (§4.2).
type GlobalAligner struct {
	source FrameSource
	params AlignParams

	anchors   []Anchor
	activeIdx int

	offsets      []Point // PerFrameOffset, index = position in the active sequence
	frameIndices []int   // source index corresponding to each offsets entry

	lastFrame    *Frame
	frameCount   int
	done         bool
	intersection Rect
	err          error
}

// NewGlobalAligner constructs the stage. Fails with InvalidParameters if
// explicit anchors are given but any one falls outside frame 0.
func NewGlobalAligner(source FrameSource, params AlignParams) (*GlobalAligner, error) {
	source = NewCachingFrameSource(source, DefaultPoolCapacityBytes())
	source.SeekStart()
	if err := source.SeekNext(); err != nil {
		return nil, err
	}
	first, err := source.Current()
	if err != nil {
		return nil, err
	}
	gray := first.Gray()

	ga := &GlobalAligner{source: source, params: params}

	placeAnchor := func(pos Point, createdAt int, baseOffset Point) error {
		block, err := ExtractBlock(gray, first.Width, first.Height, pos, params.refBlockSize())
		if err != nil {
			return newError(KindInvalidParameters, "anchor block extends outside frame")
		}
		ga.anchors = append(ga.anchors, Anchor{
			BasePosition: pos, BaseOffset: baseOffset, Position: pos,
			Valid: true, CreatedAtFrame: createdAt, Block: block,
		})
		return nil
	}

	if len(params.AnchorPositions) > 0 {
		for _, pos := range params.AnchorPositions {
			if !first.Rect().Contains(pos) {
				return nil, newError(KindInvalidParameters, "anchor position outside first frame")
			}
			if err := placeAnchor(pos, 0, Point{0, 0}); err != nil {
				return nil, err
			}
		}
	} else {
		pos := suggestAnchorPosition(gray, first.Width, first.Height, params.refBlockSize(), params.BrightnessThreshold)
		if err := placeAnchor(pos, 0, Point{0, 0}); err != nil {
			return nil, err
		}
	}
	ga.activeIdx = len(ga.anchors) - 1
	LogPrintf("global align: %d anchor(s) placed on frame %d\n", len(ga.anchors), first.Index)

	ga.lastFrame = first
	ga.offsets = append(ga.offsets, Point{0, 0})
	ga.frameIndices = append(ga.frameIndices, first.Index)
	ga.frameCount = 1

	if first.Index == source.Count()-1 || source.ActiveCount() == 1 {
		ga.finish()
	}
	return ga, nil
}

func rejectionThreshold(p AlignParams) float32 {
	if p.RejectionThresholdPct > 0 {
		return p.RejectionThresholdPct
	}
	return 0.3 // normalized SAD (fraction of 255 per pixel) above which a match is rejected
}

// Step advances to the next active frame. Returns ErrLastStep once the
// final frame has been processed (exposing the now-computed intersection
// rectangle); ErrNoMoreImages if called again afterwards.
func (ga *GlobalAligner) Step() error {
	if ga.err != nil {
		return ga.err
	}
	if ga.done {
		return ErrNoMoreImages
	}

	if err := ga.source.SeekNext(); err != nil {
		if IsNoMoreImages(err) {
			ga.finish()
			return ErrLastStep
		}
		ga.err = err
		return err
	}
	frame, err := ga.source.Current()
	if err != nil {
		ga.err = err
		return err
	}
	gray := frame.Gray()
	lastOffset := ga.offsets[len(ga.offsets)-1]

	active := &ga.anchors[ga.activeIdx]
	var offset Point
	matched := false
	if active.Valid {
		cand, score, found := FindBestOffset(active.Block, gray, frame.Width, frame.Height, active.Position, ga.params.SearchRadius)
		normalized := float32(math.MaxFloat32)
		if found {
			normalized = float32(score) / float32(int64(active.Block.Size)*int64(active.Block.Size)*255)
		}
		newPos := active.Position.Add(cand)
		if !found || normalized > rejectionThreshold(ga.params) || !frame.Rect().Contains(newPos) {
			active.Valid = false
		} else {
			active.Position = newPos
			offset = active.BaseOffset.Add(active.Position.Sub(active.BasePosition))
			matched = true
		}
	}

	if !matched {
		// Current active anchor failed entirely: place a fresh one on this
		// frame and carry the previous offset forward unchanged (open
		// question in the design notes, resolved in favor of holding).
		LogPrintf("global align: anchor lost at frame %d, placing replacement\n", frame.Index)
		pos := suggestAnchorPosition(gray, frame.Width, frame.Height, ga.params.refBlockSize(), ga.params.BrightnessThreshold)
		block, err := ExtractBlock(gray, frame.Width, frame.Height, pos, ga.params.refBlockSize())
		if err != nil {
			ga.err = wrapError(KindInvalidParameters, "could not place replacement anchor", err)
			return ga.err
		}
		ga.anchors = append(ga.anchors, Anchor{
			BasePosition: pos, BaseOffset: lastOffset, Position: pos,
			Valid: true, CreatedAtFrame: frame.Index, Block: block,
		})
		ga.activeIdx = len(ga.anchors) - 1
		offset = lastOffset
	}

	ga.offsets = append(ga.offsets, offset)
	ga.frameIndices = append(ga.frameIndices, frame.Index)
	ga.frameCount++
	ga.lastFrame = frame

	if frame.Index == ga.source.Count()-1 || ga.frameCount == ga.source.ActiveCount() {
		ga.finish()
		return ErrLastStep
	}
	return nil
}

func (ga *GlobalAligner) finish() {
	if ga.done {
		return
	}
	ga.done = true
	ga.intersection = computeIntersection(ga.lastFrame.Rect(), ga.offsets)
	LogPrintf("global align: done, %d frames, intersection %dx%d\n", ga.frameCount, ga.intersection.Width, ga.intersection.Height)
}

// computeIntersection is intersection = frame_rect ∩ ⋂_i translate(frame_rect, -offset_i), in frame-0 coordinates.
func computeIntersection(frameRect Rect, offsets []Point) Rect {
	result := frameRect
	for _, off := range offsets {
		translated := frameRect.Translate(Point{-off.X, -off.Y})
		result = result.Intersect(translated)
	}
	return result
}

// Offsets returns the PerFrameOffset sequence computed so far, indexed by
// position in the active sequence (not by source frame index).
func (ga *GlobalAligner) Offsets() []Point { return ga.offsets }

// FrameIndices returns, for each entry in Offsets, the corresponding
// source frame index.
func (ga *GlobalAligner) FrameIndices() []int { return ga.frameIndices }

// Intersection returns the intersection rectangle. Only valid after the
// stage has completed (Step returned ErrLastStep).
func (ga *GlobalAligner) Intersection() Rect { return ga.intersection }

// Done reports whether the stage has processed every active frame.
func (ga *GlobalAligner) Done() bool { return ga.done }

// Source exposes the read-only borrowed frame source for downstream stages.
func (ga *GlobalAligner) Source() FrameSource { return ga.source }

// suggestAnchorPosition implements §4.2's auto anchor placement:
// non-overlapping 2*refBlockSize+1 candidate blocks, rejecting those whose
// brightness normalized into [0,1] relative to the frame's darkest and
// brightest pixel falls below threshold, picking the remainder's highest
// contrast (stddev) candidate, tie-broken by scan order.
func suggestAnchorPosition(gray []uint8, width, height int32, refBlockSize int32, threshold float32) Point {
	blockSize := 2*refBlockSize + 1
	lo, hi := uint8(255), uint8(0)
	for _, v := range gray {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := float32(hi) - float32(lo)

	best := Point{width / 2, height / 2}
	bestContrast := float32(-1)
	haveBest := false

	for y := blockSize / 2; y+blockSize/2 < height; y += blockSize {
		for x := blockSize / 2; x+blockSize/2 < width; x += blockSize {
			center := Point{x, y}
			mean, std := blockMeanStd(gray, width, height, center, blockSize)
			normalized := float32(0)
			if span > 0 {
				normalized = (mean - float32(lo)) / span
			}
			if normalized < threshold {
				continue
			}
			if !haveBest || std > bestContrast {
				best, bestContrast, haveBest = center, std, true
			}
		}
	}
	return best
}

func blockMeanStd(gray []uint8, width, height int32, center Point, size int32) (mean, std float32) {
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
			v := float64(gray[row+x])
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
