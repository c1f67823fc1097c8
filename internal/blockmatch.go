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
	"math"
	"runtime"

	"github.com/klauspost/cpuid"
)

// Block is a square 8-bit grayscale reference tile, together with its
// side length, used as the block matcher's template.
type Block struct {
	Size int32
	Data []uint8 // row-major, Size*Size samples
}

// ExtractBlock cuts a Size x Size tile centered at center out of img
// (width x height, 8-bit grayscale). Returns an error if the tile would
// leave the image bounds.
func ExtractBlock(img []uint8, width, height int32, center Point, size int32) (Block, error) {
	half := size / 2
	x0, y0 := center.X-half, center.Y-half
	if x0 < 0 || y0 < 0 || x0+size > width || y0+size > height {
		return Block{}, newError(KindInvalidParameters, "block extends outside image")
	}
	data := make([]uint8, size*size)
	for row := int32(0); row < size; row++ {
		srcOff := (y0+row)*width + x0
		dstOff := row * size
		copy(data[dstOff:dstOff+size], img[srcOff:srcOff+size])
	}
	return Block{Size: size, Data: data}, nil
}

// blockMatchWorkers sizes the candidate-search worker pool the way the
// teacher's batch.go sizes imageLevelParallelism from
// runtime.GOMAXPROCS, generalized here from whole-frame parallelism to
// within-step row-band parallelism over the search window. Capped at
// the physical core count reported by cpuid: row-band SAD scanning is
// memory-bandwidth bound, so oversubscribing past physical cores (as
// GOMAXPROCS alone would on a hyperthreaded machine) buys no throughput.
func blockMatchWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	if phys := cpuid.CPU.PhysicalCores; phys > 0 && phys < n {
		n = phys
	}
	return n
}

// FindBestOffset evaluates sum-of-absolute-differences between ref and
// every candidate placement within a (2*searchRadius+1)^2 window centered
// at searchCenter in searchImage (width x height, 8-bit grayscale).
// Returns the integer offset relative to searchCenter minimizing SAD, and
// that minimum SAD. Candidates whose window leaves the image are skipped
// (not wrapped, not clamped). Row-bands of the search window are
// evaluated by a worker pool (§5: confined, step-internal parallelism);
// the reduction below is order-independent so results are bit-identical
// across runs regardless of scheduling.
func FindBestOffset(ref Block, searchImage []uint8, width, height int32, searchCenter Point, searchRadius int32) (offset Point, score int64, found bool) {
	half := ref.Size / 2
	minY, maxY := -searchRadius, searchRadius

	numWorkers := blockMatchWorkers()
	rows := int(maxY-minY) + 1
	if numWorkers > rows {
		numWorkers = rows
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	type rowResult struct {
		offset Point
		score  int64
		found  bool
	}
	results := make([]rowResult, numWorkers)
	sem := make(chan bool, numWorkers)

	rowsPerWorker := (rows + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		sem <- true
		go func(w int) {
			defer func() { <-sem }()
			yLo := int(minY) + w*rowsPerWorker
			yHi := yLo + rowsPerWorker - 1
			if yHi > int(maxY) {
				yHi = int(maxY)
			}
			best := rowResult{}
			for dy := yLo; dy <= yHi; dy++ {
				for dx := int(minY); dx <= int(maxY); dx++ {
					cx := searchCenter.X + int32(dx)
					cy := searchCenter.Y + int32(dy)
					x0, y0 := cx-half, cy-half
					if x0 < 0 || y0 < 0 || x0+ref.Size > width || y0+ref.Size > height {
						continue
					}
					sad := sumAbsDiff(ref, searchImage, width, x0, y0)
					cand := Point{int32(dx), int32(dy)}
					if !best.found || betterCandidate(sad, cand, best.score, best.offset) {
						best = rowResult{cand, sad, true}
					}
				}
			}
			results[w] = best
		}(w)
	}
	for i := 0; i < cap(sem); i++ {
		sem <- true
	}

	score = math.MaxInt64
	for _, r := range results {
		if !r.found {
			continue
		}
		if !found || betterCandidate(r.score, r.offset, score, offset) {
			score, offset, found = r.score, r.offset, true
		}
	}
	return offset, score, found
}

// betterCandidate reports whether (score,offset) should replace
// (bestScore,bestOffset) as the best match found so far. Lower SAD wins;
// on a tie, the candidate closest to the search center wins (absent other
// evidence, no displacement is the most likely truth), and any remaining
// tie is broken by row-major scan order, so results are deterministic
// regardless of how the search window was partitioned across workers.
func betterCandidate(score int64, offset Point, bestScore int64, bestOffset Point) bool {
	if score != bestScore {
		return score < bestScore
	}
	dm := magnitudeSquared(offset)
	bm := magnitudeSquared(bestOffset)
	if dm != bm {
		return dm < bm
	}
	return scanOrderLess(offset, bestOffset)
}

func magnitudeSquared(p Point) int64 {
	return int64(p.X)*int64(p.X) + int64(p.Y)*int64(p.Y)
}

// scanOrderLess breaks ties by row-major scan order (top-to-bottom,
// left-to-right), per the auto anchor placement tie-break rule in §4.2,
// applied consistently wherever candidate search needs a deterministic
// tie-break.
func scanOrderLess(a, b Point) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}

func sumAbsDiff(ref Block, img []uint8, width int32, x0, y0 int32) int64 {
	var sum int64
	for row := int32(0); row < ref.Size; row++ {
		refOff := row * ref.Size
		imgOff := (y0+row)*width + x0
		refRow := ref.Data[refOff : refOff+ref.Size]
		imgRow := img[imgOff : imgOff+ref.Size]
		for i := int32(0); i < ref.Size; i++ {
			d := int64(refRow[i]) - int64(imgRow[i])
			if d < 0 {
				d = -d
			}
			sum += d
		}
	}
	return sum
}
