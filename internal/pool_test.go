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

func TestFramePoolGetMissThenHit(t *testing.T) {
	p := NewFramePool(1 << 20)
	f := constantFrame(0, 4, 4, 10)
	if got := p.Get(0, Gray8); got != nil {
		t.Fatalf("expected a miss on an empty pool, got %v", got)
	}
	p.Put(0, Gray8, f)
	if got := p.Get(0, Gray8); got != f {
		t.Fatalf("expected the same frame pointer back, got %v", got)
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 cached frame, got %d", p.Len())
	}
}

// A capacity too small for even one frame evicts everything but the
// most recently inserted entry (Put never evicts down to empty).
func TestFramePoolEvictsLeastRecentlyUsed(t *testing.T) {
	p := NewFramePool(1) // forces eviction after every insert beyond the first
	f0 := constantFrame(0, 8, 8, 1)
	f1 := constantFrame(1, 8, 8, 1)
	f2 := constantFrame(2, 8, 8, 1)

	p.Put(0, Gray8, f0)
	p.Put(1, Gray8, f1)
	p.Put(2, Gray8, f2)

	if got := p.Get(0, Gray8); got != nil {
		t.Fatalf("expected frame 0 to have been evicted, got %v", got)
	}
	if got := p.Get(2, Gray8); got != f2 {
		t.Fatalf("expected the most recently inserted frame to survive, got %v", got)
	}
}

func TestFramePoolZeroCapacityDisablesCaching(t *testing.T) {
	p := NewFramePool(0)
	f := constantFrame(0, 4, 4, 1)
	p.Put(0, Gray8, f)
	if got := p.Get(0, Gray8); got != nil {
		t.Fatalf("expected a zero-capacity pool to never cache, got %v", got)
	}
}

// countingSource wraps a SliceSource and counts ByIndex calls that reach
// the inner source, to distinguish a cache hit from a re-decode.
type countingSource struct {
	*SliceSource
	byIndexCalls int
}

func (c *countingSource) ByIndex(i int) (*Frame, error) {
	c.byIndexCalls++
	return c.SliceSource.ByIndex(i)
}

func TestCachingFrameSourceServesByIndexHitsWithoutRedecoding(t *testing.T) {
	frames := []*Frame{constantFrame(0, 4, 4, 5), constantFrame(1, 4, 4, 9)}
	inner := &countingSource{SliceSource: NewSliceSource(frames)}
	cached := NewCachingFrameSource(inner, 1<<20)

	f, err := cached.ByIndex(1)
	if err != nil {
		t.Fatalf("ByIndex: %v", err)
	}
	if f != frames[1] {
		t.Fatalf("expected frame 1 back, got index %d", f.Index)
	}
	if inner.byIndexCalls != 1 {
		t.Fatalf("expected exactly one decode on first access, got %d", inner.byIndexCalls)
	}

	if _, err := cached.ByIndex(1); err != nil {
		t.Fatalf("ByIndex: %v", err)
	}
	if inner.byIndexCalls != 1 {
		t.Fatalf("expected the second access to hit the cache without calling inner.ByIndex again, got %d calls", inner.byIndexCalls)
	}
}
