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
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Triangle is a triple of indices into a Triangulation's vertex list.
type Triangle struct {
	A, B, C int
}

// Triangulation is an incremental Bowyer-Watson construction over a
// vertex set augmented with three super-triangle vertices that enclose
// every input point. The super-triangle vertices remain in the final
// vertex list at indices len(vertices)-3..len(vertices)-1, so stacking
// can treat them specially (§9 design note: tagged variant over vertex
// kind, expressed here as an index range rather than a sum type, since
// Go has no sum types to reach for).
type Triangulation struct {
	Vertices      []FloatPoint
	Triangles     []Triangle
	SuperTriangle [3]int // indices of the three enclosing vertices
}

type triEdge struct {
	a, b int
}

// Triangulate builds a Delaunay triangulation of points, automatically
// adding a super-triangle around them. Degenerate/collinear candidate
// triangles are rejected (zero or near-zero area); ties among equally
// valid insertions are resolved by inserting points in lexicographic
// order on their coordinates, making the output deterministic.
func Triangulate(points []FloatPoint) (*Triangulation, error) {
	if len(points) == 0 {
		return nil, newError(KindInvalidParameters, "no reference points to triangulate")
	}

	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		pi, pj := points[order[i]], points[order[j]]
		if pi.X != pj.X {
			return pi.X < pj.X
		}
		return pi.Y < pj.Y
	})

	minX, minY := points[0].X, points[0].Y
	maxX, maxY := points[0].X, points[0].Y
	for _, p := range points {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	dx, dy := maxX-minX, maxY-minY
	span := dx
	if dy > span {
		span = dy
	}
	if span <= 0 {
		span = 1
	}
	midX, midY := (minX+maxX)/2, (minY+maxY)/2

	st := [3]FloatPoint{
		{midX - 20*span, midY - span},
		{midX, midY + 20*span},
		{midX + 20*span, midY - span},
	}

	verts := make([]FloatPoint, 0, len(points)+3)
	verts = append(verts, points...)
	superBase := len(verts)
	verts = append(verts, st[0], st[1], st[2])

	tri := &Triangulation{
		Vertices:      verts,
		Triangles:     []Triangle{{superBase, superBase + 1, superBase + 2}},
		SuperTriangle: [3]int{superBase, superBase + 1, superBase + 2},
	}

	for _, idx := range order {
		tri.insert(idx)
	}

	final := tri.Triangles[:0]
	for _, t := range tri.Triangles {
		if triangleArea(verts[t.A], verts[t.B], verts[t.C]) > 1e-9 {
			final = append(final, t)
		}
	}
	tri.Triangles = final

	return tri, nil
}

// insert adds vertex idx via the standard cavity-retriangulation step:
// find triangles whose circumcircle contains the new point, remove
// them, collect the boundary edges of the resulting cavity, and fan
// new triangles from idx to each boundary edge.
func (t *Triangulation) insert(idx int) {
	p := t.Vertices[idx]

	var bad []Triangle
	var good []Triangle
	for _, tr := range t.Triangles {
		if inCircumcircle(t.Vertices[tr.A], t.Vertices[tr.B], t.Vertices[tr.C], p) {
			bad = append(bad, tr)
		} else {
			good = append(good, tr)
		}
	}

	edgeCount := make(map[triEdge]int)
	edgeOf := func(a, b int) triEdge {
		if a > b {
			a, b = b, a
		}
		return triEdge{a, b}
	}
	for _, tr := range bad {
		edgeCount[edgeOf(tr.A, tr.B)]++
		edgeCount[edgeOf(tr.B, tr.C)]++
		edgeCount[edgeOf(tr.C, tr.A)]++
	}

	var boundary []triEdge
	for _, tr := range bad {
		for _, e := range [...]triEdge{edgeOf(tr.A, tr.B), edgeOf(tr.B, tr.C), edgeOf(tr.C, tr.A)} {
			if edgeCount[e] == 1 {
				boundary = append(boundary, e)
			}
		}
	}
	sort.Slice(boundary, func(i, j int) bool {
		if boundary[i].a != boundary[j].a {
			return boundary[i].a < boundary[j].a
		}
		return boundary[i].b < boundary[j].b
	})

	for _, e := range boundary {
		if triangleArea(t.Vertices[e.a], t.Vertices[e.b], p) <= 1e-9 {
			continue
		}
		good = append(good, Triangle{e.a, e.b, idx})
	}
	t.Triangles = good
}

func triangleArea(a, b, c FloatPoint) float64 {
	return 0.5 * absFloat64(float64(a.X)*float64(b.Y-c.Y)+
		float64(b.X)*float64(c.Y-a.Y)+
		float64(c.X)*float64(a.Y-b.Y))
}

func absFloat64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// inCircumcircle tests whether point d lies inside the circumcircle of
// triangle a,b,c via the standard 4x4 determinant, evaluated with
// gonum/mat to keep the numerically sensitive part on a single,
// well-tested code path rather than a hand-expanded determinant.
func inCircumcircle(a, b, c, d FloatPoint) bool {
	// Ensure a,b,c are counter-clockwise, else the determinant sign flips.
	if triangleSignedArea(a, b, c) < 0 {
		a, b = b, a
	}
	ax, ay := float64(a.X), float64(a.Y)
	bx, by := float64(b.X), float64(b.Y)
	cx, cy := float64(c.X), float64(c.Y)
	dx, dy := float64(d.X), float64(d.Y)

	full := mat.NewDense(4, 4, []float64{
		ax, ay, ax*ax + ay*ay, 1,
		bx, by, bx*bx + by*by, 1,
		cx, cy, cx*cx + cy*cy, 1,
		dx, dy, dx*dx + dy*dy, 1,
	})
	return mat.Det(full) > 1e-9
}

func triangleSignedArea(a, b, c FloatPoint) float64 {
	return float64(b.X-a.X)*float64(c.Y-a.Y) - float64(c.X-a.X)*float64(b.Y-a.Y)
}
