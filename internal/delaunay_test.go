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

func TestTriangulateKeepsSuperTriangleVertices(t *testing.T) {
	points := []FloatPoint{{10, 10}, {50, 10}, {30, 50}, {70, 70}}
	tri, err := Triangulate(points)
	if err != nil {
		t.Fatalf("Triangulate: %v", err)
	}
	if len(tri.Vertices) != len(points)+3 {
		t.Fatalf("expected %d vertices, got %d", len(points)+3, len(tri.Vertices))
	}
	for _, sv := range tri.SuperTriangle {
		if sv < len(points) {
			t.Fatalf("super-triangle vertex %d should be outside the input point range", sv)
		}
	}
}

// Every triangle in the triangulation has strictly positive area.
func TestTriangulateNoZeroAreaTriangles(t *testing.T) {
	points := []FloatPoint{
		{0, 0}, {20, 0}, {40, 0}, {0, 20}, {20, 20}, {40, 20}, {0, 40}, {20, 40}, {40, 40},
	}
	tri, err := Triangulate(points)
	if err != nil {
		t.Fatalf("Triangulate: %v", err)
	}
	if len(tri.Triangles) == 0 {
		t.Fatal("expected at least one triangle")
	}
	for i, tr := range tri.Triangles {
		area := triangleArea(tri.Vertices[tr.A], tri.Vertices[tr.B], tri.Vertices[tr.C])
		if area <= 1e-9 {
			t.Fatalf("triangle %d has non-positive area %v", i, area)
		}
	}
}

func TestTriangulateRejectsEmptyInput(t *testing.T) {
	if _, err := Triangulate(nil); err == nil {
		t.Fatal("expected an error for an empty point set")
	}
}
