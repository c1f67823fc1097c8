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

// Point is an integer 2D position.
type Point struct {
	X, Y int32
}

func (p Point) Add(o Point) Point { return Point{p.X + o.X, p.Y + o.Y} }
func (p Point) Sub(o Point) Point { return Point{p.X - o.X, p.Y - o.Y} }

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// FloatPoint is a real-valued 2D position.
type FloatPoint struct {
	X, Y float32
}

func (p FloatPoint) Add(o FloatPoint) FloatPoint { return FloatPoint{p.X + o.X, p.Y + o.Y} }
func (p FloatPoint) Sub(o FloatPoint) FloatPoint { return FloatPoint{p.X - o.X, p.Y - o.Y} }

func (p FloatPoint) String() string {
	return fmt.Sprintf("(%.2f,%.2f)", p.X, p.Y)
}

// PointOf converts an integer Point into a FloatPoint.
func PointOf(p Point) FloatPoint { return FloatPoint{float32(p.X), float32(p.Y)} }

// Rect is an integer-origin axis-aligned rectangle with non-negative
// extents (stored as int32).
type Rect struct {
	X, Y          int32
	Width, Height int32
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", r.X, r.Y, r.Width, r.Height)
}

// Contains reports whether p lies within the rectangle.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.Y >= r.Y && p.X < r.X+r.Width && p.Y < r.Y+r.Height
}

// ContainsFloat reports whether p lies within the rectangle.
func (r Rect) ContainsFloat(p FloatPoint) bool {
	return p.X >= float32(r.X) && p.Y >= float32(r.Y) && p.X < float32(r.X+r.Width) && p.Y < float32(r.Y+r.Height)
}

// Translate shifts a rectangle by the given offset.
func (r Rect) Translate(off Point) Rect {
	return Rect{r.X + off.X, r.Y + off.Y, r.Width, r.Height}
}

// Intersect returns the intersection of two rectangles. The result has
// zero extents if the rectangles do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0 := MaxInt32(r.X, o.X)
	y0 := MaxInt32(r.Y, o.Y)
	x1 := MinInt32(r.X+r.Width, o.X+o.Width)
	y1 := MinInt32(r.Y+r.Height, o.Y+o.Height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return Rect{x0, y0, x1 - x0, y1 - y0}
}

func MaxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func MinInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// PixelFormat identifies the channel layout the frame source's
// current_metadata() operation reports for a frame.
type PixelFormat int

const (
	Gray8 PixelFormat = iota
	Gray16
	RGB8
)

func (f PixelFormat) Channels() int {
	if f == RGB8 {
		return 3
	}
	return 1
}

func (f PixelFormat) String() string {
	switch f {
	case Gray8:
		return "Gray8"
	case Gray16:
		return "Gray16"
	case RGB8:
		return "RGB8"
	default:
		return "Unknown"
	}
}
