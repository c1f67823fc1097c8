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

// constantFrame builds a width x height Gray8 frame filled with value v.
func constantFrame(index int, width, height int32, v float32) *Frame {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = v
	}
	return &Frame{Index: index, Width: width, Height: height, Format: Gray8, Data: data}
}

// squareFrame builds a width x height Gray8 frame that is background
// everywhere except a size x size bright square with its top-left
// corner at (sqX, sqY).
func squareFrame(index int, width, height int32, background, bright float32, sqX, sqY, size int32) *Frame {
	f := constantFrame(index, width, height, background)
	for y := sqY; y < sqY+size; y++ {
		if y < 0 || y >= height {
			continue
		}
		for x := sqX; x < sqX+size; x++ {
			if x < 0 || x >= width {
				continue
			}
			f.Data[y*width+x] = bright
		}
	}
	return f
}

// shiftedFrame returns a copy of src as seen through a window shifted by
// (dx,dy): output pixel (x,y) = src content at (x-dx, y-dy), i.e. the
// scene has moved by (dx,dy) relative to frame 0. Out-of-bounds reads
// are filled with background.
func shiftedFrame(index int, src *Frame, dx, dy int32, background float32) *Frame {
	out := constantFrame(index, src.Width, src.Height, background)
	for y := int32(0); y < src.Height; y++ {
		for x := int32(0); x < src.Width; x++ {
			sx, sy := x-dx, y-dy
			if sx < 0 || sx >= src.Width || sy < 0 || sy >= src.Height {
				continue
			}
			out.Data[y*src.Width+x] = src.Data[sy*src.Width+sx]
		}
	}
	return out
}

// textured builds a bright-but-varied synthetic scene: a grid of
// bright squares on a dim background, giving block matching and
// structure filtering something to lock onto.
func texturedFrame(index int, width, height int32) *Frame {
	f := constantFrame(index, width, height, 20)
	step := int32(8)
	for y := int32(2); y+3 < height; y += step {
		for x := int32(2); x+3 < width; x += step {
			for dy := int32(0); dy < 3; dy++ {
				for dx := int32(0); dx < 3; dx++ {
					f.Data[(y+dy)*width+(x+dx)] = 220
				}
			}
		}
	}
	return f
}
