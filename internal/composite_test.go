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
	"bytes"
	"image/jpeg"
	"testing"
)

func uniformGrayResult(v float32) *StackResult {
	return &StackResult{
		Width: 4, Height: 4, Format: Gray8,
		Acc:    []float32{v, v, v, v, v, v, v, v, v, v, v, v, v, v, v, v},
		Weight: []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	}
}

// A brighter uniform gray input must not produce a darker luminance preview.
func TestLuminancePreviewMonotonicInBrightness(t *testing.T) {
	dim := LuminancePreview(uniformGrayResult(50))
	bright := LuminancePreview(uniformGrayResult(200))
	if len(dim) != 16 || len(bright) != 16 {
		t.Fatalf("expected 16 pixels, got %d and %d", len(dim), len(bright))
	}
	if bright[0] <= dim[0] {
		t.Fatalf("expected brighter input to yield a higher luminance byte, got dim=%d bright=%d", dim[0], bright[0])
	}
}

// A zero-weight pixel (0 after Final()) must render as black, not crash.
func TestLuminancePreviewHandlesZeroWeight(t *testing.T) {
	r := &StackResult{
		Width: 1, Height: 1, Format: Gray8,
		Acc:    []float32{0},
		Weight: []float32{0},
	}
	out := LuminancePreview(r)
	if len(out) != 1 {
		t.Fatalf("expected 1 pixel, got %d", len(out))
	}
	if out[0] != 0 {
		t.Fatalf("expected black for a zero-weight pixel, got %d", out[0])
	}
}

func TestPreviewJPEGEncodesValidImage(t *testing.T) {
	r := uniformGrayResult(128)
	var buf bytes.Buffer
	if err := PreviewJPEG(r, &buf, 90); err != nil {
		t.Fatalf("PreviewJPEG: %v", err)
	}
	img, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatalf("decoding produced JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 4 {
		t.Fatalf("expected a 4x4 image, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestPreviewJPEGRGBChannels(t *testing.T) {
	planeLen := 4
	r := &StackResult{
		Width: 2, Height: 2, Format: RGB8,
		Acc:    make([]float32, 3*planeLen),
		Weight: []float32{1, 1, 1, 1},
	}
	for i := 0; i < planeLen; i++ {
		r.Acc[i] = 10               // red plane
		r.Acc[planeLen+i] = 20      // green plane
		r.Acc[2*planeLen+i] = 30    // blue plane
	}
	var buf bytes.Buffer
	if err := PreviewJPEG(r, &buf, 90); err != nil {
		t.Fatalf("PreviewJPEG: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty JPEG output")
	}
}
