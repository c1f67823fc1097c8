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
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
)

// PreviewJPEGToFile writes a preview of the final stack to fileName,
// adapted from the teacher's FITSImage.WriteJPGToFile for StackResult's
// planar accumulator/weight layout instead of FITSImage's Naxisn-sized
// RGB plane.
func PreviewJPEGToFile(result *StackResult, fileName string, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return PreviewJPEG(result, writer, quality)
}

// PreviewJPEG renders a stack result (mono or RGB, 32-bit float,
// unquantised) to an 8-bit JPEG preview, clamping to [0,255] and
// replacing any NaN samples with black, in the same manner as the
// teacher's WriteJPG. Zero-weight pixels are already 0 from Final().
func PreviewJPEG(result *StackResult, writer io.Writer, quality int) error {
	width, height := int(result.Width), int(result.Height)
	final := result.Final()
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})

	planeLen := width * height
	channels := result.Format.Channels()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			var r, g, b float32
			if channels == 3 {
				r, g, b = final[i], final[planeLen+i], final[2*planeLen+i]
			} else {
				r = final[i]
				g, b = r, r
			}
			if math.IsNaN(float64(r)) {
				r = 0
			}
			if math.IsNaN(float64(g)) {
				g = 0
			}
			if math.IsNaN(float64(b)) {
				b = 0
			}
			img.SetRGBA(x, y, color.RGBA{clampTo8(r), clampTo8(g), clampTo8(b), 255})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// LuminancePreview reduces a stack result to an 8-bit grayscale
// luminance image using go-colorful's CIE L*a*b* L channel, giving a
// perceptually uniform preview independent of the RGB/mono channel
// count; useful for quick-look thumbnails where exact color fidelity
// does not matter.
func LuminancePreview(result *StackResult) []uint8 {
	width, height := int(result.Width), int(result.Height)
	final := result.Final()
	planeLen := width * height
	channels := result.Format.Channels()

	out := make([]uint8, planeLen)
	for i := 0; i < planeLen; i++ {
		var r, g, b float64
		if channels == 3 {
			r = float64(final[i]) / 255
			g = float64(final[planeLen+i]) / 255
			b = float64(final[2*planeLen+i]) / 255
		} else {
			v := float64(final[i]) / 255
			r, g, b = v, v, v
		}
		r, g, b = clamp01(r), clamp01(g), clamp01(b)
		l, _, _ := colorful.LinearRgb(r, g, b).Lab()
		out[i] = uint8(clamp01(l) * 255)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
