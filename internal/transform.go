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

import "gonum.org/v1/gonum/mat"

// Transform2D is an affine map x' = A*x + B*y + C, y' = D*x + E*y + F.
// Adapted from the teacher's star-triangle aligner (internal/star/align.go,
// Transform2D/NewTransform2D), which solves the same six coefficients from
// three point correspondences. This spec only ever needs the exact 3-point
// solution (a triangle's vertices map exactly to their counterparts), not a
// least-squares fit over many points, so NewTransform2D solves a single
// shared 3x3 system for both coordinate axes rather than reaching for
// gonum/optimize as the teacher does for its many-star residual
// minimization.
type Transform2D struct {
	A, B, C float64
	D, E, F float64
}

// IdentityTransform2D returns the transform that maps every point to itself.
func IdentityTransform2D() Transform2D {
	return Transform2D{A: 1, B: 0, C: 0, D: 0, E: 1, F: 0}
}

// NewTransform2D solves for the affine transform sending p1,p2,p3 to
// p1p,p2p,p3p exactly. Returns an error if the three source points are
// collinear (degenerate triangle, zero area).
func NewTransform2D(p1, p2, p3, p1p, p2p, p3p FloatPoint) (Transform2D, error) {
	m := mat.NewDense(3, 3, []float64{
		float64(p1.X), float64(p1.Y), 1,
		float64(p2.X), float64(p2.Y), 1,
		float64(p3.X), float64(p3.Y), 1,
	})
	if mat.Det(m) == 0 {
		return Transform2D{}, newError(KindInvalidParameters, "degenerate triangle for affine transform")
	}

	rhs := mat.NewDense(3, 2, []float64{
		float64(p1p.X), float64(p1p.Y),
		float64(p2p.X), float64(p2p.Y),
		float64(p3p.X), float64(p3p.Y),
	})

	var coeffs mat.Dense
	if err := coeffs.Solve(m, rhs); err != nil {
		return Transform2D{}, newError(KindInvalidParameters, "degenerate triangle for affine transform")
	}

	return Transform2D{
		A: coeffs.At(0, 0), B: coeffs.At(1, 0), C: coeffs.At(2, 0),
		D: coeffs.At(0, 1), E: coeffs.At(1, 1), F: coeffs.At(2, 1),
	}, nil
}

// Apply maps a point through the transform.
func (t Transform2D) Apply(p FloatPoint) FloatPoint {
	x := float64(p.X)
	y := float64(p.Y)
	return FloatPoint{
		X: float32(t.A*x + t.B*y + t.C),
		Y: float32(t.D*x + t.E*y + t.F),
	}
}
