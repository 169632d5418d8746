package features

import (
	"fmt"
	"math"
	"math/cmplx"
)

// checkZernike verifies that the order/repetition pair defines a moment
func checkZernike(n, m int) error {
	if n < 0 {
		return fmt.Errorf("order must be non-negative, got %d", n)
	}
	if abs(m) > n {
		return fmt.Errorf("repetition %d exceeds order %d", m, n)
	}
	if (n-abs(m))%2 != 0 {
		return fmt.Errorf("order %d minus repetition %d must be even", n, m)
	}
	return nil
}

// radial evaluates the Zernike radial polynomial R_nm at rho
func radial(n, m int, rho float64) float64 {
	m = abs(m)
	var r float64
	for s := 0; s <= (n-m)/2; s++ {
		c := factorial(n-s) / (factorial(s) * factorial((n+m)/2-s) * factorial((n-m)/2-s))
		if s%2 == 1 {
			c = -c
		}
		r += c * math.Pow(rho, float64(n-2*s))
	}
	return r
}

// zernikeMoment maps the whole raster onto the unit disk centred on the
// raster centre, with the radius reaching the outer corners, and returns
// the complex moment A_nm of the pixel intensities
//
//	A_nm = (n+1)/π · Σ f(x,y) · R_nm(ρ) · e^(-imθ) / radius²
//
// Background pixels are zero and add nothing to the sum.
func zernikeMoment(r *Raster, n, m int) complex128 {
	cx := float64(r.Width-1) / 2
	cy := float64(r.Height-1) / 2
	radius := math.Hypot(float64(r.Width), float64(r.Height)) / 2

	var acc complex128
	for i, v := range r.Pix {
		if v == 0 {
			continue
		}
		dx := (float64(i%r.Width) - cx) / radius
		dy := (float64(i/r.Width) - cy) / radius
		rho := math.Hypot(dx, dy)
		theta := math.Atan2(dy, dx)
		acc += complex(v*radial(n, m, rho), 0) * cmplx.Exp(complex(0, -float64(m)*theta))
	}

	scale := float64(n+1) / math.Pi / (radius * radius)
	return acc * complex(scale, 0)
}

// zernikeMagnitude is |A_nm| for the configured order and repetition
func zernikeMagnitude(r *Raster, p Params) (float64, error) {
	if err := checkZernike(p.ZernikeOrder, p.ZernikeRepetition); err != nil {
		return 0, err
	}
	return cmplx.Abs(zernikeMoment(r, p.ZernikeOrder, p.ZernikeRepetition)), nil
}

// zernikePhase is the argument of the moment in radians
func zernikePhase(r *Raster, p Params) (float64, error) {
	if err := checkZernike(p.ZernikeOrder, p.ZernikeRepetition); err != nil {
		return 0, err
	}
	return cmplx.Phase(zernikeMoment(r, p.ZernikeOrder, p.ZernikeRepetition)), nil
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
