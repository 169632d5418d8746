package features

import (
	"math"
)

// Orientation is the direction of the pixel pairs counted by the
// co-occurrence matrix
type Orientation int

const (
	Horizontal Orientation = iota
	Diagonal
	Vertical
	AntiDiagonal
)

// Orientations lists the four canonical directions (0, 45, 90, 135 degrees)
var Orientations = []Orientation{Horizontal, Diagonal, Vertical, AntiDiagonal}

func (o Orientation) String() string {
	switch o {
	case Horizontal:
		return "Horizontal"
	case Diagonal:
		return "Diagonal"
	case Vertical:
		return "Vertical"
	case AntiDiagonal:
		return "AntiDiagonal"
	}
	return "Unknown"
}

// offset returns the displacement of the second pixel of a pair.
// Image rows grow downward, so 45 degrees points up and to the right.
func (o Orientation) offset(distance int) (dx, dy int) {
	switch o {
	case Diagonal:
		return distance, -distance
	case Vertical:
		return 0, -distance
	case AntiDiagonal:
		return -distance, -distance
	default:
		return distance, 0
	}
}

// glcm is a normalised symmetric grey-level co-occurrence matrix. p is
// levels x levels in row-major order and sums to 1.
type glcm struct {
	levels int
	p      []float64
}

func (g *glcm) at(i, j int) float64 { return g.p[i*g.levels+j] }

// quantize maps every raster pixel onto levels grey levels spread over the
// raster's intensity range. Background pixels are zero, so they take part
// in the range and land on the lowest level for non-negative images.
func quantize(r *Raster, levels int) []int {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range r.Pix {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]int, len(r.Pix))
	if hi == lo {
		return out
	}
	for i, v := range r.Pix {
		out[i] = int(math.Round((v - lo) / (hi - lo) * float64(levels-1)))
	}
	return out
}

// newGLCM counts every pair of raster pixels separated by the orientation
// offset, background pairs included, and normalises the symmetric counts
// to probabilities.
//
// Parameters:
//   - r: Zeroed-outside-mask raster
//   - o: Direction of the second pixel of each pair
//   - p: Grey level count and pair distance
//
// Returns:
//   - The co-occurrence matrix, or nil when no pair fits inside the raster
func newGLCM(r *Raster, o Orientation, p Params) *glcm {
	levels := p.HaralickGreyLevels
	q := quantize(r, levels)
	dx, dy := o.offset(p.HaralickDistance)

	counts := make([]float64, levels*levels)
	var pairs float64
	for y := 0; y < r.Height; y++ {
		ny := y + dy
		if ny < 0 || ny >= r.Height {
			continue
		}
		for x := 0; x < r.Width; x++ {
			nx := x + dx
			if nx < 0 || nx >= r.Width {
				continue
			}
			a, b := q[y*r.Width+x], q[ny*r.Width+nx]
			counts[a*levels+b]++
			counts[b*levels+a]++
			pairs += 2
		}
	}
	if pairs == 0 {
		return nil
	}

	for i := range counts {
		counts[i] /= pairs
	}
	return &glcm{levels: levels, p: counts}
}

func (g *glcm) contrast() float64 {
	var c float64
	for i := 0; i < g.levels; i++ {
		for j := 0; j < g.levels; j++ {
			d := float64(i - j)
			c += d * d * g.at(i, j)
		}
	}
	return c
}

func (g *glcm) correlation() float64 {
	var mu float64
	for i := 0; i < g.levels; i++ {
		for j := 0; j < g.levels; j++ {
			mu += float64(i) * g.at(i, j)
		}
	}
	// The matrix is symmetric, so row and column marginals coincide.
	var variance, cov float64
	for i := 0; i < g.levels; i++ {
		for j := 0; j < g.levels; j++ {
			p := g.at(i, j)
			variance += (float64(i) - mu) * (float64(i) - mu) * p
			cov += (float64(i) - mu) * (float64(j) - mu) * p
		}
	}
	if variance == 0 {
		return 0
	}
	return cov / variance
}

func (g *glcm) entropy() float64 {
	var e float64
	for _, p := range g.p {
		if p > 0 {
			e -= p * math.Log(p)
		}
	}
	return e
}

// haralick builds a raster feature from one texture statistic at one
// orientation (Haralick, Shanmugam and Dinstein, "Textural Features for
// Image Classification", 1973). A raster too small to hold a single pair
// at the configured distance yields 0.
func haralick(o Orientation, stat func(*glcm) float64) RasterFunc {
	return func(r *Raster, p Params) (float64, error) {
		g := newGLCM(r, o, p)
		if g == nil {
			return 0, nil
		}
		return stat(g), nil
	}
}
