package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// maskOf parses rows of '#' and '.'
func maskOf(rows ...string) ([]bool, int, int) {
	var mask []bool
	for _, row := range rows {
		for _, c := range row {
			mask = append(mask, c == '#')
		}
	}
	return mask, len(rows[0]), len(rows)
}

func TestPolygonSquare(t *testing.T) {
	mask, w, h := maskOf(
		".....",
		".###.",
		".###.",
		".###.",
		".....",
	)
	p, err := NewPolygon(mask, w, h)
	require.NoError(t, err)

	assert.Len(t, p.Contour, 8)
	assert.Len(t, p.Region, 9)
	assert.Equal(t, Point{1, 1}, p.Contour[0])

	area, _ := polygonArea(p)
	assert.Equal(t, 4.0, area)
	per, _ := polygonPerimeter(p)
	assert.Equal(t, 8.0, per)
	hullArea, _ := convexHullArea(p)
	assert.Equal(t, 4.0, hullArea)
	conv, _ := convexity(p)
	assert.InDelta(t, 1.0, conv, 1e-12)
	circ, _ := circularity(p)
	assert.InDelta(t, math.Pi/4, circ, 1e-12)

	major, _ := majorAxis(p)
	minor, _ := minorAxis(p)
	assert.InDelta(t, 4*math.Sqrt(0.75), major, 1e-9)
	assert.InDelta(t, major, minor, 1e-9)
	ecc, _ := eccentricity(p)
	assert.InDelta(t, 0, ecc, 1e-6)
	elong, _ := mainElongation(p)
	assert.InDelta(t, 0, elong, 1e-9)
}

func TestPolygonConcaveShape(t *testing.T) {
	mask, w, h := maskOf(
		"#...#",
		"#...#",
		"#####",
	)
	p, err := NewPolygon(mask, w, h)
	require.NoError(t, err)

	hullArea, _ := convexHullArea(p)
	area, _ := polygonArea(p)
	assert.Greater(t, hullArea, area)

	conv, _ := convexity(p)
	assert.Less(t, conv, 1.0)
}

func TestPolygonElongated(t *testing.T) {
	mask, w, h := maskOf(
		"##########",
		"##########",
	)
	p, err := NewPolygon(mask, w, h)
	require.NoError(t, err)

	major, _ := majorAxis(p)
	minor, _ := minorAxis(p)
	assert.Greater(t, major, 3*minor)
	ecc, _ := eccentricity(p)
	assert.Greater(t, ecc, 0.9)
}

func TestPolygonDegenerate(t *testing.T) {
	for name, rows := range map[string][]string{
		"single pixel": {"...", ".#.", "..."},
		"line":         {"#", "#", "#"},
		"empty":        {"..", ".."},
	} {
		t.Run(name, func(t *testing.T) {
			mask, w, h := maskOf(rows...)
			_, err := NewPolygon(mask, w, h)
			assert.ErrorIs(t, err, ErrDegenerateContour)
		})
	}
}

func TestHaralickTwoPixels(t *testing.T) {
	mask, w, h := maskOf("##")
	r := NewRaster(w, h, []float64{0, 10}, mask)
	p := Params{HaralickGreyLevels: 2, HaralickDistance: 1, ZernikeOrder: 1, ZernikeRepetition: 1}

	contrast, err := haralick(Horizontal, (*glcm).contrast)(r, p)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, contrast, 1e-12)

	entropy, _ := haralick(Horizontal, (*glcm).entropy)(r, p)
	assert.InDelta(t, math.Ln2, entropy, 1e-12)

	correlation, _ := haralick(Horizontal, (*glcm).correlation)(r, p)
	assert.InDelta(t, -1.0, correlation, 1e-12)

	// No vertical pair fits in a single row.
	vertical, err := haralick(Vertical, (*glcm).contrast)(r, p)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vertical)
}

func TestHaralickCountsBackgroundPairs(t *testing.T) {
	// A constant foreground next to zeroed background still has texture.
	mask, w, h := maskOf("##.")
	r := NewRaster(w, h, []float64{10, 10, 99}, mask)
	p := Params{HaralickGreyLevels: 2, HaralickDistance: 1}

	g := newGLCM(r, Horizontal, p)
	require.NotNil(t, g)
	assert.Equal(t, []float64{0, 0.25, 0.25, 0.5}, g.p)
	assert.InDelta(t, 0.5, g.contrast(), 1e-12)
	assert.InDelta(t, 1.5*math.Ln2, g.entropy(), 1e-12)
}

func TestHaralickConstantRegion(t *testing.T) {
	mask, w, h := maskOf("####", "####", "####", "####")
	r := NewRaster(w, h, make([]float64, 16), mask)
	p := Params{HaralickGreyLevels: 8, HaralickDistance: 1}

	for _, o := range Orientations {
		g := newGLCM(r, o, p)
		require.NotNil(t, g, o.String())
		assert.Equal(t, 0.0, g.contrast())
		assert.Equal(t, 0.0, g.entropy())
		assert.Equal(t, 0.0, g.correlation())
	}
}

func TestZernike(t *testing.T) {
	assert.NoError(t, checkZernike(3, 1))
	assert.NoError(t, checkZernike(4, -2))
	assert.Error(t, checkZernike(3, 2))
	assert.Error(t, checkZernike(1, 3))
	assert.Error(t, checkZernike(-1, 1))

	assert.InDelta(t, 1.0, radial(0, 0, 0.3), 1e-12)
	assert.InDelta(t, 3*0.125-2*0.5, radial(3, 1, 0.5), 1e-12)

	// A uniform square covers 4wh / π(w²+h²) of the unit disk.
	ones := make([]float64, 21*21)
	full := make([]bool, len(ones))
	for i := range ones {
		ones[i], full[i] = 1, true
	}
	a00 := zernikeMoment(NewRaster(21, 21, ones, full), 0, 0)
	assert.InDelta(t, 2/math.Pi, real(a00), 1e-12)
	assert.InDelta(t, 0, imag(a00), 1e-12)

	// A disk centred on the raster has almost no first-order asymmetry.
	var rows []string
	for y := 0; y < 21; y++ {
		row := make([]byte, 21)
		for x := range row {
			row[x] = '.'
			if (x-10)*(x-10)+(y-10)*(y-10) <= 100 {
				row[x] = '#'
			}
		}
		rows = append(rows, string(row))
	}
	mask, w, h := maskOf(rows...)
	r := NewRaster(w, h, ones, mask)
	mag, err := zernikeMagnitude(r, Params{ZernikeOrder: 1, ZernikeRepetition: 1})
	require.NoError(t, err)
	assert.Less(t, mag, 1e-9)

	// Moving the object off centre breaks the symmetry.
	shifted := make([]bool, len(mask))
	for i, on := range mask {
		if on && i%w > 0 {
			shifted[i-1] = true
		}
	}
	mag, err = zernikeMagnitude(NewRaster(w, h, ones, shifted), Params{ZernikeOrder: 1, ZernikeRepetition: 1})
	require.NoError(t, err)
	assert.Greater(t, mag, 1e-3)
}

func TestRasterFeatures(t *testing.T) {
	mask, w, h := maskOf(
		"......",
		"..###.",
		"..###.",
		"......",
	)
	flat := make([]float64, len(mask))
	for i := range flat {
		flat[i] = 7
	}
	r := NewRaster(w, h, flat, mask)
	assert.Equal(t, 6, r.Count())

	width, err := rasterWidth(r, Params{})
	require.NoError(t, err)
	assert.Equal(t, 6.0, width)
	height, _ := rasterHeight(r, Params{})
	assert.Equal(t, 4.0, height)

	// Zeroed background produces edges along the boundary.
	sobel, _ := sobelRMS(r, Params{})
	assert.Greater(t, sobel, 0.0)

	full := NewRaster(2, 2, []float64{3, 3, 3, 3}, []bool{true, true, true, true})
	sobel, _ = sobelRMS(full, Params{})
	assert.Equal(t, 0.0, sobel)

	grad1, _ := morphologicalGradientRMS(1)(r, Params{})
	assert.Equal(t, 0.0, grad1)
	// 20 of the 24 windows straddle the object boundary.
	grad3, _ := morphologicalGradientRMS(3)(r, Params{})
	assert.InDelta(t, 7*math.Sqrt(20.0/24.0), grad3, 1e-12)

	tamura, _ := tamuraContrast(full, Params{})
	assert.Equal(t, 0.0, tamura)
	varied := NewRaster(2, 2, []float64{1, 2, 3, 4}, []bool{true, true, true, true})
	tamura, _ = tamuraContrast(varied, Params{})
	assert.InDelta(t, math.Sqrt(1.25)/math.Pow(1.64, 0.25), tamura, 1e-12)

	// Background zeros count: {0, 8} has σ = 4 and α4 = 1.
	half := NewRaster(2, 1, []float64{0, 8}, []bool{false, true})
	tamura, _ = tamuraContrast(half, Params{})
	assert.InDelta(t, 4.0, tamura, 1e-12)
}

func TestRasterFeaturesCoverWholeRaster(t *testing.T) {
	mask, w, h := maskOf(
		".....",
		".###.",
		".###.",
		".###.",
		".....",
	)
	ones := make([]float64, len(mask))
	for i := range ones {
		ones[i] = 1
	}
	r := NewRaster(w, h, ones, mask)

	width, _ := rasterWidth(r, Params{})
	height, _ := rasterHeight(r, Params{})
	assert.Equal(t, 5.0, width)
	assert.Equal(t, 5.0, height)

	// Squared Sobel magnitudes sum to 288 over the 25 pixels.
	sobel, err := sobelRMS(r, Params{})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(288.0/25.0), sobel, 1e-12)

	// With the default distance of 5 no pair fits in a 5x5 raster.
	contrast, err := haralick(Horizontal, (*glcm).contrast)(r, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 0.0, contrast)
}
