package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Raster is one channel with its spatial layout preserved. Pixels outside
// the mask are zero, and every raster feature runs over the whole
// Width x Height grid, background included. A small object on a large
// canvas therefore reports lower gradient energy than the same object
// cropped tightly, exactly as the zeroed image would.
type Raster struct {
	// Width is the number of columns of the channel plane
	Width int
	// Height is the number of rows of the channel plane
	Height int
	// Pix holds Width*Height intensities in row-major order, zero where
	// Mask is false
	Pix []float64
	// Mask is the foreground mask of the channel, same layout as Pix
	Mask []bool

	count int
}

// NewRaster builds the zeroed-outside-mask raster of one channel.
//
// Parameters:
//   - width, height: Dimensions of the channel plane
//   - pixels: Row-major intensities, len(pixels) == width*height
//   - mask: Row-major foreground mask with the same layout
//
// Returns:
//   - A raster holding a copy of pixels with every background pixel set to 0
func NewRaster(width, height int, pixels []float64, mask []bool) *Raster {
	r := &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]float64, len(pixels)),
		Mask:   mask,
	}
	for i, on := range mask {
		if on {
			r.Pix[i] = pixels[i]
			r.count++
		}
	}
	return r
}

// Count returns the number of foreground pixels
func (r *Raster) Count() int { return r.count }

// at returns the pixel at (x, y) with coordinates clamped to the raster
func (r *Raster) at(x, y int) float64 {
	x = clamp(x, 0, r.Width-1)
	y = clamp(y, 0, r.Height-1)
	return r.Pix[y*r.Width+x]
}

// rms evaluates f at every pixel of the raster and returns the root mean
// square over all Width*Height positions
func (r *Raster) rms(f func(x, y int) float64) float64 {
	var total float64
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			v := f(x, y)
			total += v * v
		}
	}
	return math.Sqrt(total / float64(r.Width*r.Height))
}

var (
	sobelX = [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	sobelY = [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}
)

// sobelRMS is the root mean square of the Sobel gradient magnitude
// sqrt(Gx² + Gy²) over the whole raster, with borders clamped. The
// boundary between the object and the zeroed background contributes
// most of the energy.
func sobelRMS(r *Raster, _ Params) (float64, error) {
	return r.rms(func(x, y int) float64 {
		var gx, gy float64
		for ky := -1; ky <= 1; ky++ {
			for kx := -1; kx <= 1; kx++ {
				v := r.at(x+kx, y+ky)
				gx += v * sobelX[ky+1][kx+1]
				gy += v * sobelY[ky+1][kx+1]
			}
		}
		return math.Sqrt(gx*gx + gy*gy)
	}), nil
}

// morphologicalGradientRMS returns a feature computing the RMS of the
// morphological gradient, the difference between grey dilation and grey
// erosion with a size x size square structuring element. Even sizes
// anchor the element one pixel left of and above its centre.
//
// Parameters:
//   - size: Side of the square structuring element, 1..9
//
// Returns:
//   - A raster feature averaging the squared gradient over every pixel
func morphologicalGradientRMS(size int) RasterFunc {
	lo, hi := -(size-1)/2, size/2
	return func(r *Raster, _ Params) (float64, error) {
		return r.rms(func(x, y int) float64 {
			dilate, erode := math.Inf(-1), math.Inf(1)
			for dy := lo; dy <= hi; dy++ {
				for dx := lo; dx <= hi; dx++ {
					v := r.at(x+dx, y+dy)
					dilate = math.Max(dilate, v)
					erode = math.Min(erode, v)
				}
			}
			return dilate - erode
		}), nil
	}
}

// tamuraContrast is Tamura's contrast σ / α4^(1/4) over every raster pixel,
// where α4 = μ4 / σ⁴ uses population moments (Tamura, Mori and Yamawaki,
// "Textural Features Corresponding to Visual Perception", 1978). A raster
// without variation has contrast 0.
func tamuraContrast(r *Raster, _ Params) (float64, error) {
	m2 := stat.Moment(2, r.Pix, nil)
	if m2 == 0 {
		return 0, nil
	}
	alpha4 := stat.Moment(4, r.Pix, nil) / (m2 * m2)
	return math.Sqrt(m2) / math.Pow(alpha4, 0.25), nil
}

// rasterWidth is the number of columns of the raster
func rasterWidth(r *Raster, _ Params) (float64, error) {
	return float64(r.Width), nil
}

// rasterHeight is the number of rows of the raster
func rasterHeight(r *Raster, _ Params) (float64, error) {
	return float64(r.Height), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
