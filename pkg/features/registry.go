// Package features computes named per-channel statistics of the foreground
// of an image record.
//
// Every feature declares the input shape it consumes:
//   - ShapeSamples: the multiset of foreground intensities
//   - ShapeRaster: the whole channel raster with background zeroed
//   - ShapePolygon: the traced outer contour of the mask
//   - ShapeMask: the raw boolean mask
//
// Names are resolved once when an Engine is built, so an unknown name is a
// configuration error rather than a per-record failure.
package features

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape is the kind of input a feature function consumes
type Shape int

const (
	ShapeSamples Shape = iota
	ShapeRaster
	ShapePolygon
	ShapeMask
)

func (s Shape) String() string {
	switch s {
	case ShapeSamples:
		return "samples"
	case ShapeRaster:
		return "raster"
	case ShapePolygon:
		return "polygon"
	case ShapeMask:
		return "mask"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// Function signatures, one per shape
type (
	SampleFunc  func(samples []float64) (float64, error)
	RasterFunc  func(r *Raster, p Params) (float64, error)
	PolygonFunc func(p *Polygon) (float64, error)
	MaskFunc    func(mask []bool, width, height int) (float64, error)
)

// Params holds the tunable parameters of the texture and moment features
type Params struct {
	// HaralickGreyLevels is the number of grey levels the raster is
	// quantised to before the co-occurrence matrix is counted
	HaralickGreyLevels int
	// HaralickDistance is the pixel distance between the two members of
	// a co-occurring pair
	HaralickDistance int
	// ZernikeOrder is the order n of the Zernike moment
	ZernikeOrder int
	// ZernikeRepetition is the repetition m of the Zernike moment, with
	// |m| <= n and n - |m| even
	ZernikeRepetition int
}

// DefaultParams returns the standard parameter set
func DefaultParams() Params {
	return Params{
		HaralickGreyLevels: 50,
		HaralickDistance:   5,
		ZernikeOrder:       3,
		ZernikeRepetition:  1,
	}
}

// Validate checks the parameters
func (p Params) Validate() error {
	if p.HaralickGreyLevels < 2 {
		return fmt.Errorf("haralick grey levels must be at least 2, got %d", p.HaralickGreyLevels)
	}
	if p.HaralickDistance < 1 {
		return fmt.Errorf("haralick distance must be positive, got %d", p.HaralickDistance)
	}
	return checkZernike(p.ZernikeOrder, p.ZernikeRepetition)
}

// GradientPrefix introduces the morphological gradient feature, whose
// structuring element size follows the colon, e.g. "gradientRMS:3"
const GradientPrefix = "gradientRMS:"

// maxGradientSize bounds the single-digit structuring element size
const maxGradientSize = 9

// feature is one resolved registry entry
type feature struct {
	name    string
	shape   Shape
	sample  SampleFunc
	raster  RasterFunc
	polygon PolygonFunc
	mask    MaskFunc
}

// registry maps names to implementations per input shape
type registry struct {
	order   []string
	shapes  map[string]Shape
	samples map[string]SampleFunc
	rasters map[string]RasterFunc
	polys   map[string]PolygonFunc
	masks   map[string]MaskFunc
	groups  map[string][]string
}

func (r *registry) addSample(name string, f SampleFunc) {
	r.order = append(r.order, name)
	r.shapes[name] = ShapeSamples
	r.samples[name] = f
}

func (r *registry) addRaster(name string, f RasterFunc) {
	r.order = append(r.order, name)
	r.shapes[name] = ShapeRaster
	r.rasters[name] = f
}

func (r *registry) addPolygon(name string, f PolygonFunc) {
	r.order = append(r.order, name)
	r.shapes[name] = ShapePolygon
	r.polys[name] = f
}

func (r *registry) addMask(name string, f MaskFunc) {
	r.order = append(r.order, name)
	r.shapes[name] = ShapeMask
	r.masks[name] = f
}

// addHaralick registers one statistic at every orientation and a group
// name that expands to all four
func (r *registry) addHaralick(group string, stat func(*glcm) float64) {
	for _, o := range Orientations {
		name := group + o.String()
		r.addRaster(name, haralick(o, stat))
		r.groups[group] = append(r.groups[group], name)
	}
}

var defaultRegistry = newRegistry()

func newRegistry() *registry {
	r := &registry{
		shapes:  make(map[string]Shape),
		samples: make(map[string]SampleFunc),
		rasters: make(map[string]RasterFunc),
		polys:   make(map[string]PolygonFunc),
		masks:   make(map[string]MaskFunc),
		groups:  make(map[string][]string),
	}

	r.addSample("mean", mean)
	r.addSample("geometricMean", geometricMean)
	r.addSample("harmonicMean", harmonicMean)
	r.addSample("stdDev", stdDev)
	r.addSample("median", median)
	r.addSample("sum", sum)
	r.addSample("min", minimum)
	r.addSample("max", maximum)
	r.addSample("skewness", skewness)
	r.addSample("kurtosis", kurtosis)
	r.addSample("moment3AboutMean", moment3AboutMean)
	r.addSample("mad", meanAbsoluteDeviation)

	r.addHaralick("haralickContrast", (*glcm).contrast)
	r.addHaralick("haralickCorrelation", (*glcm).correlation)
	r.addHaralick("haralickEntropy", (*glcm).entropy)
	r.addRaster("zernikeMagnitude", zernikeMagnitude)
	r.addRaster("zernikePhase", zernikePhase)
	r.addRaster("sobelRMS", sobelRMS)
	r.addRaster("tamuraContrast", tamuraContrast)
	r.addRaster("width", rasterWidth)
	r.addRaster("height", rasterHeight)

	r.addPolygon("eccentricity", eccentricity)
	r.addPolygon("circularity", circularity)
	r.addPolygon("roundness", roundness)
	r.addPolygon("convexity", convexity)
	r.addPolygon("area", polygonArea)
	r.addPolygon("convexHullArea", convexHullArea)
	r.addPolygon("perimeter", polygonPerimeter)
	r.addPolygon("majorAxis", majorAxis)
	r.addPolygon("minorAxis", minorAxis)
	r.addPolygon("mainElongation", mainElongation)

	r.addMask("size", maskSize)

	return r
}

// resolve expands name into registry entries. Group names expand to every
// orientation; parameterised names build their function on the fly.
func (r *registry) resolve(name string) ([]feature, error) {
	if members, ok := r.groups[name]; ok {
		out := make([]feature, 0, len(members))
		for _, m := range members {
			f, err := r.resolve(m)
			if err != nil {
				return nil, err
			}
			out = append(out, f...)
		}
		return out, nil
	}

	if strings.HasPrefix(name, GradientPrefix) {
		size, err := strconv.Atoi(strings.TrimPrefix(name, GradientPrefix))
		if err != nil || size < 1 || size > maxGradientSize {
			return nil, fmt.Errorf("invalid structuring element size in %q", name)
		}
		return []feature{{name: name, shape: ShapeRaster, raster: morphologicalGradientRMS(size)}}, nil
	}

	shape, ok := r.shapes[name]
	if !ok {
		return nil, fmt.Errorf("unknown feature %q", name)
	}
	f := feature{name: name, shape: shape}
	switch shape {
	case ShapeSamples:
		f.sample = r.samples[name]
	case ShapeRaster:
		f.raster = r.rasters[name]
	case ShapePolygon:
		f.polygon = r.polys[name]
	case ShapeMask:
		f.mask = r.masks[name]
	}
	return []feature{f}, nil
}

// Descriptor describes one registered feature
type Descriptor struct {
	Name  string
	Shape Shape
	Group string
}

// Catalog lists every registered feature in registration order. The
// parameterised morphological gradient is listed by its prefix.
func Catalog() []Descriptor {
	groupOf := make(map[string]string)
	for g, members := range defaultRegistry.groups {
		for _, m := range members {
			groupOf[m] = g
		}
	}

	out := make([]Descriptor, 0, len(defaultRegistry.order)+1)
	for _, name := range defaultRegistry.order {
		out = append(out, Descriptor{Name: name, Shape: defaultRegistry.shapes[name], Group: groupOf[name]})
	}
	return append(out, Descriptor{Name: GradientPrefix + "<size>", Shape: ShapeRaster})
}

func maskSize(mask []bool, _, _ int) (float64, error) {
	n := 0
	for _, on := range mask {
		if on {
			n++
		}
	}
	return float64(n), nil
}
