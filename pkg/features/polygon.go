package features

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"maskfeat/pkg/validation"
)

// ErrDegenerateContour is returned when the outer contour does not enclose
// any area, e.g. for single pixels and one-pixel-wide lines
var ErrDegenerateContour = errors.New("degenerate contour")

// Point is a pixel centre
type Point struct {
	X, Y float64
}

// Polygon is the outer contour of the largest mask component, traced
// through pixel centres, together with the component's pixels
type Polygon struct {
	Contour []Point
	Region  []Point

	area      float64
	perimeter float64
	hull      []Point
	axes      [2]float64
}

// moore lists the 8 neighbours clockwise (rows grow downward), starting east
var moore = [8][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}

func mooreIndex(dx, dy int) int {
	for i, d := range moore {
		if d[0] == dx && d[1] == dy {
			return i
		}
	}
	return -1
}

// NewPolygon traces the outer boundary of the largest component of mask
// by Moore-neighbour following and precomputes the shape descriptors
func NewPolygon(mask []bool, width, height int) (*Polygon, error) {
	labeling := validation.Label(mask, width, height)
	label := labeling.Largest()
	if label == 0 {
		return nil, fmt.Errorf("%w: empty mask", ErrDegenerateContour)
	}
	inside := func(x, y int) bool {
		return x >= 0 && x < width && y >= 0 && y < height && labeling.Labels[y*width+x] == label
	}

	poly := &Polygon{}
	start := -1
	for i, l := range labeling.Labels {
		if l != label {
			continue
		}
		if start < 0 {
			start = i
		}
		poly.Region = append(poly.Region, Point{float64(i % width), float64(i / width)})
	}

	poly.Contour = traceContour(inside, start%width, start/width, 4*width*height+8)
	poly.area = shoelace(poly.Contour)
	if len(poly.Contour) < 3 || poly.area == 0 {
		return nil, fmt.Errorf("%w: %d contour points", ErrDegenerateContour, len(poly.Contour))
	}
	poly.perimeter = perimeter(poly.Contour)
	poly.hull = convexHull(poly.Contour)

	axes, err := ellipseAxes(poly.Region)
	if err != nil {
		return nil, err
	}
	poly.axes = axes
	return poly, nil
}

// traceContour follows the boundary clockwise from the first foreground
// pixel in row-major order, whose west neighbour is background. It stops
// when the first move is about to be repeated.
func traceContour(inside func(x, y int) bool, sx, sy, limit int) []Point {
	contour := []Point{{float64(sx), float64(sy)}}
	x, y := sx, sy
	back := 4 // west

	firstX, firstY := -1, -1
	for step := 0; step < limit; step++ {
		found := false
		for i := 1; i <= 8; i++ {
			d := (back + i) % 8
			nx, ny := x+moore[d][0], y+moore[d][1]
			if !inside(nx, ny) {
				continue
			}

			if x == sx && y == sy {
				if firstX < 0 {
					firstX, firstY = nx, ny
				} else if nx == firstX && ny == firstY {
					return contour
				}
			}

			// The last background cell checked becomes the new backtrack.
			prev := (back + i - 1) % 8
			px, py := x+moore[prev][0], y+moore[prev][1]
			back = mooreIndex(px-nx, py-ny)
			x, y = nx, ny
			found = true
			break
		}
		if !found {
			// isolated pixel
			return contour
		}
		if x == sx && y == sy {
			continue
		}
		contour = append(contour, Point{float64(x), float64(y)})
	}
	return contour
}

func shoelace(pts []Point) float64 {
	var a float64
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(a) / 2
}

func perimeter(pts []Point) float64 {
	var p float64
	for i := range pts {
		j := (i + 1) % len(pts)
		p += math.Hypot(pts[j].X-pts[i].X, pts[j].Y-pts[i].Y)
	}
	return p
}

// convexHull computes the hull with Andrew's monotone chain
func convexHull(pts []Point) []Point {
	sorted := append([]Point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	if len(sorted) < 3 {
		return sorted
	}

	cross := func(o, a, b Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	hull := make([]Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// ellipseAxes returns the major and minor axis lengths of the ellipse with
// the same second moments as the region. Each pixel counts as a unit square.
func ellipseAxes(region []Point) ([2]float64, error) {
	n := float64(len(region))
	var cx, cy float64
	for _, p := range region {
		cx += p.X
		cy += p.Y
	}
	cx /= n
	cy /= n

	var sxx, syy, sxy float64
	for _, p := range region {
		dx, dy := p.X-cx, p.Y-cy
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	cov := mat.NewSymDense(2, []float64{
		sxx/n + 1.0/12, sxy / n,
		sxy / n, syy/n + 1.0/12,
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, false); !ok {
		return [2]float64{}, fmt.Errorf("eigen decomposition of region moments failed")
	}
	values := eig.Values(nil)
	sort.Float64s(values)
	return [2]float64{4 * math.Sqrt(values[1]), 4 * math.Sqrt(values[0])}, nil
}

func polygonArea(p *Polygon) (float64, error) { return p.area, nil }

func polygonPerimeter(p *Polygon) (float64, error) { return p.perimeter, nil }

func convexHullArea(p *Polygon) (float64, error) { return shoelace(p.hull), nil }

func majorAxis(p *Polygon) (float64, error) { return p.axes[0], nil }

func minorAxis(p *Polygon) (float64, error) { return p.axes[1], nil }

// circularity is 4*pi*area/perimeter^2, capped at 1
func circularity(p *Polygon) (float64, error) {
	return math.Min(1, 4*math.Pi*p.area/(p.perimeter*p.perimeter)), nil
}

// convexity is the hull perimeter over the contour perimeter
func convexity(p *Polygon) (float64, error) {
	return perimeter(p.hull) / p.perimeter, nil
}

// roundness is 4*area/(pi*major^2)
func roundness(p *Polygon) (float64, error) {
	return 4 * p.area / (math.Pi * p.axes[0] * p.axes[0]), nil
}

func eccentricity(p *Polygon) (float64, error) {
	ratio := p.axes[1] / p.axes[0]
	return math.Sqrt(math.Max(0, 1-ratio*ratio)), nil
}

// mainElongation is 1 - minor/major
func mainElongation(p *Polygon) (float64, error) {
	return 1 - p.axes[1]/p.axes[0], nil
}
