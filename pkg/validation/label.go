// Package validation checks that every channel mask of a record holds at
// most one 8-connected foreground object.
package validation

// point is a pixel coordinate on the flood-fill stack
type point struct {
	x, y int
}

// Labeling is the result of connected-component labelling of one mask
type Labeling struct {
	// Labels holds the component of every pixel, 0 for background.
	// Components are numbered from 1 in row-major discovery order.
	Labels []int32

	// Sizes[i] is the pixel count of component i+1
	Sizes []int
}

// Count returns the number of non-empty components
func (l Labeling) Count() int {
	n := 0
	for _, s := range l.Sizes {
		if s > 0 {
			n++
		}
	}
	return n
}

// Largest returns the label of the biggest component, 0 when there is none
func (l Labeling) Largest() int32 {
	best, label := 0, int32(0)
	for i, s := range l.Sizes {
		if s > best {
			best, label = s, int32(i+1)
		}
	}
	return label
}

// Label assigns a component to every foreground pixel of a width x height
// row-major mask. Pixels touching horizontally, vertically or diagonally
// belong to the same component. The fill uses an explicit stack so large
// masks cannot exhaust the goroutine stack.
func Label(mask []bool, width, height int) Labeling {
	labels := make([]int32, width*height)
	var sizes []int
	var stack []point

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if !mask[idx] || labels[idx] != 0 {
				continue
			}

			sizes = append(sizes, 0)
			label := int32(len(sizes))
			stack = append(stack[:0], point{x, y})
			labels[idx] = label

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				sizes[label-1]++

				// 8-connected neighbors
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						nx, ny := p.x+dx, p.y+dy
						if nx < 0 || nx >= width || ny < 0 || ny >= height {
							continue
						}
						n := ny*width + nx
						if mask[n] && labels[n] == 0 {
							labels[n] = label
							stack = append(stack, point{nx, ny})
						}
					}
				}
			}
		}
	}

	return Labeling{Labels: labels, Sizes: sizes}
}
