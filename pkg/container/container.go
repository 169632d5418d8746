// Package container gives random per-plane access to multi-plane image
// containers. A container holds an ordered sequence of 2D planes, each of
// which carries one raster per channel.
package container

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPlaneRange is returned when a plane index is outside the container
	ErrPlaneRange = errors.New("plane index out of range")

	// ErrChannelRange is returned when a channel is not present in a plane
	ErrChannelRange = errors.New("channel out of range")

	// ErrClosed is returned by operations on a closed container
	ErrClosed = errors.New("container is closed")
)

// Plane is one decoded raster for a single (plane index, channel) pair.
// Data holds the raw little-endian samples in row-major order.
type Plane struct {
	Width          int
	Height         int
	BytesPerSample int
	Data           []byte
}

// SampleCount returns the number of samples the plane declares
func (p *Plane) SampleCount() int {
	return p.Width * p.Height
}

// Container is an open handle over a multi-plane image file
type Container interface {
	// Path returns the location the container was opened from
	Path() string

	// PlaneCount returns the number of planes in the container
	PlaneCount() int

	// ChannelCount returns the number of channels every plane carries
	ChannelCount() int

	// OpenPlane reads the raster of one channel of one plane
	OpenPlane(index, channel int) (*Plane, error)

	// Close releases the underlying resources
	Close() error
}

// Opener opens the container stored at path
type Opener func(path string) (Container, error)

// Open picks a reader based on the file extension. Only TIFF containers
// are supported on disk.
func Open(path string) (Container, error) {
	switch ext := strings.ToLower(extension(path)); ext {
	case ".tif", ".tiff", ".ome.tif", ".ome.tiff":
		return OpenTIFF(path)
	default:
		return nil, fmt.Errorf("unsupported container format %q", ext)
	}
}

func extension(path string) string {
	lower := strings.ToLower(path)
	for _, ext := range []string{".ome.tiff", ".ome.tif"} {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsAny(path[i:], `/\`) {
		return path[i:]
	}
	return ""
}
