package container

import (
	"fmt"
	"os"
)

// Memory is a container held entirely in memory. Each entry of planes is
// one plane index with one Plane per channel.
type Memory struct {
	path   string
	planes [][]Plane
	closed bool
}

// NewMemory builds an in-memory container
func NewMemory(path string, planes ...[]Plane) *Memory {
	return &Memory{path: path, planes: planes}
}

// Path returns the name the container was created with
func (m *Memory) Path() string { return m.path }

// PlaneCount returns the number of planes
func (m *Memory) PlaneCount() int { return len(m.planes) }

// ChannelCount returns the channel count of the first plane
func (m *Memory) ChannelCount() int {
	if len(m.planes) == 0 {
		return 0
	}
	return len(m.planes[0])
}

// OpenPlane returns a copy of the requested raster
func (m *Memory) OpenPlane(index, channel int) (*Plane, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if index < 0 || index >= len(m.planes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPlaneRange, index, len(m.planes))
	}
	if channel < 0 || channel >= len(m.planes[index]) {
		return nil, fmt.Errorf("%w: %d of %d", ErrChannelRange, channel, len(m.planes[index]))
	}
	src := m.planes[index][channel]
	p := src
	p.Data = append([]byte(nil), src.Data...)
	return &p, nil
}

// Close marks the container closed
func (m *Memory) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close has been called
func (m *Memory) Closed() bool { return m.closed }

// MemoryOpener returns an Opener that serves the given containers by path.
// Unknown paths fail with os.ErrNotExist.
func MemoryOpener(containers ...*Memory) Opener {
	byPath := make(map[string]*Memory, len(containers))
	for _, c := range containers {
		byPath[c.path] = c
	}
	return func(path string) (Container, error) {
		c, ok := byPath[path]
		if !ok {
			return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
		}
		c.closed = false
		return c, nil
	}
}
