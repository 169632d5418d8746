package container

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rampPage creates a page whose channel c holds x + y*width + c*100
func rampPage(width, height, bps, channels int) WritePage {
	pg := WritePage{Width: width, Height: height, BytesPerSample: bps}
	for c := 0; c < channels; c++ {
		values := make([]uint32, width*height)
		for i := range values {
			values[i] = uint32(i + c*100)
		}
		pg.Channels = append(pg.Channels, EncodeSamples(values, bps))
	}
	return pg
}

func TestTIFFRoundTrip(t *testing.T) {
	for _, deflate := range []bool{false, true} {
		name := "raw"
		if deflate {
			name = "deflate"
		}
		t.Run(name, func(t *testing.T) {
			pages := []WritePage{
				rampPage(5, 3, 2, 2),
				rampPage(5, 3, 2, 2),
				rampPage(5, 3, 2, 2),
			}
			var buf bytes.Buffer
			require.NoError(t, WriteTIFF(&buf, pages, WriteOptions{Deflate: deflate}))

			c, err := NewTIFF("mem.tif", bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			defer c.Close()

			assert.Equal(t, 3, c.PlaneCount())
			assert.Equal(t, 2, c.ChannelCount())
			assert.Equal(t, "mem.tif", c.Path())

			for i := range pages {
				for ch := 0; ch < 2; ch++ {
					plane, err := c.OpenPlane(i, ch)
					require.NoError(t, err)
					assert.Equal(t, 5, plane.Width)
					assert.Equal(t, 3, plane.Height)
					assert.Equal(t, 2, plane.BytesPerSample)
					assert.Equal(t, pages[i].Channels[ch], plane.Data)
				}
			}
		})
	}
}

func TestTIFFSingleChannel8Bit(t *testing.T) {
	mask := []bool{false, true, true, false, true, false}
	pages := []WritePage{{Width: 3, Height: 2, BytesPerSample: 1, Channels: [][]byte{EncodeMask(mask)}}}

	var buf bytes.Buffer
	require.NoError(t, WriteTIFF(&buf, pages, WriteOptions{}))

	c, err := NewTIFF("mask.tif", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	plane, err := c.OpenPlane(0, 0)
	require.NoError(t, err)
	got, err := DecodeMask(plane.Data, plane.BytesPerSample)
	require.NoError(t, err)
	assert.Equal(t, mask, got)
}

func TestTIFFErrors(t *testing.T) {
	_, err := NewTIFF("bad.tif", bytes.NewReader([]byte("MM\x00\x2a\x00\x00\x00\x08")))
	assert.ErrorIs(t, err, errNotTIFF)

	var buf bytes.Buffer
	require.NoError(t, WriteTIFF(&buf, []WritePage{rampPage(2, 2, 2, 1)}, WriteOptions{}))
	c, err := NewTIFF("ok.tif", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	_, err = c.OpenPlane(1, 0)
	assert.ErrorIs(t, err, ErrPlaneRange)
	_, err = c.OpenPlane(0, 1)
	assert.ErrorIs(t, err, ErrChannelRange)

	require.NoError(t, c.Close())
	_, err = c.OpenPlane(0, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriteTIFFRejectsBadPages(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteTIFF(&buf, nil, WriteOptions{}))

	pg := rampPage(2, 2, 2, 1)
	pg.Channels[0] = pg.Channels[0][:3]
	assert.Error(t, WriteTIFF(&buf, []WritePage{pg}, WriteOptions{}))

	pg = rampPage(2, 2, 3, 1)
	assert.Error(t, WriteTIFF(&buf, []WritePage{pg}, WriteOptions{}))
}

func TestOpenFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cells.ome.tif")
	require.NoError(t, WriteTIFFFile(path, []WritePage{rampPage(4, 4, 2, 3)}, WriteOptions{Deflate: true}))

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 3, c.ChannelCount())

	plane, err := c.OpenPlane(0, 2)
	require.NoError(t, err)
	samples, err := DecodeSamples(plane.Data, plane.BytesPerSample)
	require.NoError(t, err)
	assert.Equal(t, 200.0, samples[0])
	assert.Equal(t, 215.0, samples[15])

	_, err = Open(filepath.Join(dir, "missing.tif"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = Open(filepath.Join(dir, "cells.cif"))
	assert.Error(t, err)
}

func TestMemoryContainer(t *testing.T) {
	plane := Plane{Width: 2, Height: 1, BytesPerSample: 1, Data: []byte{1, 2}}
	m := NewMemory("m", []Plane{plane})
	open := MemoryOpener(m)

	c, err := open("m")
	require.NoError(t, err)
	p, err := c.OpenPlane(0, 0)
	require.NoError(t, err)
	p.Data[0] = 9
	assert.Equal(t, byte(1), plane.Data[0])

	require.NoError(t, c.Close())
	assert.True(t, m.Closed())
	_, err = c.OpenPlane(0, 0)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = open("other")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecodeSamples(t *testing.T) {
	got, err := DecodeSamples([]byte{0x01, 0x02, 0xff, 0xff}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{513, 65535}, got)

	got, err = DecodeSamples(EncodeSamples([]uint32{70000, 3}, 4), 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{70000, 3}, got)

	_, err = DecodeSamples([]byte{1, 2, 3}, 2)
	assert.Error(t, err)
	_, err = DecodeSamples([]byte{1, 2, 3}, 3)
	assert.Error(t, err)
}
