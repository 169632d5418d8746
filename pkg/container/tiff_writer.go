package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zlib"
)

// WritePage is one page handed to WriteTIFF; Channels holds one raster
// per channel, each Width*Height*BytesPerSample bytes long
type WritePage struct {
	Width          int
	Height         int
	BytesPerSample int
	Channels       [][]byte
}

// WriteOptions controls how pages are encoded
type WriteOptions struct {
	// Deflate compresses every strip with zlib
	Deflate bool
}

type ifdEntry struct {
	tag    uint16
	typ    uint16
	values []uint32
}

// WriteTIFF encodes pages as a little-endian multi-page TIFF with one strip
// per channel and planar configuration 2
func WriteTIFF(w io.Writer, pages []WritePage, opts WriteOptions) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages to write")
	}

	var buf bytes.Buffer
	buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
	nextPtr := 4

	for i, pg := range pages {
		if err := checkWritePage(pg); err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}

		offsets := make([]uint32, len(pg.Channels))
		counts := make([]uint32, len(pg.Channels))
		for c, data := range pg.Channels {
			strip := data
			if opts.Deflate {
				var z bytes.Buffer
				zw := zlib.NewWriter(&z)
				if _, err := zw.Write(data); err != nil {
					return fmt.Errorf("error compressing page %d channel %d: %w", i, c, err)
				}
				if err := zw.Close(); err != nil {
					return fmt.Errorf("error compressing page %d channel %d: %w", i, c, err)
				}
				strip = z.Bytes()
			}
			pad(&buf)
			offsets[c] = uint32(buf.Len())
			counts[c] = uint32(len(strip))
			buf.Write(strip)
		}

		spp := len(pg.Channels)
		bits := make([]uint32, spp)
		for c := range bits {
			bits[c] = uint32(pg.BytesPerSample * 8)
		}
		compression := uint32(compressionNone)
		if opts.Deflate {
			compression = compressionDeflate
		}
		planar := uint32(planarChunky)
		if spp > 1 {
			planar = planarSeparate
		}

		entries := []ifdEntry{
			{tagImageWidth, typeLong, []uint32{uint32(pg.Width)}},
			{tagImageLength, typeLong, []uint32{uint32(pg.Height)}},
			{tagBitsPerSample, typeShort, bits},
			{tagCompression, typeShort, []uint32{compression}},
			{tagPhotometric, typeShort, []uint32{1}},
			{tagStripOffsets, typeLong, offsets},
			{tagSamplesPerPixel, typeShort, []uint32{uint32(spp)}},
			{tagRowsPerStrip, typeLong, []uint32{uint32(pg.Height)}},
			{tagStripByteCounts, typeLong, counts},
			{tagPlanarConfiguration, typeShort, []uint32{planar}},
		}
		sort.Slice(entries, func(a, b int) bool { return entries[a].tag < entries[b].tag })

		// Out-of-line arrays go before the directory that points at them.
		fields := make([][4]byte, len(entries))
		for j, e := range entries {
			raw := encodeValues(e)
			if len(raw) <= 4 {
				copy(fields[j][:], raw)
				continue
			}
			pad(&buf)
			binary.LittleEndian.PutUint32(fields[j][:], uint32(buf.Len()))
			buf.Write(raw)
		}

		pad(&buf)
		ifdOffset := buf.Len()
		binary.LittleEndian.PutUint32(buf.Bytes()[nextPtr:], uint32(ifdOffset))

		var scratch [12]byte
		binary.LittleEndian.PutUint16(scratch[:2], uint16(len(entries)))
		buf.Write(scratch[:2])
		for j, e := range entries {
			binary.LittleEndian.PutUint16(scratch[0:], e.tag)
			binary.LittleEndian.PutUint16(scratch[2:], e.typ)
			binary.LittleEndian.PutUint32(scratch[4:], uint32(len(e.values)))
			copy(scratch[8:], fields[j][:])
			buf.Write(scratch[:])
		}
		nextPtr = buf.Len()
		buf.Write([]byte{0, 0, 0, 0})
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteTIFFFile writes pages to a file, creating parent directories
func WriteTIFFFile(path string, pages []WritePage, opts WriteOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating container directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTIFF(f, pages, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func checkWritePage(pg WritePage) error {
	if pg.Width <= 0 || pg.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", pg.Width, pg.Height)
	}
	switch pg.BytesPerSample {
	case 1, 2, 4:
	default:
		return fmt.Errorf("unsupported sample width %d", pg.BytesPerSample)
	}
	if len(pg.Channels) == 0 {
		return fmt.Errorf("page has no channels")
	}
	want := pg.Width * pg.Height * pg.BytesPerSample
	for c, data := range pg.Channels {
		if len(data) != want {
			return fmt.Errorf("channel %d has %d bytes, want %d", c, len(data), want)
		}
	}
	return nil
}

func encodeValues(e ifdEntry) []byte {
	switch e.typ {
	case typeShort:
		raw := make([]byte, 2*len(e.values))
		for i, v := range e.values {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
		}
		return raw
	default:
		raw := make([]byte, 4*len(e.values))
		for i, v := range e.values {
			binary.LittleEndian.PutUint32(raw[i*4:], v)
		}
		return raw
	}
}

// pad keeps offsets on word boundaries
func pad(buf *bytes.Buffer) {
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}
}
