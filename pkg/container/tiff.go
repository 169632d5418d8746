package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
)

// TIFF tags understood by the reader
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
)

// TIFF field types
const (
	typeByte  = 1
	typeShort = 3
	typeLong  = 4
)

// Compression schemes
const (
	compressionNone       = 1
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

// Planar configurations
const (
	planarChunky   = 1
	planarSeparate = 2
)

// maxPages bounds the IFD chain so a corrupt file cannot loop forever
const maxPages = 1 << 20

var errNotTIFF = errors.New("not a little-endian TIFF file")

// page describes one image file directory
type page struct {
	width           int
	height          int
	bitsPerSample   int
	samplesPerPixel int
	compression     int
	planar          int
	rowsPerStrip    int
	stripOffsets    []uint64
	stripByteCounts []uint64
}

func (p *page) bytesPerSample() int {
	return p.bitsPerSample / 8
}

func (p *page) stripsPerPlane() int {
	return (p.height + p.rowsPerStrip - 1) / p.rowsPerStrip
}

// TIFF is a multi-page TIFF container. Each page is one plane and each
// sample of a pixel is one channel.
type TIFF struct {
	path  string
	r     io.ReaderAt
	c     io.Closer
	pages []page
}

// OpenTIFF opens a TIFF container stored on disk. Only the directory chain
// is read eagerly; strip data is fetched on demand by OpenPlane.
func OpenTIFF(path string) (*TIFF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	t, err := NewTIFF(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.c = f
	return t, nil
}

// NewTIFF parses the directory chain of a TIFF held by r
func NewTIFF(path string, r io.ReaderAt) (*TIFF, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("error reading TIFF header: %w", err)
	}
	if header[0] != 'I' || header[1] != 'I' || binary.LittleEndian.Uint16(header[2:]) != 42 {
		return nil, errNotTIFF
	}

	t := &TIFF{path: path, r: r}
	seen := make(map[uint32]bool)
	offset := binary.LittleEndian.Uint32(header[4:])
	for offset != 0 {
		if seen[offset] || len(t.pages) >= maxPages {
			return nil, fmt.Errorf("IFD chain loops at offset %d", offset)
		}
		seen[offset] = true

		p, next, err := t.readIFD(offset)
		if err != nil {
			return nil, fmt.Errorf("error reading IFD %d: %w", len(t.pages), err)
		}
		t.pages = append(t.pages, p)
		offset = next
	}

	if len(t.pages) == 0 {
		return nil, fmt.Errorf("TIFF has no pages")
	}
	return t, nil
}

func (t *TIFF) readIFD(offset uint32) (page, uint32, error) {
	p := page{
		bitsPerSample:   8,
		samplesPerPixel: 1,
		compression:     compressionNone,
		planar:          planarChunky,
	}

	countBuf := make([]byte, 2)
	if _, err := t.r.ReadAt(countBuf, int64(offset)); err != nil {
		return p, 0, err
	}
	count := int(binary.LittleEndian.Uint16(countBuf))

	entries := make([]byte, count*12+4)
	if _, err := t.r.ReadAt(entries, int64(offset)+2); err != nil {
		return p, 0, err
	}

	for i := 0; i < count; i++ {
		e := entries[i*12 : (i+1)*12]
		tag := binary.LittleEndian.Uint16(e[0:])
		values, err := t.readValues(e)
		if err != nil {
			return p, 0, fmt.Errorf("tag %d: %w", tag, err)
		}
		if len(values) == 0 {
			continue
		}

		switch tag {
		case tagImageWidth:
			p.width = int(values[0])
		case tagImageLength:
			p.height = int(values[0])
		case tagBitsPerSample:
			p.bitsPerSample = int(values[0])
			for _, v := range values[1:] {
				if int(v) != p.bitsPerSample {
					return p, 0, fmt.Errorf("mixed bits per sample are not supported")
				}
			}
		case tagCompression:
			p.compression = int(values[0])
		case tagStripOffsets:
			p.stripOffsets = values
		case tagSamplesPerPixel:
			p.samplesPerPixel = int(values[0])
		case tagRowsPerStrip:
			p.rowsPerStrip = int(values[0])
		case tagStripByteCounts:
			p.stripByteCounts = values
		case tagPlanarConfiguration:
			p.planar = int(values[0])
		}
	}

	if p.width <= 0 || p.height <= 0 {
		return p, 0, fmt.Errorf("missing image dimensions")
	}
	if p.rowsPerStrip <= 0 || p.rowsPerStrip > p.height {
		p.rowsPerStrip = p.height
	}
	if len(p.stripOffsets) != len(p.stripByteCounts) {
		return p, 0, fmt.Errorf("strip offsets and byte counts differ in length")
	}

	next := binary.LittleEndian.Uint32(entries[count*12:])
	return p, next, nil
}

// readValues decodes the values of one 12-byte directory entry
func (t *TIFF) readValues(e []byte) ([]uint64, error) {
	typ := binary.LittleEndian.Uint16(e[2:])
	count := binary.LittleEndian.Uint32(e[4:])

	var size int
	switch typ {
	case typeByte:
		size = 1
	case typeShort:
		size = 2
	case typeLong:
		size = 4
	default:
		// Field types the reader does not use are skipped.
		return nil, nil
	}

	raw := e[8:12]
	if total := int(count) * size; total > 4 {
		raw = make([]byte, total)
		if _, err := t.r.ReadAt(raw, int64(binary.LittleEndian.Uint32(e[8:]))); err != nil {
			return nil, err
		}
	}

	values := make([]uint64, count)
	for i := range values {
		switch size {
		case 1:
			values[i] = uint64(raw[i])
		case 2:
			values[i] = uint64(binary.LittleEndian.Uint16(raw[i*2:]))
		case 4:
			values[i] = uint64(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return values, nil
}

// Path returns the path the container was opened from
func (t *TIFF) Path() string { return t.path }

// PlaneCount returns the number of pages
func (t *TIFF) PlaneCount() int { return len(t.pages) }

// ChannelCount returns the samples per pixel of the first page
func (t *TIFF) ChannelCount() int {
	if len(t.pages) == 0 {
		return 0
	}
	return t.pages[0].samplesPerPixel
}

// OpenPlane reads one channel of one page
func (t *TIFF) OpenPlane(index, channel int) (*Plane, error) {
	if t.r == nil {
		return nil, ErrClosed
	}
	if index < 0 || index >= len(t.pages) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPlaneRange, index, len(t.pages))
	}
	p := &t.pages[index]
	if channel < 0 || channel >= p.samplesPerPixel {
		return nil, fmt.Errorf("%w: %d of %d", ErrChannelRange, channel, p.samplesPerPixel)
	}

	switch p.bitsPerSample {
	case 8, 16, 32:
	default:
		return nil, fmt.Errorf("unsupported bits per sample %d", p.bitsPerSample)
	}

	plane := &Plane{
		Width:          p.width,
		Height:         p.height,
		BytesPerSample: p.bytesPerSample(),
	}
	expected := p.width * p.height * plane.BytesPerSample

	if p.planar == planarSeparate && p.samplesPerPixel > 1 {
		n := p.stripsPerPlane()
		data, err := t.readStrips(p, channel*n, (channel+1)*n)
		if err != nil {
			return nil, err
		}
		if len(data) > expected {
			data = data[:expected]
		}
		plane.Data = data
		return plane, nil
	}

	data, err := t.readStrips(p, 0, len(p.stripOffsets))
	if err != nil {
		return nil, err
	}
	if p.samplesPerPixel == 1 {
		if len(data) > expected {
			data = data[:expected]
		}
		plane.Data = data
		return plane, nil
	}

	// Chunky layout interleaves channels per pixel.
	bps := plane.BytesPerSample
	stride := p.samplesPerPixel * bps
	if len(data) < p.width*p.height*stride {
		return nil, fmt.Errorf("truncated strip data: have %d bytes, need %d",
			len(data), p.width*p.height*stride)
	}
	out := make([]byte, expected)
	for i := 0; i < p.width*p.height; i++ {
		copy(out[i*bps:(i+1)*bps], data[i*stride+channel*bps:])
	}
	plane.Data = out
	return plane, nil
}

// readStrips reads and decompresses the strips in [from, to)
func (t *TIFF) readStrips(p *page, from, to int) ([]byte, error) {
	if to > len(p.stripOffsets) {
		return nil, fmt.Errorf("page declares %d strips, need %d", len(p.stripOffsets), to)
	}

	var buf bytes.Buffer
	for i := from; i < to; i++ {
		section := io.NewSectionReader(t.r, int64(p.stripOffsets[i]), int64(p.stripByteCounts[i]))

		switch p.compression {
		case compressionNone:
			if _, err := io.Copy(&buf, section); err != nil {
				return nil, fmt.Errorf("error reading strip %d: %w", i, err)
			}
		case compressionDeflate, compressionDeflateOld:
			zr, err := zlib.NewReader(section)
			if err != nil {
				return nil, fmt.Errorf("error opening deflate strip %d: %w", i, err)
			}
			_, err = io.Copy(&buf, zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("error inflating strip %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("unsupported compression %d", p.compression)
		}
	}
	return buf.Bytes(), nil
}

// Close releases the file handle
func (t *TIFF) Close() error {
	t.r = nil
	if t.c == nil {
		return nil
	}
	err := t.c.Close()
	t.c = nil
	return err
}
