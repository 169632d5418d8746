// Package decoder turns an ordered list of containers into a stream of
// image records. Each record pairs an image plane with its mask plane for
// every selected channel.
package decoder

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"maskfeat/internal/models"
	"maskfeat/pkg/container"
)

// Layout describes where the mask of an image is stored
type Layout string

const (
	// LayoutInterleaved stores the mask in the plane following its image
	LayoutInterleaved Layout = "interleaved"

	// LayoutPaired stores masks in a second container at the same plane index
	LayoutPaired Layout = "paired"
)

// NoLimit decodes every image a container reports
const NoLimit = -1

// Options configures a Decoder
type Options struct {
	// ImageLimit caps the number of records read from each container.
	// NoLimit uses the container's own count.
	ImageLimit int

	// Channels is the ordered channel selection, at least one entry
	Channels []int

	// Layout defaults to LayoutInterleaved
	Layout Layout

	// MaskPaths lists the mask container for each input path (paired layout)
	MaskPaths []string

	// Opener defaults to container.Open
	Opener container.Opener

	Logger *zap.Logger
}

// state of the container chain
type state int

const (
	stateAwaitingNext state = iota
	stateOpen
	stateDone
)

func (s state) String() string {
	switch s {
	case stateAwaitingNext:
		return "awaiting-next"
	case stateOpen:
		return "open"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Decoder streams records from a chain of containers, one container open
// at a time. It is not safe for concurrent use.
type Decoder struct {
	paths  []string
	opts   Options
	logger *zap.Logger

	state  state
	next   int
	path   string
	image  container.Container
	mask   container.Container
	index  int
	final  int
	stride int
}

// New validates opts and creates a decoder over paths. Containers are
// opened lazily by Next.
func New(paths []string, opts Options) (*Decoder, error) {
	if len(opts.Channels) == 0 {
		return nil, models.NewConfigurationError("channels", "at least one channel is required")
	}
	for _, ch := range opts.Channels {
		if ch < 0 {
			return nil, models.NewConfigurationError("channels", "negative channel %d", ch)
		}
	}
	if opts.ImageLimit < NoLimit {
		return nil, models.NewConfigurationError("imageLimit", "must be -1 or non-negative, got %d", opts.ImageLimit)
	}

	stride := 2
	switch opts.Layout {
	case "", LayoutInterleaved:
		opts.Layout = LayoutInterleaved
	case LayoutPaired:
		stride = 1
		if len(opts.MaskPaths) != len(paths) {
			return nil, models.NewConfigurationError("maskFiles",
				"paired layout needs one mask container per input, got %d for %d", len(opts.MaskPaths), len(paths))
		}
	default:
		return nil, models.NewConfigurationError("layout", "unknown layout %q", opts.Layout)
	}

	if opts.Opener == nil {
		opts.Opener = container.Open
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Decoder{
		paths:  append([]string(nil), paths...),
		opts:   opts,
		logger: logger,
		stride: stride,
	}, nil
}

// Next returns the next record. It returns io.EOF once every container is
// exhausted. A *models.DecodeError affects only one record or container;
// calling Next again continues with the following one.
func (d *Decoder) Next(ctx context.Context) (*models.ImageRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch d.state {
		case stateDone:
			return nil, io.EOF

		case stateAwaitingNext:
			if d.next >= len(d.paths) {
				d.state = stateDone
				continue
			}
			if err := d.openNext(); err != nil {
				return nil, err
			}
			d.state = stateOpen

		case stateOpen:
			if d.index >= d.final {
				d.closeCurrent()
				d.state = stateAwaitingNext
				continue
			}
			index := d.index
			d.index += d.stride
			return d.decode(index)
		}
	}
}

// Close releases any open container and ends the stream
func (d *Decoder) Close() error {
	err := d.closeCurrent()
	d.state = stateDone
	return err
}

func (d *Decoder) openNext() error {
	pos := d.next
	d.next++
	d.path = d.paths[pos]

	image, err := d.opts.Opener(d.path)
	if err != nil {
		return &models.DecodeError{Path: d.path, Index: -1, Channel: -1, Err: err}
	}
	d.image = image

	if d.opts.Layout == LayoutPaired {
		maskPath := d.opts.MaskPaths[pos]
		mask, err := d.opts.Opener(maskPath)
		if err != nil {
			d.closeCurrent()
			return &models.DecodeError{Path: maskPath, Index: -1, Channel: -1, Err: err}
		}
		d.mask = mask
	}

	for _, ch := range d.opts.Channels {
		for _, c := range []container.Container{d.image, d.mask} {
			if c == nil {
				continue
			}
			if ch >= c.ChannelCount() {
				path := c.Path()
				d.closeCurrent()
				return &models.DecodeError{Path: path, Index: -1, Channel: ch,
					Err: fmt.Errorf("%w: container reports %d channels", container.ErrChannelRange, c.ChannelCount())}
			}
		}
	}

	records := d.recordCount()
	if d.opts.ImageLimit != NoLimit && d.opts.ImageLimit < records {
		records = d.opts.ImageLimit
	}
	d.index = 0
	d.final = records * d.stride

	d.logger.Info("Opened container",
		zap.String("path", d.path),
		zap.Int("planes", d.image.PlaneCount()),
		zap.Int("records", records))
	return nil
}

func (d *Decoder) recordCount() int {
	planes := d.image.PlaneCount()
	if d.opts.Layout == LayoutPaired {
		if masks := d.mask.PlaneCount(); masks != planes {
			d.logger.Warn("Image and mask containers differ in plane count",
				zap.String("path", d.path),
				zap.Int("images", planes),
				zap.Int("masks", masks))
			planes = min(planes, masks)
		}
		return planes
	}

	if planes%2 == 1 {
		d.logger.Warn("Dropping unpaired trailing plane",
			zap.String("path", d.path),
			zap.Int("plane", planes-1))
	}
	return planes / 2
}

func (d *Decoder) closeCurrent() error {
	var err error
	if d.image != nil {
		err = d.image.Close()
		d.image = nil
	}
	if d.mask != nil {
		if cerr := d.mask.Close(); err == nil {
			err = cerr
		}
		d.mask = nil
	}
	return err
}

// decode assembles the record whose image plane sits at index
func (d *Decoder) decode(index int) (*models.ImageRecord, error) {
	maskSource, maskIndex := d.image, index+1
	if d.opts.Layout == LayoutPaired {
		maskSource, maskIndex = d.mask, index
	}

	rec := &models.ImageRecord{
		ID:        uint64(index / d.stride),
		Directory: filepath.Dir(d.path),
		Filename:  filepath.Base(d.path),
		Channels:  append([]int(nil), d.opts.Channels...),
	}

	for pos, ch := range d.opts.Channels {
		plane, err := d.image.OpenPlane(index, ch)
		if err != nil {
			return nil, &models.DecodeError{Path: d.image.Path(), Index: index, Channel: ch, Err: err}
		}
		if pos == 0 {
			rec.Width, rec.Height = plane.Width, plane.Height
			size := rec.Width * rec.Height * len(rec.Channels)
			rec.Pixels = make([]float64, 0, size)
			rec.Mask = make([]bool, 0, size)
		}
		pixels, err := d.samples(plane, rec)
		if err != nil {
			return nil, &models.DecodeError{Path: d.image.Path(), Index: index, Channel: ch, Err: err}
		}

		maskPlane, err := maskSource.OpenPlane(maskIndex, ch)
		if err != nil {
			return nil, &models.DecodeError{Path: maskSource.Path(), Index: maskIndex, Channel: ch, Err: err}
		}
		mask, err := d.maskBits(maskPlane, rec)
		if err != nil {
			return nil, &models.DecodeError{Path: maskSource.Path(), Index: maskIndex, Channel: ch, Err: err}
		}

		rec.Pixels = append(rec.Pixels, pixels...)
		rec.Mask = append(rec.Mask, mask...)
	}

	return rec, nil
}

func (d *Decoder) samples(plane *container.Plane, rec *models.ImageRecord) ([]float64, error) {
	if err := checkPlane(plane, rec); err != nil {
		return nil, err
	}
	return container.DecodeSamples(plane.Data, plane.BytesPerSample)
}

func (d *Decoder) maskBits(plane *container.Plane, rec *models.ImageRecord) ([]bool, error) {
	if err := checkPlane(plane, rec); err != nil {
		return nil, err
	}
	return container.DecodeMask(plane.Data, plane.BytesPerSample)
}

// checkPlane verifies the plane matches the record geometry
func checkPlane(plane *container.Plane, rec *models.ImageRecord) error {
	if plane.BytesPerSample <= 0 {
		return fmt.Errorf("invalid sample width %d", plane.BytesPerSample)
	}
	if len(plane.Data)%plane.BytesPerSample != 0 {
		return fmt.Errorf("plane length %d is not a multiple of sample width %d",
			len(plane.Data), plane.BytesPerSample)
	}
	if plane.Width != rec.Width || plane.Height != rec.Height {
		return fmt.Errorf("plane is %dx%d, record is %dx%d",
			plane.Width, plane.Height, rec.Width, rec.Height)
	}
	if n := len(plane.Data) / plane.BytesPerSample; n != rec.Width*rec.Height {
		return fmt.Errorf("plane holds %d samples, want %d", n, rec.Width*rec.Height)
	}
	return nil
}
