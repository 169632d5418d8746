// Package visualization renders the planes of a record as images, used to
// inspect records the mask validator rejected.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"

	"maskfeat/internal/models"
	"maskfeat/pkg/validation"
)

// DefaultScale is the upscaling factor applied when saving images
const DefaultScale = 4

// goldenAngle spreads consecutive component hues around the colour wheel
const goldenAngle = 137.508

// Viewer renders the channels of one record
type Viewer struct {
	rec *models.ImageRecord

	// scale is the nearest-neighbour upscaling factor used when saving
	scale int
}

// NewViewer creates a viewer for rec; a scale below 1 uses DefaultScale
func NewViewer(rec *models.ImageRecord, scale int) *Viewer {
	if scale < 1 {
		scale = DefaultScale
	}
	return &Viewer{rec: rec, scale: scale}
}

func (v *Viewer) checkChannel(c int) error {
	if c < 0 || c >= len(v.rec.Channels) {
		return fmt.Errorf("channel position %d out of range [0, %d)", c, len(v.rec.Channels))
	}
	return nil
}

// ExtractChannel renders the samples of the channel stored at position c,
// stretched to the full 16-bit range of the channel
func (v *Viewer) ExtractChannel(c int) (*image.Gray16, error) {
	if err := v.checkChannel(c); err != nil {
		return nil, err
	}

	pix := v.rec.ChannelPixels(c)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range pix {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}

	img := image.NewGray16(image.Rect(0, 0, v.rec.Width, v.rec.Height))
	if hi <= lo {
		return img, nil
	}
	for y := 0; y < v.rec.Height; y++ {
		for x := 0; x < v.rec.Width; x++ {
			value := (pix[y*v.rec.Width+x] - lo) / (hi - lo) * 65535
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(value))})
		}
	}
	return img, nil
}

// ExtractLabels colours every connected component of the mask of channel
// position c with its own hue over a black background
func (v *Viewer) ExtractLabels(c int) (*image.NRGBA, error) {
	if err := v.checkChannel(c); err != nil {
		return nil, err
	}

	labeling := validation.Label(v.rec.ChannelMask(c), v.rec.Width, v.rec.Height)
	palette := make([]color.NRGBA, labeling.Count()+1)
	palette[0] = color.NRGBA{A: 255}
	for i := 1; i < len(palette); i++ {
		hue := math.Mod(float64(i-1)*goldenAngle, 360)
		r, g, b := colorful.Hsv(hue, 0.8, 0.95).RGB255()
		palette[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}

	img := image.NewNRGBA(image.Rect(0, 0, v.rec.Width, v.rec.Height))
	for y := 0; y < v.rec.Height; y++ {
		for x := 0; x < v.rec.Width; x++ {
			img.SetNRGBA(x, y, palette[labeling.Labels[y*v.rec.Width+x]])
		}
	}
	return img, nil
}

// SaveImage upscales img and saves it; the format follows the extension
func (v *Viewer) SaveImage(img image.Image, filename string) error {
	b := img.Bounds()
	scaled := imaging.Resize(img, b.Dx()*v.scale, b.Dy()*v.scale, imaging.NearestNeighbor)
	return imaging.Save(scaled, filename)
}

// SaveRecord writes the image and label rendering of every channel to
// outputDir and returns the paths written
func (v *Viewer) SaveRecord(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(v.rec.Filename, filepath.Ext(v.rec.Filename))
	base = strings.TrimSuffix(base, ".ome")

	var paths []string
	for c, ch := range v.rec.Channels {
		plane, err := v.ExtractChannel(c)
		if err != nil {
			return paths, err
		}
		labels, err := v.ExtractLabels(c)
		if err != nil {
			return paths, err
		}

		renders := []struct {
			suffix string
			img    image.Image
		}{{"image", plane}, {"labels", labels}}
		for _, r := range renders {
			filename := filepath.Join(outputDir, fmt.Sprintf("%s_%04d_ch%d_%s.png", base, v.rec.ID, ch, r.suffix))
			if err := v.SaveImage(r.img, filename); err != nil {
				return paths, fmt.Errorf("failed to save %s: %w", filename, err)
			}
			paths = append(paths, filename)
		}
	}
	return paths, nil
}

// RejectionWriter returns a hook saving every record it receives under
// outputDir. Failures are logged and never interrupt the caller.
func RejectionWriter(outputDir string, scale int, logger *zap.Logger) func(*models.ImageRecord) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(rec *models.ImageRecord) {
		paths, err := NewViewer(rec, scale).SaveRecord(outputDir)
		if err != nil {
			logger.Warn("Failed to save rejected record",
				zap.Stringer("record", rec.Ref()), zap.Error(err))
			return
		}
		logger.Debug("Saved rejected record",
			zap.Stringer("record", rec.Ref()), zap.Strings("files", paths))
	}
}
