package features

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"maskfeat/internal/models"
)

// Request selects the features and channels an Engine computes
type Request struct {
	// Names lists feature or group names; ignored when All is set
	Names []string

	// All requests every registered feature
	All bool

	// Channels is the ordered channel selection records carry
	Channels []int

	Params Params
}

// Engine computes a fixed set of features for every record. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	features []feature
	channels []int
	params   Params
	keys     []string
	logger   *zap.Logger

	needRaster  bool
	needPolygon bool
}

// NewEngine resolves every requested name. Unknown names, invalid
// parameters and an empty channel list are configuration errors.
func NewEngine(req Request, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(req.Channels) == 0 {
		return nil, models.NewConfigurationError("channels", "at least one channel is required")
	}
	if err := req.Params.Validate(); err != nil {
		return nil, models.NewConfigurationError("features", "%v", err)
	}

	names := req.Names
	if req.All {
		names = defaultRegistry.order
	}
	if len(names) == 0 {
		return nil, models.NewConfigurationError("features", "no features requested")
	}

	e := &Engine{
		channels: append([]int(nil), req.Channels...),
		params:   req.Params,
		logger:   logger,
	}

	seen := make(map[string]bool)
	for _, name := range names {
		resolved, err := defaultRegistry.resolve(name)
		if err != nil {
			return nil, models.NewConfigurationError("features", "%v", err)
		}
		for _, f := range resolved {
			if seen[f.name] {
				continue
			}
			seen[f.name] = true
			e.features = append(e.features, f)
			e.needRaster = e.needRaster || f.shape == ShapeRaster
			e.needPolygon = e.needPolygon || f.shape == ShapePolygon
		}
	}

	for _, ch := range e.channels {
		for _, f := range e.features {
			e.keys = append(e.keys, models.FeatureKey(f.name, ch))
		}
	}

	logger.Info("Feature engine ready",
		zap.Int("features", len(e.features)),
		zap.Ints("channels", e.channels),
		zap.Int("columns", len(e.keys)))
	return e, nil
}

// Keys returns the feature columns in output order
func (e *Engine) Keys() []string {
	return append([]string(nil), e.keys...)
}

// Names returns the resolved feature names
func (e *Engine) Names() []string {
	out := make([]string, len(e.features))
	for i, f := range e.features {
		out[i] = f.name
	}
	return out
}

// Compute builds the feature vector of rec. A channel without foreground
// pixels yields NaN for every feature without calling any function. The
// first failing function aborts the record with a *models.ComputationError.
func (e *Engine) Compute(rec *models.ImageRecord) (*models.FeatureVector, error) {
	if err := rec.CheckLayout(); err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.Ref(), err)
	}
	if len(rec.Channels) != len(e.channels) {
		return nil, fmt.Errorf("record %s carries %d channels, engine expects %d",
			rec.Ref(), len(rec.Channels), len(e.channels))
	}

	vec := &models.FeatureVector{
		RecordID: rec.ID,
		File:     rec.Path(),
		Keys:     e.Keys(),
		Values:   make([]float64, 0, len(e.keys)),
	}

	for c, ch := range rec.Channels {
		if ch != e.channels[c] {
			return nil, fmt.Errorf("record %s channel %d is %d, engine expects %d",
				rec.Ref(), c, ch, e.channels[c])
		}
		values, err := e.computeChannel(rec, c)
		if err != nil {
			return nil, err
		}
		vec.Values = append(vec.Values, values...)
	}

	return vec, nil
}

// ErrorVector is the stand-in for a record whose computation failed
func (e *Engine) ErrorVector(ref models.RecordRef, err error) *models.FeatureVector {
	return models.NewErrorMarker(ref, e.keys, err)
}

func (e *Engine) computeChannel(rec *models.ImageRecord, c int) ([]float64, error) {
	ch := rec.Channels[c]
	pixels := rec.ChannelPixels(c)
	mask := rec.ChannelMask(c)

	samples := make([]float64, 0, len(mask))
	for i, on := range mask {
		if on {
			samples = append(samples, pixels[i])
		}
	}

	values := make([]float64, len(e.features))
	if len(samples) == 0 {
		for i := range values {
			values[i] = math.NaN()
		}
		return values, nil
	}

	var raster *Raster
	if e.needRaster {
		raster = NewRaster(rec.Width, rec.Height, pixels, mask)
	}
	var polygon *Polygon
	var polygonErr error
	if e.needPolygon {
		polygon, polygonErr = NewPolygon(mask, rec.Width, rec.Height)
	}

	for i, f := range e.features {
		if f.shape == ShapePolygon && polygonErr != nil {
			return nil, &models.ComputationError{Feature: f.name, Channel: ch, Err: polygonErr}
		}

		v, err := e.invoke(f, samples, raster, polygon, mask, rec.Width, rec.Height)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = fmt.Errorf("non-finite result %v", v)
		}
		if err != nil {
			return nil, &models.ComputationError{Feature: f.name, Channel: ch, Err: err}
		}
		values[i] = v
	}
	return values, nil
}

// invoke calls f on its declared shape, turning a panic into an error
func (e *Engine) invoke(f feature, samples []float64, raster *Raster, polygon *Polygon,
	mask []bool, width, height int) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch f.shape {
	case ShapeSamples:
		return f.sample(samples)
	case ShapeRaster:
		return f.raster(raster, e.params)
	case ShapePolygon:
		return f.polygon(polygon)
	case ShapeMask:
		return f.mask(mask, width, height)
	}
	return 0, fmt.Errorf("unhandled shape %s", f.shape)
}
