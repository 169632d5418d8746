package validation

import (
	"sync"

	"go.uber.org/zap"

	"maskfeat/internal/models"
)

// Validator rejects records whose mask holds more than one object in any
// channel. Rejections are counted, never returned as errors. It is safe
// for concurrent use.
type Validator struct {
	logger *zap.Logger

	mu       sync.Mutex
	invalid  int
	rejected []models.RecordRef
}

// NewValidator creates a validator; a nil logger discards output
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger}
}

// Validate reports whether every channel of rec holds at most one
// connected foreground component. An empty mask is valid.
func (v *Validator) Validate(rec *models.ImageRecord) bool {
	for c, ch := range rec.Channels {
		labeling := Label(rec.ChannelMask(c), rec.Width, rec.Height)
		if n := labeling.Count(); n > 1 {
			v.reject(rec, ch, n)
			return false
		}
	}
	return true
}

func (v *Validator) reject(rec *models.ImageRecord, channel, components int) {
	ref := rec.Ref()

	v.mu.Lock()
	v.invalid++
	v.rejected = append(v.rejected, ref)
	v.mu.Unlock()

	v.logger.Debug("Rejected record with fragmented mask",
		zap.Stringer("record", ref),
		zap.Int("channel", channel),
		zap.Int("components", components))
}

// InvalidCount returns the number of rejected records
func (v *Validator) InvalidCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.invalid
}

// Rejected returns a copy of the rejected record references in rejection order
func (v *Validator) Rejected() []models.RecordRef {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.RecordRef(nil), v.rejected...)
}
