package models

import (
	"fmt"
	"math"
	"path/filepath"
)

// ImageRecord represents one decoded multi-channel image together with its
// foreground mask
type ImageRecord struct {
	// ID is the ordinal of the image inside its container
	ID uint64

	// Directory and Filename locate the source container
	Directory string
	Filename  string

	// Channels lists the channel ids in the order they are stored in the buffers
	Channels []int

	// Width and Height are shared by every channel of the record
	Width  int
	Height int

	// Pixels holds the image samples channel-major, W*H per channel
	Pixels []float64

	// Mask holds the foreground bits in the same layout as Pixels
	Mask []bool
}

// Path returns the full path of the source container
func (r *ImageRecord) Path() string {
	return filepath.Join(r.Directory, r.Filename)
}

// Ref returns the key identifying the record within a run
func (r *ImageRecord) Ref() RecordRef {
	return RecordRef{File: r.Path(), ID: r.ID}
}

// PlaneSize is the number of samples of a single channel
func (r *ImageRecord) PlaneSize() int {
	return r.Width * r.Height
}

// ChannelPixels returns the image samples of the channel stored at position c
func (r *ImageRecord) ChannelPixels(c int) []float64 {
	n := r.PlaneSize()
	return r.Pixels[c*n : (c+1)*n]
}

// ChannelMask returns the mask bits of the channel stored at position c
func (r *ImageRecord) ChannelMask(c int) []bool {
	n := r.PlaneSize()
	return r.Mask[c*n : (c+1)*n]
}

// CheckLayout verifies the buffer invariants of the record
func (r *ImageRecord) CheckLayout() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", r.Width, r.Height)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("record has no channels")
	}
	want := r.Width * r.Height * len(r.Channels)
	if len(r.Pixels) != want || len(r.Mask) != want {
		return fmt.Errorf("buffer length mismatch: pixels=%d mask=%d want=%d",
			len(r.Pixels), len(r.Mask), want)
	}
	return nil
}

// RecordRef identifies a record by its source path and ordinal
type RecordRef struct {
	File string
	ID   uint64
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s#%d", r.File, r.ID)
}

// Metadata column names that precede the feature columns. The error
// column is empty for computed vectors and holds the failure of an error
// marker, which tells it apart from a record whose channels were all empty.
const (
	ColumnFile  = "file"
	ColumnID    = "id"
	ColumnError = "error"
)

// FeatureVector is the result of featurizing one record
type FeatureVector struct {
	RecordID uint64
	File     string

	// Keys and Values are parallel; keys are feat_<name>_<channel>
	Keys   []string
	Values []float64

	// Err is set on error-marker vectors, whose values are all NaN
	Err error
}

// FeatureKey builds the column name of a feature on a channel
func FeatureKey(name string, channel int) string {
	return fmt.Sprintf("feat_%s_%d", name, channel)
}

// Columns returns the metadata columns followed by the feature keys
func (v *FeatureVector) Columns() []string {
	cols := make([]string, 0, len(v.Keys)+3)
	cols = append(cols, ColumnFile, ColumnID, ColumnError)
	return append(cols, v.Keys...)
}

// Get returns the value stored under key
func (v *FeatureVector) Get(key string) (float64, bool) {
	for i, k := range v.Keys {
		if k == key {
			return v.Values[i], true
		}
	}
	return 0, false
}

// ErrorText returns the failure of an error marker, or "" for a computed vector
func (v *FeatureVector) ErrorText() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// IsErrorMarker reports whether the vector stands in for a failed computation
func (v *FeatureVector) IsErrorMarker() bool {
	return v.Err != nil
}

// NewErrorMarker builds a vector with the given keys, every value NaN
func NewErrorMarker(ref RecordRef, keys []string, err error) *FeatureVector {
	values := make([]float64, len(keys))
	for i := range values {
		values[i] = math.NaN()
	}
	return &FeatureVector{
		RecordID: ref.ID,
		File:     ref.File,
		Keys:     append([]string(nil), keys...),
		Values:   values,
		Err:      err,
	}
}
