package models

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageRecordChannelViews(t *testing.T) {
	rec := &ImageRecord{
		ID:        3,
		Directory: "/data",
		Filename:  "cells.tif",
		Channels:  []int{1, 4},
		Width:     2,
		Height:    1,
		Pixels:    []float64{1, 2, 3, 4},
		Mask:      []bool{true, false, false, true},
	}

	require.NoError(t, rec.CheckLayout())
	assert.Equal(t, []float64{3, 4}, rec.ChannelPixels(1))
	assert.Equal(t, []bool{true, false}, rec.ChannelMask(0))
	assert.Equal(t, RecordRef{File: "/data/cells.tif", ID: 3}, rec.Ref())
	assert.Equal(t, "/data/cells.tif#3", rec.Ref().String())

	rec.Mask = rec.Mask[:3]
	assert.Error(t, rec.CheckLayout())
}

func TestFeatureVectorColumns(t *testing.T) {
	v := &FeatureVector{
		RecordID: 1,
		File:     "a.tif",
		Keys:     []string{FeatureKey("mean", 0), FeatureKey("size", 0)},
		Values:   []float64{2.5, 9},
	}

	assert.Equal(t, []string{"file", "id", "error", "feat_mean_0", "feat_size_0"}, v.Columns())
	assert.Empty(t, v.ErrorText())

	got, ok := v.Get("feat_size_0")
	require.True(t, ok)
	assert.Equal(t, 9.0, got)

	_, ok = v.Get("feat_missing_0")
	assert.False(t, ok)
	assert.False(t, v.IsErrorMarker())
}

func TestNewErrorMarker(t *testing.T) {
	cause := errors.New("boom")
	keys := []string{"feat_mean_0", "feat_max_0"}
	v := NewErrorMarker(RecordRef{File: "x.tif", ID: 7}, keys, cause)

	assert.True(t, v.IsErrorMarker())
	assert.Equal(t, uint64(7), v.RecordID)
	assert.Equal(t, keys, v.Keys)
	for _, value := range v.Values {
		assert.True(t, math.IsNaN(value))
	}

	keys[0] = "mutated"
	assert.Equal(t, "feat_mean_0", v.Keys[0])
}

func TestErrorTypes(t *testing.T) {
	cfgErr := NewConfigurationError("features", "unknown feature %q", "nope")
	assert.True(t, IsConfigurationError(fmt.Errorf("wrapped: %w", cfgErr)))
	assert.Contains(t, cfgErr.Error(), `unknown feature "nope"`)

	cause := errors.New("short read")
	decErr := &DecodeError{Path: "a.tif", Index: 2, Channel: 1, Err: cause}
	assert.ErrorIs(t, decErr, cause)
	assert.Equal(t, "decode a.tif plane 2 channel 1: short read", decErr.Error())
	assert.Equal(t, "decode a.tif: short read", (&DecodeError{Path: "a.tif", Index: -1, Channel: -1, Err: cause}).Error())

	compErr := &ComputationError{Feature: "eccentricity", Channel: 0, Err: cause}
	var target *ComputationError
	assert.True(t, errors.As(fmt.Errorf("task: %w", compErr), &target))
	assert.Equal(t, "eccentricity", target.Feature)
}
