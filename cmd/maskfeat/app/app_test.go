package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"maskfeat/internal/models"
	"maskfeat/pkg/config"
	"maskfeat/pkg/container"
	"maskfeat/pkg/pipeline"
)

// writeContainer writes an interleaved 5x5 container with two records:
// a 3x3 square and a mask holding two separate pixels
func writeContainer(t *testing.T, path string) {
	t.Helper()
	const w, h = 5, 5

	values := make([]uint32, w*h)
	square := make([]bool, w*h)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			values[y*w+x] = 40
			square[y*w+x] = true
		}
	}
	split := make([]bool, w*h)
	split[0], split[w*h-1] = true, true

	page := func(bps int, data []byte) container.WritePage {
		return container.WritePage{Width: w, Height: h, BytesPerSample: bps, Channels: [][]byte{data}}
	}
	pages := []container.WritePage{
		page(2, container.EncodeSamples(values, 2)),
		page(1, container.EncodeMask(square)),
		page(2, container.EncodeSamples(values, 2)),
		page(1, container.EncodeMask(split)),
	}
	require.NoError(t, container.WriteTIFFFile(path, pages, container.WriteOptions{}))
}

func TestExecuteEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "cells.tif")
	writeContainer(t, input)

	cfg := config.DefaultConfig()
	cfg.Input.Files = []string{input}
	cfg.Features.Names = []string{"mean", "size"}
	cfg.Processing.Workers = 2
	cfg.Processing.QueueCapacity = 2
	cfg.Output.Path = filepath.Join(dir, "out", "features.csv")
	cfg.Output.SaveIntermediaryResults = true
	cfg.Output.IntermediaryDir = filepath.Join(dir, "rejected")
	require.NoError(t, cfg.Validate())

	summary, err := execute(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Decoded)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, uint64(1), summary.Written)

	data, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	assert.Equal(t, "file,id,error,feat_mean_0,feat_size_0\n"+input+",0,,40,9\n", string(data))

	renders, err := os.ReadDir(cfg.Output.IntermediaryDir)
	require.NoError(t, err)
	assert.Len(t, renders, 2)
}

func TestExecuteRejectsUnknownFeature(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Input.Files = []string{filepath.Join(dir, "cells.tif")}
	cfg.Features.Names = []string{"sharpness"}
	cfg.Output.Path = filepath.Join(dir, "features.csv")

	_, err := execute(context.Background(), cfg, zaptest.NewLogger(t))
	assert.True(t, models.IsConfigurationError(err))

	_, statErr := os.Stat(cfg.Output.Path)
	assert.True(t, os.IsNotExist(statErr), "no output is created for an invalid configuration")
}

func TestLoadConfig(t *testing.T) {
	configureEnv()
	dir := t.TempDir()

	list := filepath.Join(dir, "inputs.txt")
	require.NoError(t, os.WriteFile(list, []byte("# batch one\nb.tif\n\n  c.tif  \n"), 0644))

	cfgPath := filepath.Join(dir, "maskfeat.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("input:\n  files: [a.tif]\nprocessing:\n  workers: 2\n"), 0644))

	t.Setenv("MASKFEAT_INPUT_FILELIST", list)
	t.Setenv("MASKFEAT_PROCESSING_QUEUECAPACITY", "7")

	cfg, err := loadConfig(cfgPath, []string{"z.tif"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tif", "z.tif", "b.tif", "c.tif"}, cfg.Input.Files)
	assert.Equal(t, 2, cfg.Processing.Workers)
	assert.Equal(t, 7, cfg.Processing.QueueCapacity)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadConfig(filepath.Join(dir, "absent.yaml"), []string{"a.tif"})
	assert.Error(t, err)

	_, err = loadConfig("", nil)
	assert.True(t, models.IsConfigurationError(err))

	_, err = readFileList(filepath.Join(dir, "absent.txt"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("chatty", false)
	assert.True(t, models.IsConfigurationError(err))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	err := printSummary(&buf, &pipeline.Summary{
		RunID:           "0b6c1c36-3f55-4a3c-9d6e-6f7f3f0d8a11",
		Decoded:         12,
		Rejected:        1,
		RejectedRecords: []models.RecordRef{{File: "/data/a.tif", ID: 4}},
		Submitted:       11,
		Written:         11,
		Elapsed:         1500 * time.Millisecond,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "0b6c1c36-3f55-4a3c-9d6e-6f7f3f0d8a11")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "rejected: /data/a.tif#4")
}

func TestWriteCatalog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCatalog(&buf))

	out := buf.String()
	for _, name := range []string{"mean", "circularity", "zernikeMagnitude", "gradientRMS:<size>"} {
		assert.Contains(t, out, name)
	}
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)
	require.NoError(t, versionCmd.Flags().Set("format", "json"))
	defer func() { _ = versionCmd.Flags().Set("format", "") }()

	require.NoError(t, versionCmd.RunE(versionCmd, nil))

	var info versionInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, Version, info.Version)
	assert.True(t, strings.HasPrefix(info.GoVersion, "go"))
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "maskfeat.yaml")

	var buf bytes.Buffer
	configInitCmd.SetOut(&buf)
	defer configInitCmd.SetOut(nil)
	require.NoError(t, configInitCmd.RunE(configInitCmd, []string{path}))
	assert.Contains(t, buf.String(), path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	// An existing file is kept unless forced.
	require.NoError(t, os.WriteFile(path, []byte("processing:\n  workers: 3\n"), 0644))
	assert.Error(t, initConfigFile(path, false))
	cfg, err = config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Processing.Workers)

	require.NoError(t, initConfigFile(path, true))
	cfg, err = config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Processing.Workers, cfg.Processing.Workers)
}
