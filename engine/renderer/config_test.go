package renderer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

func defaultOpaqueState() metadata.RenderState {
	return metadata.RenderState{
		CullMode:   metadata.FaceCullModeBack,
		DepthTest:  true,
		DepthWrite: true,
	}
}

func TestLoadRendererConfigMissingFileUsesDefaults(t *testing.T) {
	config, err := LoadRendererConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRendererConfig(), config)
}

func TestLoadRendererConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
application_name = "Sandbox"
frames_in_flight = 2
max_sampled_images = 128
watch_shaders = true
`), 0o644))

	config, err := LoadRendererConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Sandbox", config.ApplicationName)
	assert.Equal(t, uint32(2), config.FramesInFlight)
	assert.Equal(t, uint32(128), config.MaxSampledImages)
	assert.True(t, config.WatchShaders)
	// Everything the file does not name keeps its default.
	defaults := DefaultRendererConfig()
	assert.Equal(t, defaults.MaxSamplers, config.MaxSamplers)
	assert.Equal(t, defaults.MaxPipelines, config.MaxPipelines)
	assert.Equal(t, defaults.RegionSize, config.RegionSize)
}

func TestLoadRendererConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	require.NoError(t, os.WriteFile(path, []byte("frames_in_flight = 99\n"), 0o644))

	_, err := LoadRendererConfig(path)
	assert.Error(t, err)
}

func TestLoadRendererConfigLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	require.NoError(t, os.WriteFile(path, []byte(`log_level = "warn"`+"\n"), 0o644))

	config, err := LoadRendererConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", config.LogLevel)

	level, err := config.logLevel()
	require.NoError(t, err)
	assert.Equal(t, core.WarnLevel, level)

	// Unset falls back to the default.
	config, err = LoadRendererConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadRendererConfigRejectsUnknownLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	require.NoError(t, os.WriteFile(path, []byte(`log_level = "verbose"`+"\n"), 0o644))

	_, err := LoadRendererConfig(path)
	assert.Error(t, err)
}

func TestLoadRendererConfigBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	require.NoError(t, os.WriteFile(path, []byte("frames_in_flight = = 2\n"), 0o644))

	_, err := LoadRendererConfig(path)
	assert.Error(t, err)
}

func TestPipelineBlobRoundTrip(t *testing.T) {
	state := defaultOpaqueState()
	blob := encodePipelineBlob([]string{"pbr_frag", "pbr_vert"}, state)

	names, decoded, err := decodePipelineBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, []string{"pbr_frag", "pbr_vert"}, names)
	assert.Equal(t, state, decoded)
}

func TestPipelineBlobTruncated(t *testing.T) {
	blob := encodePipelineBlob([]string{"pbr_vert"}, defaultOpaqueState())
	_, _, err := decodePipelineBlob(blob[:len(blob)-3])
	assert.Error(t, err)
}
