package renderer

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/vega/engine/core"
)

/**
 * @brief Tunables of the rendering driver, loadable from a TOML file.
 * Zero values fall back to the defaults below, so a partial file only
 * overrides what it names.
 */
type RendererConfig struct {
	/** @brief The application name reported to the driver. */
	ApplicationName string `toml:"application_name"`
	/** @brief Frames the CPU records ahead of the GPU. */
	FramesInFlight uint32 `toml:"frames_in_flight"`
	/** @brief Hard capacity of the global texture array. */
	MaxSampledImages uint32 `toml:"max_sampled_images"`
	/** @brief Hard capacity of the sampler slots. */
	MaxSamplers uint32 `toml:"max_samplers"`
	/** @brief Pipelines kept before LRU eviction. */
	MaxPipelines int `toml:"max_pipelines"`
	/** @brief Base path for pipeline cache persistence; empty disables it. */
	PipelineCachePath string `toml:"pipeline_cache_path"`
	/** @brief Bytes of host-visible device memory per resource region. */
	RegionSize uint64 `toml:"region_size"`
	/** @brief Resource mutations buffered between frames. */
	SubmissionQueueDepth int `toml:"submission_queue_depth"`
	/** @brief Watch shader bytecode files and reload on change. */
	WatchShaders bool `toml:"watch_shaders"`
	/** @brief Milliseconds a frame fence wait may block. */
	FenceTimeoutMs uint64 `toml:"fence_timeout_ms"`
	/** @brief Minimum log severity: debug, info, warn, error or fatal. */
	LogLevel string `toml:"log_level"`
}

func DefaultRendererConfig() RendererConfig {
	return RendererConfig{
		ApplicationName:      "Vega Application",
		FramesInFlight:       3,
		MaxSampledImages:     1024,
		MaxSamplers:          64,
		MaxPipelines:         256,
		RegionSize:           4 * 1024 * 1024,
		SubmissionQueueDepth: 1024,
		FenceTimeoutMs:       1000,
		LogLevel:             "debug",
	}
}

// LoadRendererConfig reads a TOML config file on top of the defaults. A
// missing file is not an error; the defaults apply unchanged.
func LoadRendererConfig(path string) (RendererConfig, error) {
	config := DefaultRendererConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("reading renderer config: %w", err)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing renderer config %s: %w", path, err)
	}
	config.applyDefaults()
	return config, config.Validate()
}

func (c *RendererConfig) applyDefaults() {
	defaults := DefaultRendererConfig()
	if c.ApplicationName == "" {
		c.ApplicationName = defaults.ApplicationName
	}
	if c.FramesInFlight == 0 {
		c.FramesInFlight = defaults.FramesInFlight
	}
	if c.MaxSampledImages == 0 {
		c.MaxSampledImages = defaults.MaxSampledImages
	}
	if c.MaxSamplers == 0 {
		c.MaxSamplers = defaults.MaxSamplers
	}
	if c.MaxPipelines == 0 {
		c.MaxPipelines = defaults.MaxPipelines
	}
	if c.RegionSize == 0 {
		c.RegionSize = defaults.RegionSize
	}
	if c.SubmissionQueueDepth == 0 {
		c.SubmissionQueueDepth = defaults.SubmissionQueueDepth
	}
	if c.FenceTimeoutMs == 0 {
		c.FenceTimeoutMs = defaults.FenceTimeoutMs
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
}

// logLevel maps the config key onto the logger's severity levels.
func (c RendererConfig) logLevel() (core.LogLevel, error) {
	switch c.LogLevel {
	case "debug":
		return core.DebugLevel, nil
	case "info":
		return core.InfoLevel, nil
	case "warn":
		return core.WarnLevel, nil
	case "error":
		return core.ErrorLevel, nil
	case "fatal":
		return core.FatalLevel, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}

func (c RendererConfig) Validate() error {
	if c.FramesInFlight < 1 || c.FramesInFlight > 8 {
		return fmt.Errorf("frames_in_flight must be between 1 and 8, got %d", c.FramesInFlight)
	}
	if c.MaxPipelines < 0 {
		return fmt.Errorf("max_pipelines cannot be negative, got %d", c.MaxPipelines)
	}
	if c.SubmissionQueueDepth < 0 {
		return fmt.Errorf("submission_queue_depth cannot be negative, got %d", c.SubmissionQueueDepth)
	}
	if _, err := c.logLevel(); err != nil {
		return err
	}
	return nil
}
