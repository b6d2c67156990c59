package renderer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/math"
	"github.com/spaghettifunk/vega/engine/renderer/layout"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
	"github.com/spaghettifunk/vega/engine/renderer/spirv"
	"github.com/spaghettifunk/vega/engine/renderer/vulkan"
	"github.com/spaghettifunk/vega/engine/systems"
)

/**
 * @brief The rendering driver. Owns the Vulkan backend and wires every
 * resource system over it: the bindless table, resource regions, the
 * pipeline cache, shader registry, and the serialized submission queue.
 * One renderer exists per application.
 */
type Renderer struct {
	config  RendererConfig
	epochs  *memory.EpochTracker
	backend *vulkan.VulkanBackend

	bindlessSet *vulkan.BindlessDescriptorSet

	Bindless   *systems.BindlessSystem
	Shaders    *systems.ShaderSystem
	Pipelines  *systems.PipelineCacheSystem[*vulkan.VulkanPipeline]
	Submission *systems.SubmissionSystem
	Camera     *systems.CameraSystem
	Materials  *systems.MaterialSystem

	materialRegion *memory.Region
	cameraRegions  []*memory.Region

	currentCommandBuffer *vulkan.VulkanCommandBuffer
}

func New(config RendererConfig) (*Renderer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	level, err := config.logLevel()
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(level)

	r := &Renderer{
		config: config,
		epochs: memory.NewEpochTracker(),
	}

	backend, err := vulkan.NewBackend(vulkan.BackendConfig{
		ApplicationName: config.ApplicationName,
		FramesInFlight:  config.FramesInFlight,
		FenceTimeoutNs:  config.FenceTimeoutMs * 1_000_000,
	}, r.epochs)
	if err != nil {
		return nil, err
	}
	r.backend = backend

	if err := r.initSystems(); err != nil {
		r.Shutdown()
		return nil, err
	}
	return r, nil
}

func (r *Renderer) initSystems() error {
	context := r.backend.Context()

	bindlessSet, err := vulkan.NewBindlessDescriptorSet(context, r.config.MaxSampledImages, r.config.MaxSamplers)
	if err != nil {
		return err
	}
	r.bindlessSet = bindlessSet

	r.Bindless, err = systems.NewBindlessSystem(systems.BindlessSystemConfig{
		MaxSampledImages: r.config.MaxSampledImages,
		MaxSamplers:      r.config.MaxSamplers,
	}, bindlessSet, r.epochs)
	if err != nil {
		return err
	}

	r.materialRegion, err = r.backend.Regions.Allocate(r.config.RegionSize, true)
	if err != nil {
		return err
	}
	r.cameraRegions = make([]*memory.Region, r.config.FramesInFlight)
	for i := range r.cameraRegions {
		// One camera block per frame; 256 bytes covers the block plus
		// allocator alignment.
		region, err := r.backend.Regions.Allocate(256, true)
		if err != nil {
			return err
		}
		r.cameraRegions[i] = region
	}

	r.Camera, err = systems.NewCameraSystem(systems.CameraSystemConfig{
		FramesInFlight: r.config.FramesInFlight,
	}, r.cameraRegions)
	if err != nil {
		return err
	}

	r.Materials, err = systems.NewMaterialSystem(r.Bindless, r.materialRegion)
	if err != nil {
		return err
	}

	r.Submission, err = systems.NewSubmissionSystem(systems.SubmissionSystemConfig{
		QueueDepth: r.config.SubmissionQueueDepth,
	})
	if err != nil {
		return err
	}

	r.Shaders, err = systems.NewShaderSystem(systems.ShaderSystemConfig{
		WatchForChanges: r.config.WatchShaders,
	})
	if err != nil {
		return err
	}
	// A reloaded module gets a fresh identity, so pipeline keys built from
	// it no longer match and stale pipelines age out through the LRU.
	r.Shaders.OnReload(func(module *systems.ShaderModule) {
		core.LogInfo("Shader %s reloaded, pipelines will rebuild on next use", module.Name)
	})

	r.Pipelines, err = systems.NewPipelineCacheSystem(systems.PipelineCacheConfig[*vulkan.VulkanPipeline]{
		MaxPipelines:   r.config.MaxPipelines,
		BackendVersion: context.Device.BackendVersionTag(),
		Restore:        r.restorePipeline,
		Destroy: func(pipeline *vulkan.VulkanPipeline) {
			if err := pipeline.Destroy(context); err != nil {
				core.LogError("destroying evicted pipeline: %v", err)
			}
		},
	}, r.epochs)
	if err != nil {
		return err
	}

	if err := r.initPipelineCache(); err != nil {
		return err
	}

	core.LogInfo("Renderer initialized: %d texture slots, %d sampler slots, %d frames in flight",
		r.config.MaxSampledImages, r.config.MaxSamplers, r.config.FramesInFlight)
	return nil
}

// initPipelineCache primes the driver-level cache from disk and loads the
// persisted pipeline records as warm entries.
func (r *Renderer) initPipelineCache() error {
	var driverBlob []byte
	if r.config.PipelineCachePath != "" {
		driverBlob = readDriverCache(r.config.PipelineCachePath + ".driver")
		if err := r.Pipelines.Load(r.config.PipelineCachePath); err != nil {
			core.LogWarn("loading pipeline cache: %v", err)
		}
	}
	return r.backend.CreateDriverCache(driverBlob)
}

// BeginFrame opens the next in-flight frame: waits its fence, retires the
// epoch it last recorded under, drains the submission queue, and collects
// resources freed by retired epochs.
func (r *Renderer) BeginFrame() error {
	commandBuffer, err := r.backend.BeginFrame()
	if err != nil {
		return err
	}
	r.currentCommandBuffer = commandBuffer

	if err := r.Submission.Apply(); err != nil {
		return err
	}
	r.Pipelines.CollectGarbage()
	return nil
}

func (r *Renderer) EndFrame() error {
	r.currentCommandBuffer = nil
	return r.backend.EndFrame()
}

// FrameIndex returns the in-flight slot currently being recorded.
func (r *Renderer) FrameIndex() uint32 {
	return r.backend.FrameIndex()
}

// CommandBuffer returns the frame command buffer between BeginFrame and
// EndFrame, nil outside of a frame.
func (r *Renderer) CommandBuffer() *vulkan.VulkanCommandBuffer {
	return r.currentCommandBuffer
}

// DescriptorSet returns the global bindless descriptor set, bound once
// per frame at set 0.
func (r *Renderer) DescriptorSet() *vulkan.BindlessDescriptorSet {
	return r.bindlessSet
}

// UpdateCamera writes the current frame's camera block and returns its
// device address for push constants.
func (r *Renderer) UpdateCamera(view, projection math.Mat4, position math.Vec3) (metadata.DeviceAddress, error) {
	return r.Camera.Update(r.backend.FrameIndex(), view, projection, position)
}

// AllocateRegion hands out a fresh device memory region, host-visible
// when mappable is set.
func (r *Renderer) AllocateRegion(size uint64, mappable bool) (*memory.Region, error) {
	return r.backend.Regions.Allocate(size, mappable)
}

// GetPipeline returns the graphics pipeline for the named shader stages
// and fixed-function state, building it at most once. Concurrent callers
// for the same combination collapse onto a single build.
func (r *Renderer) GetPipeline(shaderNames []string, state metadata.RenderState) (*vulkan.VulkanPipeline, error) {
	names := append([]string(nil), shaderNames...)
	sort.Strings(names)

	modules := make([]*systems.ShaderModule, 0, len(names))
	ids := make([]uuid.UUID, 0, len(names))
	reflections := make([]*spirv.Reflection, 0, len(names))
	for _, name := range names {
		module := r.Shaders.Get(name)
		if module == nil {
			return nil, fmt.Errorf("shader %q is not loaded: %w", name, core.ErrInvalidHandle)
		}
		modules = append(modules, module)
		ids = append(ids, module.ID)
		reflections = append(reflections, module.Reflection)
	}

	spec, err := layout.Build(reflections)
	if err != nil {
		return nil, err
	}

	key := systems.PipelineKey{Shaders: ids, Layout: spec, State: state}
	return r.Pipelines.GetOrBuild(key, func() (*vulkan.VulkanPipeline, []byte, error) {
		pipeline, err := r.buildVulkanPipeline(modules, spec, state)
		if err != nil {
			return nil, nil, err
		}
		return pipeline, encodePipelineBlob(names, state), nil
	})
}

// buildVulkanPipeline compiles the backend pipeline through the driver
// cache. Stage modules are created for the build and destroyed right
// after; the driver keeps what it needs.
func (r *Renderer) buildVulkanPipeline(modules []*systems.ShaderModule, spec *metadata.PipelineLayoutSpec, state metadata.RenderState) (*vulkan.VulkanPipeline, error) {
	context := r.backend.Context()

	stageModules := make([]*vulkan.VulkanShaderModule, 0, len(modules))
	defer func() {
		for _, sm := range stageModules {
			sm.Destroy(context)
		}
	}()

	var stages []vk.PipelineShaderStageCreateInfo
	for _, module := range modules {
		sm, err := vulkan.NewShaderModule(context, module.Code, module.Stage, module.Reflection.EntryPoint)
		if err != nil {
			return nil, err
		}
		stageModules = append(stageModules, sm)
		stages = append(stages, sm.StageCreateInfo)
	}

	cacheHandle := vk.NullPipelineCache
	if r.backend.DriverCache != nil {
		cacheHandle = r.backend.DriverCache.Handle
	}

	return vulkan.NewGraphicsPipeline(context, &vulkan.VulkanPipelineConfig{
		Renderpass:     r.backend.Renderpass,
		Spec:           spec,
		BindlessLayout: r.bindlessSet.Layout,
		Stages:         stages,
		State:          state,
		Cache:          cacheHandle,
	})
}

// restorePipeline recreates a pipeline from its persisted record. The
// named shaders must already be loaded; the rebuild goes through the
// primed driver cache so no shader recompilation happens.
func (r *Renderer) restorePipeline(blob []byte) (*vulkan.VulkanPipeline, error) {
	names, state, err := decodePipelineBlob(blob)
	if err != nil {
		return nil, err
	}
	modules := make([]*systems.ShaderModule, 0, len(names))
	reflections := make([]*spirv.Reflection, 0, len(names))
	for _, name := range names {
		module := r.Shaders.Get(name)
		if module == nil {
			return nil, fmt.Errorf("persisted pipeline references unloaded shader %q", name)
		}
		modules = append(modules, module)
		reflections = append(reflections, module.Reflection)
	}
	spec, err := layout.Build(reflections)
	if err != nil {
		return nil, err
	}
	return r.buildVulkanPipeline(modules, spec, state)
}

// WaitIdle drains all GPU work and retires every epoch. Deferred releases
// become immediately collectable afterwards.
func (r *Renderer) WaitIdle() error {
	if err := r.backend.WaitIdle(); err != nil {
		return err
	}
	r.Pipelines.CollectGarbage()
	return nil
}

func (r *Renderer) Shutdown() error {
	if r.backend == nil {
		return nil
	}
	if err := r.backend.WaitIdle(); err != nil {
		core.LogError("device idle wait during shutdown: %v", err)
	}

	if r.Pipelines != nil {
		if r.config.PipelineCachePath != "" {
			if err := r.Pipelines.Save(r.config.PipelineCachePath); err != nil {
				core.LogWarn("saving pipeline cache: %v", err)
			}
			if r.backend.DriverCache != nil {
				if data, err := r.backend.DriverCache.Data(r.backend.Context()); err == nil {
					writeDriverCache(r.config.PipelineCachePath+".driver", data)
				}
			}
		}
		r.Pipelines.CollectGarbage()
		if err := r.Pipelines.Shutdown(); err != nil {
			core.LogError("pipeline cache shutdown: %v", err)
		}
	}
	if r.Shaders != nil {
		if err := r.Shaders.Shutdown(); err != nil {
			core.LogError("shader system shutdown: %v", err)
		}
	}
	if r.Submission != nil {
		if err := r.Submission.Shutdown(); err != nil {
			core.LogError("submission system shutdown: %v", err)
		}
	}
	if r.Materials != nil {
		if err := r.Materials.Shutdown(); err != nil {
			core.LogError("material system shutdown: %v", err)
		}
	}
	if r.Camera != nil {
		if err := r.Camera.Shutdown(); err != nil {
			core.LogError("camera system shutdown: %v", err)
		}
	}
	if r.Bindless != nil {
		if err := r.Bindless.Shutdown(); err != nil {
			core.LogError("bindless system shutdown: %v", err)
		}
	}
	if r.bindlessSet != nil {
		r.bindlessSet.Destroy()
		r.bindlessSet = nil
	}
	r.backend.Shutdown()
	r.backend = nil
	core.LogInfo("Renderer shut down")
	return nil
}

// Persisted pipeline records carry what the restore path needs: the
// shader names and the packed fixed-function state. The heavyweight
// compilation result lives in the driver cache file next to it.
func encodePipelineBlob(names []string, state metadata.RenderState) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, state.Packed())
	binary.Write(&buf, binary.LittleEndian, uint32(len(names)))
	for _, name := range names {
		binary.Write(&buf, binary.LittleEndian, uint32(len(name)))
		buf.WriteString(name)
	}
	return buf.Bytes()
}

func decodePipelineBlob(blob []byte) ([]string, metadata.RenderState, error) {
	buf := bytes.NewReader(blob)
	var packed, count uint32
	if err := binary.Read(buf, binary.LittleEndian, &packed); err != nil {
		return nil, metadata.RenderState{}, fmt.Errorf("truncated pipeline record: %w", err)
	}
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, metadata.RenderState{}, fmt.Errorf("truncated pipeline record: %w", err)
	}
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint32
		if err := binary.Read(buf, binary.LittleEndian, &nameLen); err != nil {
			return nil, metadata.RenderState{}, fmt.Errorf("truncated pipeline record: %w", err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(buf, name); err != nil {
			return nil, metadata.RenderState{}, fmt.Errorf("truncated pipeline record: %w", err)
		}
		names = append(names, string(name))
	}
	return names, metadata.UnpackRenderState(packed), nil
}

// The driver-level cache blob is opaque to us; the driver validates it
// against its own header on priming and discards stale data itself.
func readDriverCache(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

func writeDriverCache(path string, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		core.LogWarn("writing driver cache %s: %v", path, err)
	}
}
