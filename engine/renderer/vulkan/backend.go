package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
)

type BackendConfig struct {
	/** @brief The application name reported to the driver. */
	ApplicationName string
	/** @brief Number of frames recorded ahead of the GPU. */
	FramesInFlight uint32
	/** @brief Nanoseconds a frame fence wait may block before failing. */
	FenceTimeoutNs uint64
	/** @brief The offscreen color target format. */
	ColorFormat vk.Format
}

/**
 * @brief Owns the Vulkan instance, device, and per-frame synchronization.
 * The backend is created once at device init and destroyed at device
 * teardown; everything else in the renderer borrows from it.
 */
type VulkanBackend struct {
	context *VulkanContext
	epochs  *memory.EpochTracker
	config  BackendConfig

	Regions     *RegionAllocator
	Renderpass  *VulkanRenderPass
	DriverCache *VulkanPipelineCache

	commandBuffers []*VulkanCommandBuffer
}

func NewBackend(config BackendConfig, epochs *memory.EpochTracker) (*VulkanBackend, error) {
	if config.FramesInFlight == 0 {
		config.FramesInFlight = 3
	}
	if config.FenceTimeoutNs == 0 {
		config.FenceTimeoutNs = uint64(1_000_000_000)
	}
	if config.ColorFormat == vk.FormatUndefined {
		config.ColorFormat = vk.FormatB8g8r8a8Unorm
	}

	backend := &VulkanBackend{
		epochs: epochs,
		config: config,
		context: &VulkanContext{
			FramesInFlight: config.FramesInFlight,
		},
	}

	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, fmt.Errorf("locating the Vulkan loader: %w", err)
	}
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("initializing the Vulkan loader: %w", err)
	}

	applicationInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(config.ApplicationName),
		PEngineName:        VulkanSafeString("Vega Engine"),
	}

	instanceCreateInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: applicationInfo,
	}

	var instance vk.Instance
	if err := lockPool.SafeCall(InstanceManagement, func() error {
		if res := vk.CreateInstance(&instanceCreateInfo, backend.context.Allocator, &instance); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateInstance failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	backend.context.Instance = instance
	vk.InitInstance(instance)

	if err := DeviceCreate(backend.context); err != nil {
		backend.Shutdown()
		return nil, err
	}

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: backend.context.Device.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var commandPool vk.CommandPool
	if res := vk.CreateCommandPool(backend.context.Device.LogicalDevice, &poolCreateInfo, backend.context.Allocator, &commandPool); !VulkanResultIsSuccess(res) {
		backend.Shutdown()
		return nil, fmt.Errorf("vkCreateCommandPool failed with %s", VulkanResultString(res))
	}
	backend.context.GraphicsCommandPool = commandPool

	backend.context.InFlightFences = make([]*VulkanFence, config.FramesInFlight)
	backend.context.FrameEpochs = make([]uint64, config.FramesInFlight)
	backend.commandBuffers = make([]*VulkanCommandBuffer, config.FramesInFlight)
	for i := uint32(0); i < config.FramesInFlight; i++ {
		fence, err := NewFence(backend.context, true)
		if err != nil {
			backend.Shutdown()
			return nil, err
		}
		backend.context.InFlightFences[i] = fence

		commandBuffer, err := NewVulkanCommandBuffer(backend.context, commandPool, true)
		if err != nil {
			backend.Shutdown()
			return nil, err
		}
		backend.commandBuffers[i] = commandBuffer
	}

	renderpass, err := RenderpassCreate(backend.context, config.ColorFormat)
	if err != nil {
		backend.Shutdown()
		return nil, err
	}
	backend.Renderpass = renderpass

	backend.Regions = NewRegionAllocator(backend.context)

	core.LogInfo("Vulkan backend initialized (%d frames in flight)", config.FramesInFlight)
	return backend, nil
}

func (b *VulkanBackend) Context() *VulkanContext {
	return b.context
}

// CreateDriverCache builds the driver-level pipeline cache, primed with
// persisted data when there is any.
func (b *VulkanBackend) CreateDriverCache(initialData []byte) error {
	cache, err := NewVulkanPipelineCache(b.context, initialData)
	if err != nil {
		return err
	}
	b.DriverCache = cache
	return nil
}

// BeginFrame waits for the frame's slot to be free on the GPU, retires
// the epoch the slot's previous frame was recorded under, opens a new
// epoch, and begins the frame command buffer. Returns the command buffer
// to record into.
func (b *VulkanBackend) BeginFrame() (*VulkanCommandBuffer, error) {
	frame := b.context.CurrentFrame
	fence := b.context.InFlightFences[frame]

	if err := fence.Wait(b.context, b.config.FenceTimeoutNs); err != nil {
		return nil, err
	}
	// The GPU finished everything recorded under this slot's last epoch.
	if previous := b.context.FrameEpochs[frame]; previous != 0 {
		b.epochs.Retire(previous)
	}
	if err := fence.Reset(b.context); err != nil {
		return nil, err
	}

	b.context.FrameEpochs[frame] = b.epochs.Begin()

	commandBuffer := b.commandBuffers[frame]
	commandBuffer.Reset()
	if err := commandBuffer.Begin(false, false); err != nil {
		return nil, err
	}
	return commandBuffer, nil
}

// EndFrame ends recording and submits under the frame fence, then
// advances to the next in-flight slot.
func (b *VulkanBackend) EndFrame() error {
	frame := b.context.CurrentFrame
	commandBuffer := b.commandBuffers[frame]
	fence := b.context.InFlightFences[frame]

	if err := commandBuffer.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{commandBuffer.Handle},
	}
	if err := lockPool.SafeQueueCall(b.context.Device.GraphicsQueueIndex, func() error {
		if res := vk.QueueSubmit(b.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); !VulkanResultIsSuccess(res) {
			if res == vk.ErrorDeviceLost {
				return fmt.Errorf("queue submit: %w", core.ErrDeviceLost)
			}
			return fmt.Errorf("vkQueueSubmit failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		return err
	}
	commandBuffer.UpdateSubmitted()

	b.context.CurrentFrame = (frame + 1) % b.context.FramesInFlight
	return nil
}

// FrameIndex returns the in-flight slot currently being recorded.
func (b *VulkanBackend) FrameIndex() uint32 {
	return b.context.CurrentFrame
}

// WaitIdle blocks until the device drained all submitted work and
// retires every open epoch.
func (b *VulkanBackend) WaitIdle() error {
	if b.context.Device == nil || b.context.Device.LogicalDevice == nil {
		return nil
	}
	if res := vk.DeviceWaitIdle(b.context.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
		if res == vk.ErrorDeviceLost {
			return fmt.Errorf("device wait idle: %w", core.ErrDeviceLost)
		}
		return fmt.Errorf("vkDeviceWaitIdle failed with %s", VulkanResultString(res))
	}
	b.epochs.Retire(b.epochs.Current())
	return nil
}

func (b *VulkanBackend) Shutdown() {
	if b.context == nil {
		return
	}
	if err := b.WaitIdle(); err != nil {
		core.LogError("waiting for device idle during shutdown: %v", err)
	}

	if b.DriverCache != nil {
		b.DriverCache.Destroy(b.context)
		b.DriverCache = nil
	}
	if b.Regions != nil {
		b.Regions.Destroy()
		b.Regions = nil
	}
	if b.Renderpass != nil {
		b.Renderpass.Destroy(b.context)
		b.Renderpass = nil
	}

	device := b.context.Device
	if device != nil && device.LogicalDevice != nil {
		for _, commandBuffer := range b.commandBuffers {
			if commandBuffer != nil && commandBuffer.Handle != nil {
				commandBuffer.Free(b.context, b.context.GraphicsCommandPool)
			}
		}
		b.commandBuffers = nil
		for _, fence := range b.context.InFlightFences {
			if fence != nil {
				fence.Destroy(b.context)
			}
		}
		b.context.InFlightFences = nil
		if b.context.GraphicsCommandPool != vk.NullCommandPool {
			vk.DestroyCommandPool(device.LogicalDevice, b.context.GraphicsCommandPool, b.context.Allocator)
			b.context.GraphicsCommandPool = vk.NullCommandPool
		}
		device.Destroy(b.context)
	}
	if b.context.Instance != nil {
		vk.DestroyInstance(b.context.Instance, b.context.Allocator)
		b.context.Instance = nil
	}
	core.LogInfo("Vulkan backend shut down")
}
