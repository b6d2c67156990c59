package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vega/engine/core"
)

/**
 * @brief The physical and logical device plus the queues the renderer
 * submits to. Device selection requires the Vulkan 1.2 descriptor
 * indexing and buffer device address features; both are non-negotiable for
 * a bindless renderer.
 */
type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	GraphicsQueueIndex uint32
	TransferQueueIndex uint32
	GraphicsQueue      vk.Queue
	TransferQueue      vk.Queue

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties
}

func DeviceCreate(context *VulkanContext) error {
	if err := selectPhysicalDevice(context); err != nil {
		return err
	}

	device := context.Device
	core.LogInfo("Creating logical device...")

	queueIndices := []uint32{device.GraphicsQueueIndex}
	if device.TransferQueueIndex != device.GraphicsQueueIndex {
		queueIndices = append(queueIndices, device.TransferQueueIndex)
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(queueIndices))
	for i, index := range queueIndices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	// The bindless feature set. CreateDevice fails on hardware that
	// cannot provide it, which is the intended behavior.
	bindlessFeatures := vk.PhysicalDeviceVulkan12Features{
		SType:              vk.StructureTypePhysicalDeviceVulkan12Features,
		DescriptorIndexing: vk.True,
		DescriptorBindingVariableDescriptorCount:     vk.True,
		DescriptorBindingSampledImageUpdateAfterBind: vk.True,
		DescriptorBindingUpdateUnusedWhilePending:    vk.True,
		DescriptorBindingPartiallyBound:              vk.True,
		RuntimeDescriptorArray:                       vk.True,
		BufferDeviceAddress:                          vk.True,
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),
		PQueueCreateInfos:    queueCreateInfos,
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy:                      vk.True,
			ShaderSampledImageArrayDynamicIndexing: vk.True,
		}},
		PNext: unsafe.Pointer(&bindlessFeatures),
	}

	var logicalDevice vk.Device
	if err := lockPool.SafeCall(DeviceManagement, func() error {
		if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logicalDevice); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateDevice failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		return err
	}
	device.LogicalDevice = logicalDevice

	var graphicsQueue, transferQueue vk.Queue
	vk.GetDeviceQueue(device.LogicalDevice, device.GraphicsQueueIndex, 0, &graphicsQueue)
	vk.GetDeviceQueue(device.LogicalDevice, device.TransferQueueIndex, 0, &transferQueue)
	device.GraphicsQueue = graphicsQueue
	device.TransferQueue = transferQueue
	lockPool.SetQueueFamily(device.GraphicsQueueIndex)
	lockPool.SetQueueFamily(device.TransferQueueIndex)

	core.LogInfo("Logical device created")
	return nil
}

func selectPhysicalDevice(context *VulkanContext) error {
	var deviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &deviceCount, nil); res != vk.Success || deviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, deviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &deviceCount, physicalDevices); res != vk.Success {
		return fmt.Errorf("vkEnumeratePhysicalDevices failed with %s", VulkanResultString(res))
	}

	var fallback *VulkanDevice
	for _, physicalDevice := range physicalDevices {
		candidate, err := evaluateDevice(physicalDevice)
		if err != nil {
			core.LogDebug("skipping device: %v", err)
			continue
		}
		candidate.Properties.Deref()
		if candidate.Properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			context.Device = candidate
			logSelectedDevice(candidate)
			return nil
		}
		if fallback == nil {
			fallback = candidate
		}
	}
	if fallback == nil {
		return fmt.Errorf("no device meets the bindless renderer requirements")
	}
	context.Device = fallback
	logSelectedDevice(fallback)
	return nil
}

func evaluateDevice(physicalDevice vk.PhysicalDevice) (*VulkanDevice, error) {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(physicalDevice, &properties)
	properties.Deref()

	// Vulkan 1.2 is the floor for descriptor indexing and buffer device
	// address as core features.
	if properties.ApiVersion < uint32(vk.MakeVersion(1, 2, 0)) {
		return nil, fmt.Errorf("device API version below 1.2")
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, nil)
	if queueFamilyCount == 0 {
		return nil, fmt.Errorf("device has no queue families")
	}
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, queueFamilies)

	graphicsIndex := int32(-1)
	transferIndex := int32(-1)
	for i := uint32(0); i < queueFamilyCount; i++ {
		queueFamilies[i].Deref()
		flags := queueFamilies[i].QueueFlags
		if graphicsIndex < 0 && flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			graphicsIndex = int32(i)
		}
		// Prefer a dedicated transfer family for staged uploads.
		if flags&vk.QueueFlags(vk.QueueTransferBit) != 0 && flags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			transferIndex = int32(i)
		}
	}
	if graphicsIndex < 0 {
		return nil, fmt.Errorf("device has no graphics queue")
	}
	if transferIndex < 0 {
		transferIndex = graphicsIndex
	}

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memory)
	memory.Deref()

	return &VulkanDevice{
		PhysicalDevice:     physicalDevice,
		GraphicsQueueIndex: uint32(graphicsIndex),
		TransferQueueIndex: uint32(transferIndex),
		Properties:         properties,
		Memory:             memory,
	}, nil
}

func logSelectedDevice(device *VulkanDevice) {
	nameBytes := device.Properties.DeviceName[:]
	name := string(nameBytes)
	for i, b := range nameBytes {
		if b == 0 {
			name = string(nameBytes[:i])
			break
		}
	}
	core.LogInfo("Selected device: %s (driver %d.%d.%d)",
		name,
		(device.Properties.DriverVersion>>22)&0x3ff,
		(device.Properties.DriverVersion>>12)&0x3ff,
		device.Properties.DriverVersion&0xfff)
}

// BackendVersionTag identifies the device and driver for pipeline cache
// invalidation: persisted blobs from a different device or driver build
// are discarded wholesale.
func (d *VulkanDevice) BackendVersionTag() string {
	return fmt.Sprintf("vk-%d-%d-%d", d.Properties.VendorID, d.Properties.DeviceID, d.Properties.DriverVersion)
}

func (d *VulkanDevice) Destroy(context *VulkanContext) {
	if d.LogicalDevice != nil {
		vk.DeviceWaitIdle(d.LogicalDevice)
		vk.DestroyDevice(d.LogicalDevice, context.Allocator)
		d.LogicalDevice = nil
	}
	d.GraphicsQueue = nil
	d.TransferQueue = nil
	d.PhysicalDevice = nil
}
