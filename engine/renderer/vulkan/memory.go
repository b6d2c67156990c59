package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief Backs memory.Region with device buffers created for shader
 * device addressing. The allocator exclusively owns the buffers; regions
 * handed out are non-owning views that die with the allocator.
 */
type RegionAllocator struct {
	context *VulkanContext

	mu      sync.Mutex
	regions []*deviceRegion
	nextID  uint32
}

type deviceRegion struct {
	buffer vk.Buffer
	memory vk.DeviceMemory
	mapped bool
	region *memory.Region
}

func NewRegionAllocator(context *VulkanContext) *RegionAllocator {
	return &RegionAllocator{context: context}
}

// Allocate creates an address-stable device buffer of size bytes and
// wraps it in a Region. hostVisible selects mapped, coherent memory for
// write-through updates; otherwise the region is device-local and takes
// data through staged uploads only.
func (ra *RegionAllocator) Allocate(size uint64, hostVisible bool) (*memory.Region, error) {
	device := ra.context.Device.LogicalDevice

	usage := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit) |
		vk.BufferUsageFlags(vk.BufferUsageShaderDeviceAddressBit) |
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)

	var buffer vk.Buffer
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	if err := lockPool.SafeCall(BufferManagement, func() error {
		if res := vk.CreateBuffer(device, &bufferCreateInfo, ra.context.Allocator, &buffer); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateBuffer failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &requirements)
	requirements.Deref()

	propertyFlags := uint32(vk.MemoryPropertyDeviceLocalBit)
	if hostVisible {
		propertyFlags = uint32(vk.MemoryPropertyHostVisibleBit) | uint32(vk.MemoryPropertyHostCoherentBit)
	}
	memoryIndex := ra.context.FindMemoryIndex(requirements.MemoryTypeBits, propertyFlags)
	if memoryIndex < 0 {
		vk.DestroyBuffer(device, buffer, ra.context.Allocator)
		return nil, fmt.Errorf("no memory type backs the requested region")
	}

	// Buffers created for shader addressing need the matching allocation
	// flag or GetBufferDeviceAddress is undefined.
	allocateFlags := vk.MemoryAllocateFlagsInfo{
		SType: vk.StructureTypeMemoryAllocateFlagsInfo,
		Flags: vk.MemoryAllocateFlags(vk.MemoryAllocateDeviceAddressBit),
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
		PNext:           unsafe.Pointer(&allocateFlags),
	}

	var deviceMemory vk.DeviceMemory
	if err := lockPool.SafeCall(MemoryManagement, func() error {
		if res := vk.AllocateMemory(device, &allocateInfo, ra.context.Allocator, &deviceMemory); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkAllocateMemory failed with %s", VulkanResultString(res))
		}
		if res := vk.BindBufferMemory(device, buffer, deviceMemory, 0); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkBindBufferMemory failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		vk.DestroyBuffer(device, buffer, ra.context.Allocator)
		return nil, err
	}

	var host []byte
	if hostVisible {
		var mappedPtr unsafe.Pointer
		if res := vk.MapMemory(device, deviceMemory, 0, vk.DeviceSize(size), 0, &mappedPtr); !VulkanResultIsSuccess(res) {
			vk.FreeMemory(device, deviceMemory, ra.context.Allocator)
			vk.DestroyBuffer(device, buffer, ra.context.Allocator)
			return nil, fmt.Errorf("vkMapMemory failed with %s", VulkanResultString(res))
		}
		host = unsafe.Slice((*byte)(mappedPtr), size)
	}

	addressInfo := vk.BufferDeviceAddressInfo{
		SType:  vk.StructureTypeBufferDeviceAddressInfo,
		Buffer: buffer,
	}
	address := vk.GetBufferDeviceAddress(device, &addressInfo)

	ra.mu.Lock()
	id := ra.nextID
	ra.nextID++
	ra.mu.Unlock()

	region, err := memory.NewRegion(id, metadata.DeviceAddress(address), size, host)
	if err != nil {
		if host != nil {
			vk.UnmapMemory(device, deviceMemory)
		}
		vk.FreeMemory(device, deviceMemory, ra.context.Allocator)
		vk.DestroyBuffer(device, buffer, ra.context.Allocator)
		return nil, err
	}

	ra.mu.Lock()
	ra.regions = append(ra.regions, &deviceRegion{
		buffer: buffer,
		memory: deviceMemory,
		mapped: host != nil,
		region: region,
	})
	ra.mu.Unlock()

	core.LogDebug("Region %d allocated: %d bytes at %#x (host visible: %v)", id, size, uint64(address), hostVisible)
	return region, nil
}

// Destroy frees every region. The caller must have waited for the device
// to go idle; any surviving Block is invalidated through a region reset
// before the backing memory goes away.
func (ra *RegionAllocator) Destroy() {
	device := ra.context.Device.LogicalDevice

	ra.mu.Lock()
	regions := ra.regions
	ra.regions = nil
	ra.mu.Unlock()

	for _, dr := range regions {
		dr.region.Reset()
		if dr.mapped {
			vk.UnmapMemory(device, dr.memory)
		}
		vk.FreeMemory(device, dr.memory, ra.context.Allocator)
		vk.DestroyBuffer(device, dr.buffer, ra.context.Allocator)
	}
}
