package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	Usage  vk.BufferUsageFlags
	// Persistent mapping of host-visible buffers.
	Mapped []byte
}

func allocateMemory(context *VulkanContext, requirements vk.MemoryRequirements, properties vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	memoryIndex, err := context.FindMemoryIndex(requirements.MemoryTypeBits, properties)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", rhi.ErrResourceExhausted, err)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		return nil, resultError("vkAllocateMemory", res)
	}
	return memory, nil
}

func NewVulkanBuffer(context *VulkanContext, info rhi.BufferCreateInfo) (*VulkanBuffer, error) {
	usage, properties, err := bufferUsage(info.Usage)
	if err != nil {
		return nil, err
	}
	buffer := &VulkanBuffer{Size: info.Size, Usage: usage}

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	device := context.Device.LogicalDevice
	if res := vk.CreateBuffer(device, &createInfo, context.Allocator, &buffer.Handle); res != vk.Success {
		return nil, resultError("vkCreateBuffer", res)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer.Handle, &requirements)
	requirements.Deref()

	memory, err := allocateMemory(context, requirements, properties)
	if err != nil {
		buffer.Destroy(context)
		return nil, err
	}
	buffer.Memory = memory
	if res := vk.BindBufferMemory(device, buffer.Handle, buffer.Memory, 0); res != vk.Success {
		buffer.Destroy(context)
		return nil, resultError("vkBindBufferMemory", res)
	}

	if properties&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0 {
		var data unsafe.Pointer
		if res := vk.MapMemory(device, buffer.Memory, 0, vk.DeviceSize(info.Size), 0, &data); res != vk.Success {
			buffer.Destroy(context)
			return nil, resultError("vkMapMemory", res)
		}
		buffer.Mapped = unsafe.Slice((*byte)(data), info.Size)
	}
	return buffer, nil
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if b.Mapped != nil {
		vk.UnmapMemory(device, b.Memory)
		b.Mapped = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(device, b.Handle, context.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(device, b.Memory, context.Allocator)
		b.Memory = nil
	}
}

func nativeBuffer(b *rhi.Buffer) *VulkanBuffer {
	vb, ok := b.Native.(*VulkanBuffer)
	if !ok {
		panic(fmt.Sprintf("buffer %s was not created by the vulkan backend", b.Name))
	}
	return vb
}
