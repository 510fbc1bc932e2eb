package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		return nil, resultError("vkAllocateCommandBuffers", res)
	}
	return &VulkanCommandBuffer{
		Handle: handles[0],
		State:  COMMAND_BUFFER_STATE_READY,
	}, nil
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return fmt.Errorf("command buffer cannot begin in state %d", v.State)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}
	if res := vk.BeginCommandBuffer(v.Handle, &beginInfo); res != vk.Success {
		return resultError("vkBeginCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("command buffer cannot end in state %d", v.State)
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return resultError("vkEndCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// slotPools hands out one command pool per encoder so that encoders of the
// same frame slot can record on different goroutines. Pools come back when
// the slot is reset.
type slotPools struct {
	mu    sync.Mutex
	free  []vk.CommandPool
	inUse []vk.CommandPool
}

type commandAllocator struct {
	context *VulkanContext
	slots   []*slotPools
}

func newCommandAllocator(context *VulkanContext, numSlots int) *commandAllocator {
	a := &commandAllocator{context: context, slots: make([]*slotPools, numSlots)}
	for i := range a.slots {
		a.slots[i] = &slotPools{}
	}
	return a
}

func (a *commandAllocator) slot(slot uint32) (*slotPools, error) {
	if int(slot) >= len(a.slots) {
		return nil, fmt.Errorf("frame slot %d out of range (%d slots)", slot, len(a.slots))
	}
	return a.slots[slot], nil
}

// acquire returns a pool of the slot and a fresh primary command buffer from it.
func (a *commandAllocator) acquire(slot uint32) (*VulkanCommandBuffer, error) {
	sp, err := a.slot(slot)
	if err != nil {
		return nil, err
	}
	sp.mu.Lock()
	var pool vk.CommandPool
	if n := len(sp.free); n > 0 {
		pool = sp.free[n-1]
		sp.free = sp.free[:n-1]
	}
	sp.mu.Unlock()

	if pool == nil {
		createInfo := vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: a.context.Device.QueueIndex,
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		}
		if res := vk.CreateCommandPool(a.context.Device.LogicalDevice, &createInfo, a.context.Allocator, &pool); res != vk.Success {
			return nil, resultError("vkCreateCommandPool", res)
		}
	}

	cb, err := NewVulkanCommandBuffer(a.context, pool, true)
	if err != nil {
		sp.mu.Lock()
		sp.free = append(sp.free, pool)
		sp.mu.Unlock()
		return nil, err
	}
	sp.mu.Lock()
	sp.inUse = append(sp.inUse, pool)
	sp.mu.Unlock()
	return cb, nil
}

// reset recycles every pool of the slot. The caller guarantees the GPU is
// done with all of their command buffers.
func (a *commandAllocator) reset(slot uint32) error {
	sp, err := a.slot(slot)
	if err != nil {
		return err
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for i, pool := range sp.inUse {
		if res := vk.ResetCommandPool(a.context.Device.LogicalDevice, pool, 0); res != vk.Success {
			sp.inUse = sp.inUse[i:]
			return resultError("vkResetCommandPool", res)
		}
		sp.free = append(sp.free, pool)
	}
	sp.inUse = sp.inUse[:0]
	return nil
}

func (a *commandAllocator) destroy() {
	for _, sp := range a.slots {
		sp.mu.Lock()
		for _, pool := range append(sp.free, sp.inUse...) {
			vk.DestroyCommandPool(a.context.Device.LogicalDevice, pool, a.context.Allocator)
		}
		sp.free, sp.inUse = nil, nil
		sp.mu.Unlock()
	}
}
