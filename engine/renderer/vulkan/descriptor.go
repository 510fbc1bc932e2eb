package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// descriptorLayoutCache creates one VkDescriptorSetLayout per BindingLayout.
// Binding layouts are immutable, so the pointer is a good key.
type descriptorLayoutCache struct {
	mu      sync.Mutex
	layouts map[*rhi.BindingLayout]vk.DescriptorSetLayout
}

func newDescriptorLayoutCache() *descriptorLayoutCache {
	return &descriptorLayoutCache{layouts: make(map[*rhi.BindingLayout]vk.DescriptorSetLayout)}
}

func descriptorCount(slot rhi.BindingSlot) uint32 {
	if slot.Kind == rhi.ImageArrayBinding && slot.Count > 0 {
		return slot.Count
	}
	return 1
}

func (c *descriptorLayoutCache) get(context *VulkanContext, layout *rhi.BindingLayout) (vk.DescriptorSetLayout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.layouts[layout]; ok {
		return l, nil
	}

	slots := layout.Slots()
	bindings := make([]vk.DescriptorSetLayoutBinding, len(slots))
	for i, slot := range slots {
		descriptorType, err := toDescriptorType(slot.Kind)
		if err != nil {
			return nil, err
		}
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         slot.Binding,
			DescriptorType:  descriptorType,
			DescriptorCount: descriptorCount(slot),
			StageFlags:      toShaderStages(slot.Stages),
		}
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var setLayout vk.DescriptorSetLayout
	err := context.Locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkCreateDescriptorSetLayout",
			vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &setLayout))
	})
	if err != nil {
		return nil, err
	}
	c.layouts[layout] = setLayout
	return setLayout, nil
}

func (c *descriptorLayoutCache) destroy(context *VulkanContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, l := range c.layouts {
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, l, context.Allocator)
		delete(c.layouts, key)
	}
}

// VulkanBindGroup owns a pool sized for exactly one descriptor set. Bind
// groups are immutable, so the set is written once and never updated.
type VulkanBindGroup struct {
	Pool vk.DescriptorPool
	Set  vk.DescriptorSet
}

func NewVulkanBindGroup(context *VulkanContext, setLayout vk.DescriptorSetLayout, layout *rhi.BindingLayout, bindings []rhi.ResolvedBinding) (*VulkanBindGroup, error) {
	counts := map[vk.DescriptorType]uint32{}
	for _, slot := range layout.Slots() {
		t, err := toDescriptorType(slot.Kind)
		if err != nil {
			return nil, err
		}
		counts[t] += descriptorCount(slot)
	}
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(counts))
	for t, n := range counts {
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n})
	}

	group := &VulkanBindGroup{}
	device := context.Device.LogicalDevice
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(device, &poolInfo, context.Allocator, &group.Pool); res != vk.Success {
		return nil, resultError("vkCreateDescriptorPool", res)
	}

	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     group.Pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{setLayout},
	}
	if res := vk.AllocateDescriptorSets(device, &allocateInfo, &group.Set); res != vk.Success {
		group.Destroy(context)
		return nil, resultError("vkAllocateDescriptorSets", res)
	}

	writes := make([]vk.WriteDescriptorSet, 0, len(bindings))
	for _, b := range bindings {
		descriptorType, err := toDescriptorType(b.Slot.Kind)
		if err != nil {
			group.Destroy(context)
			return nil, err
		}
		write := vk.WriteDescriptorSet{
			SType:          vk.StructureTypeWriteDescriptorSet,
			DstSet:         group.Set,
			DstBinding:     b.Slot.Binding,
			DescriptorType: descriptorType,
		}
		switch {
		case b.Buffer != nil:
			write.DescriptorCount = 1
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: nativeBuffer(b.Buffer).Handle,
				Offset: 0,
				Range:  vk.DeviceSize(vk.WholeSize),
			}}
		case len(b.Images) > 0:
			// Unfilled array elements repeat the first image; partially bound
			// descriptor arrays are an optional feature.
			n := descriptorCount(b.Slot)
			infos := make([]vk.DescriptorImageInfo, n)
			for i := range infos {
				img := b.Images[0]
				if i < len(b.Images) {
					img = b.Images[i]
				}
				infos[i] = vk.DescriptorImageInfo{
					Sampler:     context.DefaultSampler,
					ImageView:   nativeImage(img).View,
					ImageLayout: vk.ImageLayoutGeneral,
				}
			}
			write.DescriptorCount = n
			write.PImageInfo = infos
		default:
			continue
		}
		writes = append(writes, write)
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(device, uint32(len(writes)), writes, 0, nil)
	}
	return group, nil
}

func (g *VulkanBindGroup) Destroy(context *VulkanContext) {
	if g.Pool != nil {
		// Destroying the pool frees the set.
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, g.Pool, context.Allocator)
		g.Pool = nil
		g.Set = nil
	}
}
