package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// renderpassKey identifies render passes that are compatible in the Vulkan
// sense: same attachment formats in the same order.
type renderpassKey struct {
	colors   [rhi.MaxRenderTargets]vk.Format
	count    int
	depth    vk.Format
	hasDepth bool
}

func newRenderpassKey(colors []rhi.ImageFormat, depth *rhi.ImageFormat) (renderpassKey, error) {
	var key renderpassKey
	if len(colors) > len(key.colors) {
		return key, fmt.Errorf("%w: %d render targets, at most %d", rhi.ErrConfiguration, len(colors), len(key.colors))
	}
	for i, f := range colors {
		format, err := toFormat(f)
		if err != nil {
			return key, err
		}
		key.colors[i] = format
	}
	key.count = len(colors)
	if depth != nil {
		format, err := toFormat(*depth)
		if err != nil {
			return key, err
		}
		key.depth = format
		key.hasDepth = true
	}
	return key, nil
}

// renderpassCache creates one VkRenderPass per attachment layout and shares
// it between the pipelines and framebuffers using that layout.
type renderpassCache struct {
	mu     sync.Mutex
	passes map[renderpassKey]vk.RenderPass
}

func newRenderpassCache() *renderpassCache {
	return &renderpassCache{passes: make(map[renderpassKey]vk.RenderPass)}
}

func (c *renderpassCache) get(context *VulkanContext, key renderpassKey) (vk.RenderPass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rp, ok := c.passes[key]; ok {
		return rp, nil
	}
	rp, err := RenderpassCreate(context, key)
	if err != nil {
		return nil, err
	}
	c.passes[key] = rp
	return rp, nil
}

func (c *renderpassCache) destroy(context *VulkanContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, rp := range c.passes {
		vk.DestroyRenderPass(context.Device.LogicalDevice, rp, context.Allocator)
		delete(c.passes, key)
	}
}

// RenderpassCreate builds a single-subpass render pass. Attachments keep
// their contents and stay in the general layout.
func RenderpassCreate(context *VulkanContext, key renderpassKey) (vk.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, 0, key.count+1)
	colorRefs := make([]vk.AttachmentReference, 0, key.count)
	for i := 0; i < key.count; i++ {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.colors[i],
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutGeneral,
			FinalLayout:    vk.ImageLayoutGeneral,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutGeneral,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if key.hasDepth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpLoad,
			StencilStoreOp: vk.AttachmentStoreOpStore,
			InitialLayout:  vk.ImageLayoutGeneral,
			FinalLayout:    vk.ImageLayoutGeneral,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(key.count),
			Layout:     vk.ImageLayoutGeneral,
		}
	}

	// Make earlier writes to the attachments visible before the pass starts.
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllGraphicsBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var renderpass vk.RenderPass
	err := context.Locks.SafeCall(RenderpassManagement, func() error {
		return resultError("vkCreateRenderPass",
			vk.CreateRenderPass(context.Device.LogicalDevice, &createInfo, context.Allocator, &renderpass))
	})
	if err != nil {
		return nil, err
	}
	return renderpass, nil
}
