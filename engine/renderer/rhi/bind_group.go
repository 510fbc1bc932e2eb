package rhi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ResolvedBinding pairs a layout slot with the resources bound to it. It is
// what backends receive when they build their native descriptor tables.
type ResolvedBinding struct {
	Slot   BindingSlot
	Buffer *Buffer
	Images []*Image
}

// BindGroup is an immutable snapshot of resource-to-slot bindings. Rebinding
// anything requires building a new group.
type BindGroup struct {
	ID     uuid.UUID
	Native NativeBindGroup

	layout    *BindingLayout
	bindings  []ResolvedBinding
	byName    map[string]int
	owner     *RenderDevice
	destroyed bool
}

func (g *BindGroup) Layout() *BindingLayout { return g.layout }

// retainedIDs lists the group and every resource it binds.
func (g *BindGroup) retainedIDs() []uuid.UUID {
	ids := []uuid.UUID{g.ID}
	for _, rb := range g.bindings {
		if rb.Buffer != nil {
			ids = append(ids, rb.Buffer.ID)
		}
		for _, img := range rb.Images {
			ids = append(ids, img.ID)
		}
	}
	return ids
}

// Bindings returns a copy of the frozen bindings, ordered by binding index.
func (g *BindGroup) Bindings() []ResolvedBinding {
	out := make([]ResolvedBinding, len(g.bindings))
	for i, b := range g.bindings {
		out[i] = b
		out[i].Images = append([]*Image(nil), b.Images...)
	}
	return out
}

func (g *BindGroup) Buffer(name string) (*Buffer, bool) {
	i, ok := g.byName[name]
	if !ok || g.bindings[i].Buffer == nil {
		return nil, false
	}
	return g.bindings[i].Buffer, true
}

func (g *BindGroup) Images(name string) ([]*Image, bool) {
	i, ok := g.byName[name]
	if !ok || g.bindings[i].Images == nil {
		return nil, false
	}
	return append([]*Image(nil), g.bindings[i].Images...), true
}

// BindGroupBuilder collects named bindings for one layout. Setters chain and
// the last write for a name wins.
type BindGroupBuilder struct {
	device *RenderDevice
	layout *BindingLayout

	buffers map[string]*Buffer
	images  map[string][]*Image
}

func newBindGroupBuilder(device *RenderDevice, layout *BindingLayout) *BindGroupBuilder {
	return &BindGroupBuilder{
		device:  device,
		layout:  layout,
		buffers: map[string]*Buffer{},
		images:  map[string][]*Image{},
	}
}

func (b *BindGroupBuilder) Layout() *BindingLayout { return b.layout }

func (b *BindGroupBuilder) SetBuffer(name string, buffer *Buffer) *BindGroupBuilder {
	delete(b.images, name)
	b.buffers[name] = buffer
	return b
}

func (b *BindGroupBuilder) SetImage(name string, image *Image) *BindGroupBuilder {
	return b.SetImageArray(name, []*Image{image})
}

func (b *BindGroupBuilder) SetImageArray(name string, images []*Image) *BindGroupBuilder {
	delete(b.buffers, name)
	// the caller keeps ownership of its slice
	b.images[name] = append([]*Image(nil), images...)
	return b
}

func (b *BindGroupBuilder) ClearAllBindings() *BindGroupBuilder {
	b.buffers = map[string]*Buffer{}
	b.images = map[string][]*Image{}
	return b
}

// Build validates the bindings against the layout and returns an immutable
// group. Missing required slots, mismatched kinds, oversized image arrays and
// unknown names fail with ErrConfiguration.
func (b *BindGroupBuilder) Build() (*BindGroup, error) {
	if b.device == nil {
		return nil, configErrorf("bind group builder is not attached to a device")
	}
	if err := b.device.checkAlive(); err != nil {
		return nil, err
	}

	var unknown []string
	for name := range b.buffers {
		if _, ok := b.layout.Slot(name); !ok {
			unknown = append(unknown, name)
		}
	}
	for name := range b.images {
		if _, ok := b.layout.Slot(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, configErrorf("bindings %s are not part of %s", strings.Join(unknown, ", "), b.layout)
	}

	var missing []string
	resolved := make([]ResolvedBinding, 0, len(b.layout.slots))
	byName := make(map[string]int, len(b.layout.slots))
	for _, slot := range b.layout.slots {
		buf, hasBuf := b.buffers[slot.Name]
		imgs, hasImgs := b.images[slot.Name]
		if !hasBuf && !hasImgs {
			if !slot.Optional {
				missing = append(missing, slot.Name)
			}
			continue
		}
		if err := checkBinding(slot, buf, imgs, hasBuf); err != nil {
			return nil, err
		}
		rb := ResolvedBinding{Slot: slot, Buffer: buf}
		if hasImgs {
			rb.Images = append([]*Image(nil), imgs...)
		}
		byName[slot.Name] = len(resolved)
		resolved = append(resolved, rb)
	}
	if len(missing) > 0 {
		return nil, configErrorf("missing required bindings %s for %s", strings.Join(missing, ", "), b.layout)
	}

	return b.device.createBindGroup(b.layout, resolved, byName)
}

func checkBinding(slot BindingSlot, buf *Buffer, imgs []*Image, isBuffer bool) error {
	if slot.Kind.IsBuffer() {
		if !isBuffer {
			return configErrorf("binding %q expects a %s, got images", slot.Name, slot.Kind)
		}
		if buf == nil || buf.destroyed {
			return configErrorf("binding %q refers to a destroyed or nil buffer", slot.Name)
		}
		if slot.Kind == UniformBufferBinding && buf.Usage != UniformBuffer {
			return configErrorf("binding %q expects a uniform buffer, got %s", slot.Name, buf.Usage)
		}
		return nil
	}
	if isBuffer {
		return configErrorf("binding %q expects %s, got a buffer", slot.Name, slot.Kind)
	}
	if slot.Kind == SampledImageBinding && len(imgs) != 1 {
		return configErrorf("binding %q takes exactly one image, got %d", slot.Name, len(imgs))
	}
	if uint32(len(imgs)) > slot.Count {
		return configErrorf("image array %q holds at most %d images, got %d", slot.Name, slot.Count, len(imgs))
	}
	for i, img := range imgs {
		if img == nil || img.destroyed {
			return fmt.Errorf("%w: image %d of binding %q is destroyed or nil", ErrConfiguration, i, slot.Name)
		}
	}
	return nil
}
