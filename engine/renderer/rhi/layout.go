package rhi

import (
	"fmt"
	"sort"
	"strings"
)

type BindingKind uint8

const (
	UniformBufferBinding BindingKind = iota
	StorageBufferBinding
	SampledImageBinding
	ImageArrayBinding
)

func (k BindingKind) String() string {
	switch k {
	case UniformBufferBinding:
		return "UniformBuffer"
	case StorageBufferBinding:
		return "StorageBuffer"
	case SampledImageBinding:
		return "SampledImage"
	case ImageArrayBinding:
		return "ImageArray"
	}
	return fmt.Sprintf("BindingKind(%d)", uint8(k))
}

func (k BindingKind) IsBuffer() bool {
	return k == UniformBufferBinding || k == StorageBufferBinding
}

type ShaderStage uint8

const (
	StageVertex ShaderStage = 1 << iota
	StagePixel
	StageCompute

	StageAllGraphics = StageVertex | StagePixel
	StageAll         = StageAllGraphics | StageCompute
)

// BindingSlot describes one named, shader-visible resource slot.
type BindingSlot struct {
	Name    string
	Kind    BindingKind
	Binding uint32
	// Number of array elements; only meaningful for ImageArrayBinding.
	Count    uint32
	Stages   ShaderStage
	Optional bool
}

// BindingLayout is the backend-neutral description of what a pipeline binds.
// It is immutable after NewBindingLayout.
type BindingLayout struct {
	slots  []BindingSlot
	byName map[string]int
}

func NewBindingLayout(slots ...BindingSlot) (*BindingLayout, error) {
	l := &BindingLayout{
		slots:  make([]BindingSlot, 0, len(slots)),
		byName: make(map[string]int, len(slots)),
	}
	seenBinding := map[uint32]string{}
	for _, s := range slots {
		if s.Name == "" {
			return nil, configErrorf("binding %d has no name", s.Binding)
		}
		if _, dup := l.byName[s.Name]; dup {
			return nil, configErrorf("binding name %q declared twice", s.Name)
		}
		if other, dup := seenBinding[s.Binding]; dup {
			return nil, configErrorf("bindings %q and %q share index %d", other, s.Name, s.Binding)
		}
		if s.Kind > ImageArrayBinding {
			return nil, configErrorf("binding %q has unknown kind %d", s.Name, s.Kind)
		}
		if s.Kind == ImageArrayBinding && s.Count == 0 {
			return nil, configErrorf("image array %q has zero capacity", s.Name)
		}
		if s.Kind != ImageArrayBinding {
			s.Count = 1
		}
		if s.Stages == 0 {
			s.Stages = StageAll
		}
		seenBinding[s.Binding] = s.Name
		l.byName[s.Name] = len(l.slots)
		l.slots = append(l.slots, s)
	}
	sort.SliceStable(l.slots, func(i, j int) bool { return l.slots[i].Binding < l.slots[j].Binding })
	for i, s := range l.slots {
		l.byName[s.Name] = i
	}
	return l, nil
}

// Slots returns the slots ordered by binding index.
func (l *BindingLayout) Slots() []BindingSlot {
	out := make([]BindingSlot, len(l.slots))
	copy(out, l.slots)
	return out
}

func (l *BindingLayout) Slot(name string) (BindingSlot, bool) {
	i, ok := l.byName[name]
	if !ok {
		return BindingSlot{}, false
	}
	return l.slots[i], true
}

// Equal reports whether both layouts declare the same slots, so bind groups
// built for one may be bound with a pipeline using the other.
func (l *BindingLayout) Equal(other *BindingLayout) bool {
	if l == other {
		return true
	}
	if l == nil || other == nil || len(l.slots) != len(other.slots) {
		return false
	}
	for i := range l.slots {
		if l.slots[i] != other.slots[i] {
			return false
		}
	}
	return true
}

func (l *BindingLayout) String() string {
	parts := make([]string, len(l.slots))
	for i, s := range l.slots {
		parts[i] = fmt.Sprintf("%d:%s(%s)", s.Binding, s.Name, s.Kind)
	}
	return "BindingLayout[" + strings.Join(parts, " ") + "]"
}

// Names of the slots in the standard material layout.
const (
	CameraBufferName    = "cameras"
	MaterialBufferName  = "materials"
	LightBufferName     = "lights"
	TextureArrayName    = "textures"
	MaxStandardTextures = 256
)

var standardMaterialLayout *BindingLayout

func init() {
	l, err := NewBindingLayout(
		BindingSlot{Name: CameraBufferName, Kind: UniformBufferBinding, Binding: 0, Stages: StageAll},
		BindingSlot{Name: MaterialBufferName, Kind: StorageBufferBinding, Binding: 1, Stages: StageAll},
		BindingSlot{Name: LightBufferName, Kind: StorageBufferBinding, Binding: 2, Stages: StagePixel | StageCompute, Optional: true},
		BindingSlot{Name: TextureArrayName, Kind: ImageArrayBinding, Binding: 3, Count: MaxStandardTextures, Stages: StagePixel | StageCompute},
	)
	if err != nil {
		panic(err)
	}
	standardMaterialLayout = l
}

// StandardMaterialLayout is the shared default layout used by pipelines that
// set UseStandardMaterialLayout.
func StandardMaterialLayout() *BindingLayout {
	return standardMaterialLayout
}
