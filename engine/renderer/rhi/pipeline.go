package rhi

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/sanity/engine/core"
)

// MaxRenderTargets is the number of color targets a render pipeline can write.
const MaxRenderTargets = 8

type PrimitiveType uint8

const (
	Points PrimitiveType = iota
	Lines
	Triangles
)

var primitiveTypeNames = [...]string{"Points", "Lines", "Triangles"}

type BlendFactor uint8

const (
	Zero BlendFactor = iota
	One
	SourceColor
	InverseSourceColor
	SourceAlpha
	InverseSourceAlpha
	DestinationColor
	InverseDestinationColor
	DestinationAlpha
	InverseDestinationAlpha
	SourceAlphaSaturated
	DynamicBlendFactor
	InverseDynamicBlendFactor
	Source1Color
	InverseSource1Color
	Source1Alpha
	InverseSource1Alpha
)

var blendFactorNames = [...]string{
	"Zero", "One", "SourceColor", "InverseSourceColor", "SourceAlpha", "InverseSourceAlpha",
	"DestinationColor", "InverseDestinationColor", "DestinationAlpha", "InverseDestinationAlpha",
	"SourceAlphaSaturated", "DynamicBlendFactor", "InverseDynamicBlendFactor",
	"Source1Color", "InverseSource1Color", "Source1Alpha", "InverseSource1Alpha",
}

type BlendOp uint8

const (
	BlendAdd BlendOp = iota
	BlendSubtract
	BlendReverseSubtract
	BlendMin
	BlendMax
)

var blendOpNames = [...]string{"Add", "Subtract", "ReverseSubtract", "Min", "Max"}

type FillMode uint8

const (
	Wireframe FillMode = iota
	Solid
)

var fillModeNames = [...]string{"Wireframe", "Solid"}

type CullMode uint8

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

var cullModeNames = [...]string{"None", "Front", "Back"}

type CompareOp uint8

const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareNotEqual
	CompareLessOrEqual
	CompareGreater
	CompareGreaterOrEqual
	CompareAlways
)

var compareOpNames = [...]string{"Never", "Less", "Equal", "NotEqual", "LessOrEqual", "Greater", "GreaterOrEqual", "Always"}

type StencilOp uint8

const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
	StencilIncrement
	StencilIncrementAndSaturate
	StencilDecrement
	StencilDecrementAndSaturate
	StencilInvert
)

var stencilOpNames = [...]string{"Keep", "Zero", "Replace", "Increment", "IncrementAndSaturate", "Decrement", "DecrementAndSaturate", "Invert"}

func enumName(names []string, v uint8, kind string) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%s(%d)", kind, v)
}

func (p PrimitiveType) String() string {
	return enumName(primitiveTypeNames[:], uint8(p), "PrimitiveType")
}
func (f BlendFactor) String() string { return enumName(blendFactorNames[:], uint8(f), "BlendFactor") }
func (o BlendOp) String() string     { return enumName(blendOpNames[:], uint8(o), "BlendOp") }
func (m FillMode) String() string    { return enumName(fillModeNames[:], uint8(m), "FillMode") }
func (m CullMode) String() string    { return enumName(cullModeNames[:], uint8(m), "CullMode") }
func (o CompareOp) String() string   { return enumName(compareOpNames[:], uint8(o), "CompareOp") }
func (o StencilOp) String() string   { return enumName(stencilOpNames[:], uint8(o), "StencilOp") }

func enumerate[T ~uint8](n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = T(i)
	}
	return out
}

// The All* helpers list every enumerator. Backends use them to check that
// their translation tables are total.
func AllPrimitiveTypes() []PrimitiveType { return enumerate[PrimitiveType](len(primitiveTypeNames)) }
func AllBlendFactors() []BlendFactor     { return enumerate[BlendFactor](len(blendFactorNames)) }
func AllBlendOps() []BlendOp             { return enumerate[BlendOp](len(blendOpNames)) }
func AllFillModes() []FillMode           { return enumerate[FillMode](len(fillModeNames)) }
func AllCullModes() []CullMode           { return enumerate[CullMode](len(cullModeNames)) }
func AllCompareOps() []CompareOp         { return enumerate[CompareOp](len(compareOpNames)) }
func AllStencilOps() []StencilOp         { return enumerate[StencilOp](len(stencilOpNames)) }

type RenderTargetBlendState struct {
	Enabled                     bool
	SourceColorBlendFactor      BlendFactor
	DestinationColorBlendFactor BlendFactor
	ColorBlendOp                BlendOp
	SourceAlphaBlendFactor      BlendFactor
	DestinationAlphaBlendFactor BlendFactor
	AlphaBlendOp                BlendOp
}

type BlendState struct {
	EnableAlphaToCoverage bool
	RenderTargetBlends    [MaxRenderTargets]RenderTargetBlendState
}

type RasterizerState struct {
	FillMode                  FillMode
	CullMode                  CullMode
	FrontFaceCounterClockwise bool
	DepthBias                 float32
	MaxDepthBias              float32
	SlopeScaledDepthBias      float32
	NumMSAASamples            uint32
	EnableLineAntialiasing    bool
	EnableConservativeRaster  bool
}

type StencilState struct {
	FailOp      StencilOp
	DepthFailOp StencilOp
	PassOp      StencilOp
	CompareOp   CompareOp
}

type DepthStencilState struct {
	EnableDepthTest   bool
	EnableDepthWrite  bool
	DepthFunc         CompareOp
	EnableStencilTest bool
	StencilReadMask   uint8
	StencilWriteMask  uint8
	FrontFace         StencilState
	BackFace          StencilState
}

func DefaultRenderTargetBlendState() RenderTargetBlendState {
	return RenderTargetBlendState{
		SourceColorBlendFactor:      SourceAlpha,
		DestinationColorBlendFactor: InverseSourceAlpha,
		ColorBlendOp:                BlendAdd,
		SourceAlphaBlendFactor:      SourceAlpha,
		DestinationAlphaBlendFactor: InverseSourceAlpha,
		AlphaBlendOp:                BlendAdd,
	}
}

func DefaultBlendState() BlendState {
	var bs BlendState
	for i := range bs.RenderTargetBlends {
		bs.RenderTargetBlends[i] = DefaultRenderTargetBlendState()
	}
	return bs
}

func DefaultRasterizerState() RasterizerState {
	return RasterizerState{
		FillMode:       Solid,
		CullMode:       CullBack,
		NumMSAASamples: 1,
	}
}

func DefaultStencilState() StencilState {
	return StencilState{
		FailOp:      StencilKeep,
		DepthFailOp: StencilKeep,
		PassOp:      StencilReplace,
		CompareOp:   CompareAlways,
	}
}

func DefaultDepthStencilState() DepthStencilState {
	return DepthStencilState{
		EnableDepthTest:  true,
		EnableDepthWrite: true,
		DepthFunc:        CompareLess,
		StencilReadMask:  0xFF,
		StencilWriteMask: 0xFF,
		FrontFace:        DefaultStencilState(),
		BackFace:         DefaultStencilState(),
	}
}

type RenderPipelineStateCreateInfo struct {
	Name         string
	VertexShader []byte
	// Nil for depth-only passes.
	PixelShader       []byte
	BlendState        BlendState
	RasterizerState   RasterizerState
	DepthStencilState DepthStencilState
	PrimitiveType     PrimitiveType
	// Formats of the render targets this pipeline outputs to.
	RenderTargetFormats []ImageFormat
	// Format of the depth/stencil target, nil when there is none.
	DepthStencilFormat *ImageFormat
	// Selects StandardMaterialLayout instead of Layout.
	UseStandardMaterialLayout bool
	Layout                    *BindingLayout
}

// NewRenderPipelineStateCreateInfo fills in the default fixed-function state.
func NewRenderPipelineStateCreateInfo(name string, vertexShader, pixelShader []byte) *RenderPipelineStateCreateInfo {
	return &RenderPipelineStateCreateInfo{
		Name:                      name,
		VertexShader:              vertexShader,
		PixelShader:               pixelShader,
		BlendState:                DefaultBlendState(),
		RasterizerState:           DefaultRasterizerState(),
		DepthStencilState:         DefaultDepthStencilState(),
		PrimitiveType:             Triangles,
		UseStandardMaterialLayout: true,
	}
}

type ComputePipelineStateCreateInfo struct {
	Name                      string
	ComputeShader             []byte
	UseStandardMaterialLayout bool
	Layout                    *BindingLayout
}

// RenderPipelineState is immutable once created.
type RenderPipelineState struct {
	ID                  uuid.UUID
	Name                string
	Native              NativePipeline
	PrimitiveType       PrimitiveType
	RenderTargetFormats []ImageFormat
	DepthStencilFormat  *ImageFormat
	HasPixelShader      bool

	layout    *BindingLayout
	owner     *RenderDevice
	destroyed bool
}

func (p *RenderPipelineState) Layout() *BindingLayout { return p.layout }

// NewBindGroupBuilder returns a builder targeting this pipeline's layout.
func (p *RenderPipelineState) NewBindGroupBuilder() *BindGroupBuilder {
	return newBindGroupBuilder(p.owner, p.layout)
}

type ComputePipelineState struct {
	ID     uuid.UUID
	Name   string
	Native NativePipeline

	layout    *BindingLayout
	owner     *RenderDevice
	destroyed bool
}

func (p *ComputePipelineState) Layout() *BindingLayout { return p.layout }

func (p *ComputePipelineState) NewBindGroupBuilder() *BindGroupBuilder {
	return newBindGroupBuilder(p.owner, p.layout)
}

func validateEnum[T ~uint8](v T, all []T, kind string) error {
	if int(v) >= len(all) {
		return configErrorf("unknown %s %d", kind, uint8(v))
	}
	return nil
}

func (info *RenderPipelineStateCreateInfo) validate() error {
	if len(info.VertexShader) == 0 {
		return configErrorf("render pipeline %q has no vertex shader", info.Name)
	}
	if len(info.RenderTargetFormats) > MaxRenderTargets {
		return configErrorf("render pipeline %q writes %d render targets, at most %d are supported", info.Name, len(info.RenderTargetFormats), MaxRenderTargets)
	}
	for i, f := range info.RenderTargetFormats {
		if f.IsDepth() {
			return configErrorf("render pipeline %q: render target %d uses depth format %s", info.Name, i, f)
		}
	}
	if info.DepthStencilFormat != nil && !info.DepthStencilFormat.IsDepth() {
		return configErrorf("render pipeline %q: %s is not a depth format", info.Name, *info.DepthStencilFormat)
	}
	samples := info.RasterizerState.NumMSAASamples
	if samples == 0 || samples > 64 || !core.IsPowerOfTwo(samples) {
		return configErrorf("render pipeline %q: invalid MSAA sample count %d", info.Name, samples)
	}
	if !info.UseStandardMaterialLayout && info.Layout == nil {
		return configErrorf("render pipeline %q has no binding layout", info.Name)
	}

	rs := info.RasterizerState
	ds := info.DepthStencilState
	checks := []error{
		validateEnum(info.PrimitiveType, AllPrimitiveTypes(), "primitive type"),
		validateEnum(rs.FillMode, AllFillModes(), "fill mode"),
		validateEnum(rs.CullMode, AllCullModes(), "cull mode"),
		validateEnum(ds.DepthFunc, AllCompareOps(), "compare op"),
	}
	for _, face := range []StencilState{ds.FrontFace, ds.BackFace} {
		checks = append(checks,
			validateEnum(face.FailOp, AllStencilOps(), "stencil op"),
			validateEnum(face.DepthFailOp, AllStencilOps(), "stencil op"),
			validateEnum(face.PassOp, AllStencilOps(), "stencil op"),
			validateEnum(face.CompareOp, AllCompareOps(), "compare op"),
		)
	}
	for _, rt := range info.BlendState.RenderTargetBlends {
		checks = append(checks,
			validateEnum(rt.SourceColorBlendFactor, AllBlendFactors(), "blend factor"),
			validateEnum(rt.DestinationColorBlendFactor, AllBlendFactors(), "blend factor"),
			validateEnum(rt.SourceAlphaBlendFactor, AllBlendFactors(), "blend factor"),
			validateEnum(rt.DestinationAlphaBlendFactor, AllBlendFactors(), "blend factor"),
			validateEnum(rt.ColorBlendOp, AllBlendOps(), "blend op"),
			validateEnum(rt.AlphaBlendOp, AllBlendOps(), "blend op"),
		)
	}
	for _, err := range checks {
		if err != nil {
			return fmt.Errorf("render pipeline %q: %w", info.Name, err)
		}
	}
	return nil
}

func (info *ComputePipelineStateCreateInfo) validate() error {
	if len(info.ComputeShader) == 0 {
		return configErrorf("compute pipeline %q has no compute shader", info.Name)
	}
	if !info.UseStandardMaterialLayout && info.Layout == nil {
		return configErrorf("compute pipeline %q has no binding layout", info.Name)
	}
	return nil
}
