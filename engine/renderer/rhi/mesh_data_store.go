package rhi

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/spaghettifunk/sanity/engine/core"
)

// StandardVertex is the single vertex format of the engine.
type StandardVertex struct {
	Position    [3]float32
	Normal      [3]float32
	Color       uint32
	Texcoord    [2]float32
	DoubleSided uint32
}

// StandardVertexSize is the interleaved size of a StandardVertex in bytes.
const StandardVertexSize = 40

// Attribute offsets inside an interleaved StandardVertex.
const (
	positionOffset    = 0
	normalOffset      = 12
	colorOffset       = 24
	texcoordOffset    = 28
	doubleSidedOffset = 36
)

func (v StandardVertex) put(dst []byte) {
	le := binary.LittleEndian
	for i, f := range v.Position {
		le.PutUint32(dst[positionOffset+4*i:], math.Float32bits(f))
	}
	for i, f := range v.Normal {
		le.PutUint32(dst[normalOffset+4*i:], math.Float32bits(f))
	}
	le.PutUint32(dst[colorOffset:], v.Color)
	for i, f := range v.Texcoord {
		le.PutUint32(dst[texcoordOffset+4*i:], math.Float32bits(f))
	}
	le.PutUint32(dst[doubleSidedOffset:], v.DoubleSided)
}

// Mesh locates one mesh inside the shared buffers of a MeshDataStore.
type Mesh struct {
	FirstVertex uint32
	NumVertices uint32
	// FirstIndex is where the mesh's indices start in the shared index buffer.
	FirstIndex uint32
	NumIndices uint32
}

// MeshDataStore packs the vertices and indices of many meshes into one vertex
// buffer and one index buffer. Meshes are only appended, never freed.
type MeshDataStore struct {
	device       *RenderDevice
	vertexBuffer *Buffer
	indexBuffer  *Buffer
	bindings     []VertexBufferBinding

	mu         sync.RWMutex
	numVerts   uint32
	numIndices uint32
	meshes     []Mesh
	cmds       ResourceCommandList
	adding     bool
	closed     bool
}

// NewMeshDataStore allocates the two arenas. A zero size picks the value from
// the device's mesh store settings.
func NewMeshDataStore(device *RenderDevice, vertexBytes, indexBytes uint64) (*MeshDataStore, error) {
	if device == nil {
		return nil, configErrorf("mesh data store needs a device")
	}
	settings := device.Settings()
	if vertexBytes == 0 {
		vertexBytes = settings.MeshStore.VertexBufferSize
	}
	if indexBytes == 0 {
		indexBytes = settings.MeshStore.IndexBufferSize
	}
	vertexBytes -= vertexBytes % StandardVertexSize
	indexBytes -= indexBytes % 4
	if vertexBytes == 0 || indexBytes == 0 {
		return nil, configErrorf("mesh data store arenas are too small: %d vertex bytes, %d index bytes", vertexBytes, indexBytes)
	}

	vb, err := device.CreateBuffer(BufferCreateInfo{Name: "Global Vertex Buffer", Size: vertexBytes, Usage: VertexBuffer})
	if err != nil {
		return nil, err
	}
	ib, err := device.CreateBuffer(BufferCreateInfo{Name: "Global Index Buffer", Size: indexBytes, Usage: IndexBuffer})
	if err != nil {
		_ = device.ScheduleBufferDestruction(vb)
		return nil, err
	}

	s := &MeshDataStore{
		device:       device,
		vertexBuffer: vb,
		indexBuffer:  ib,
		bindings: []VertexBufferBinding{
			{Buffer: vb, Offset: positionOffset, Stride: StandardVertexSize},
			{Buffer: vb, Offset: normalOffset, Stride: StandardVertexSize},
			{Buffer: vb, Offset: colorOffset, Stride: StandardVertexSize},
			{Buffer: vb, Offset: texcoordOffset, Stride: StandardVertexSize},
			{Buffer: vb, Offset: doubleSidedOffset, Stride: StandardVertexSize},
		},
	}
	core.LogDebug("MeshDataStore created: %d vertex bytes, %d index bytes", vertexBytes, indexBytes)
	return s, nil
}

// VertexBindings returns the five attribute streams of StandardVertex.
func (s *MeshDataStore) VertexBindings() []VertexBufferBinding {
	return append([]VertexBufferBinding(nil), s.bindings...)
}

func (s *MeshDataStore) IndexBuffer() *Buffer  { return s.indexBuffer }
func (s *MeshDataStore) VertexBuffer() *Buffer { return s.vertexBuffer }

func (s *MeshDataStore) VertexCapacity() uint32 {
	return uint32(s.vertexBuffer.Size / StandardVertexSize)
}

func (s *MeshDataStore) IndexCapacity() uint32 {
	return uint32(s.indexBuffer.Size / 4)
}

func (s *MeshDataStore) IsAdding() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adding
}

func (s *MeshDataStore) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Meshes returns every mesh added so far, in order.
func (s *MeshDataStore) Meshes() []Mesh {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Mesh(nil), s.meshes...)
}

// BeginAddingMeshes opens the window in which AddMesh records uploads on cmds.
func (s *MeshDataStore) BeginAddingMeshes(cmds ResourceCommandList) error {
	if cmds == nil {
		return configErrorf("BeginAddingMeshes needs a command list")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return configErrorf("mesh data store is closed")
	}
	if s.adding {
		return s.ordering("BeginAddingMeshes called twice")
	}
	s.adding = true
	s.cmds = cmds
	return nil
}

// AddMesh appends a mesh. Indices are relative to the mesh's own vertices
// and are stored unmodified; draws apply FirstVertex as the base vertex.
// On any error nothing is written.
func (s *MeshDataStore) AddMesh(vertices []StandardVertex, indices []uint32) (Mesh, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.adding {
		return Mesh{}, s.ordering("AddMesh called outside BeginAddingMeshes/EndAddingMeshes")
	}
	if len(vertices) == 0 || len(indices) == 0 {
		return Mesh{}, configErrorf("mesh has %d vertices and %d indices", len(vertices), len(indices))
	}
	for i, idx := range indices {
		if int(idx) >= len(vertices) {
			return Mesh{}, configErrorf("index %d at position %d references a vertex outside the mesh (%d vertices)", idx, i, len(vertices))
		}
	}
	if uint64(s.numVerts)+uint64(len(vertices)) > uint64(s.VertexCapacity()) {
		return Mesh{}, exhaustedErrorf("vertex buffer full: %d of %d vertices used, %d requested",
			s.numVerts, s.VertexCapacity(), len(vertices))
	}
	if uint64(s.numIndices)+uint64(len(indices)) > uint64(s.IndexCapacity()) {
		return Mesh{}, exhaustedErrorf("index buffer full: %d of %d indices used, %d requested",
			s.numIndices, s.IndexCapacity(), len(indices))
	}

	vertexData := make([]byte, len(vertices)*StandardVertexSize)
	for i, v := range vertices {
		v.put(vertexData[i*StandardVertexSize:])
	}
	indexData := make([]byte, len(indices)*4)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(indexData[i*4:], idx)
	}

	mesh := Mesh{
		FirstVertex: s.numVerts,
		NumVertices: uint32(len(vertices)),
		FirstIndex:  s.numIndices,
		NumIndices:  uint32(len(indices)),
	}
	if err := s.cmds.CopyDataToBuffer(vertexData, s.vertexBuffer, uint64(mesh.FirstVertex)*StandardVertexSize); err != nil {
		return Mesh{}, err
	}
	if err := s.cmds.CopyDataToBuffer(indexData, s.indexBuffer, uint64(mesh.FirstIndex)*4); err != nil {
		return Mesh{}, err
	}
	s.numVerts += mesh.NumVertices
	s.numIndices += mesh.NumIndices
	s.meshes = append(s.meshes, mesh)
	return mesh, nil
}

// EndAddingMeshes closes the window. Uploads recorded so far reach the GPU
// when the command list passed to BeginAddingMeshes is submitted.
func (s *MeshDataStore) EndAddingMeshes() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.adding {
		return s.ordering("EndAddingMeshes without BeginAddingMeshes")
	}
	s.adding = false
	s.cmds = nil
	return nil
}

func (s *MeshDataStore) ordering(format string, args ...interface{}) error {
	err := orderingErrorf(format, args...)
	core.LogError("MeshDataStore ordering violation: %s", err)
	return err
}

// meshContaining finds the mesh whose index range holds index.
func (s *MeshDataStore) meshContaining(index uint32) (Mesh, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.meshes), func(i int) bool {
		m := s.meshes[i]
		return m.FirstIndex+m.NumIndices > index
	})
	if i == len(s.meshes) {
		return Mesh{}, false
	}
	return s.meshes[i], true
}

// Close schedules both arenas for destruction. Meshes handed out before are
// invalid afterwards.
func (s *MeshDataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.adding {
		return s.ordering("Close while meshes are being added")
	}
	s.closed = true
	if err := s.device.ScheduleBufferDestruction(s.vertexBuffer); err != nil {
		return err
	}
	return s.device.ScheduleBufferDestruction(s.indexBuffer)
}
