package components

import (
	"testing"

	"github.com/spaghettifunk/sanity/engine/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCameraLooksDownNegativeZ(t *testing.T) {
	c := NewCamera()
	f := c.Forward()
	assert.InDelta(t, 0, f.X, 1e-6)
	assert.InDelta(t, 0, f.Y, 1e-6)
	assert.InDelta(t, -1, f.Z, 1e-6)
	assert.False(t, c.IsDirty)
}

func TestPitchIsClamped(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	assert.Equal(t, pitchLimit, c.EulerRotation.X)
	c.Pitch(-20)
	assert.Equal(t, -pitchLimit, c.EulerRotation.X)
}

func TestLookAtFacesTarget(t *testing.T) {
	c := NewCamera()
	c.SetPosition(math.NewVec3(3, 4, 5))
	target := math.NewVec3(0, 1, 0)
	c.LookAt(target)

	want := target.Sub(c.Position).Normalized()
	got := c.Forward()
	assert.InDelta(t, want.X, got.X, 1e-5)
	assert.InDelta(t, want.Y, got.Y, 1e-5)
	assert.InDelta(t, want.Z, got.Z, 1e-5)

	// the target lands on the view axis
	p := target.Transform(c.GetView())
	assert.InDelta(t, 0, p.X, 1e-4)
	assert.InDelta(t, 0, p.Y, 1e-4)
	assert.Less(t, p.Z, float32(0))
}

func TestMovementMarksViewDirty(t *testing.T) {
	c := NewCamera()
	c.MoveForward(2)
	assert.True(t, c.IsDirty)
	assert.InDelta(t, -2, c.Position.Z, 1e-6)

	c.MoveRight(1)
	assert.InDelta(t, 1, c.Position.X, 1e-6)
	c.MoveUp(3)
	assert.InDelta(t, 3, c.Position.Y, 1e-6)

	c.GetView()
	assert.False(t, c.IsDirty)
}

func TestPutUniformLayout(t *testing.T) {
	c := NewCamera()
	c.SetPosition(math.NewVec3(0, 0, 5))
	buf := make([]byte, CameraUniformSize)
	c.PutUniform(buf, 16.0/9.0)

	view := c.GetView()
	proj := c.Projection(16.0 / 9.0)
	require.Equal(t, view.Bytes(), buf[:math.Mat4Size])
	require.Equal(t, proj.Bytes(), buf[math.Mat4Size:2*math.Mat4Size])
	assert.Equal(t, view.Mul(proj).Bytes(), buf[2*math.Mat4Size:])
}
