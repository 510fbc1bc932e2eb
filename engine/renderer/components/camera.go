package components

import (
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/math"
)

// Camera is a free-look camera. Position and rotation go through the
// setters so the view matrix is rebuilt lazily.
type Camera struct {
	Position math.Vec3
	// Pitch (X) and yaw (Y) in radians. Zero looks down -Z.
	EulerRotation math.Vec3

	FovRadians float32
	NearClip   float32
	FarClip    float32

	IsDirty    bool
	ViewMatrix math.Mat4
}

// Camera data as laid out in the cameras uniform buffer.
const CameraUniformSize = 3 * math.Mat4Size

// pitch limit, 89 degrees
const pitchLimit float32 = 1.55334306

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = math.Vec3{}
	c.Position = math.Vec3{}
	c.FovRadians = math.DegToRad(60)
	c.NearClip = 0.1
	c.FarClip = 1000
	c.IsDirty = false
	c.ViewMatrix = math.NewMat4LookAt(c.Position, c.Forward(), math.NewVec3Up())
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.EulerRotation.X = core.Clamp(c.EulerRotation.X, -pitchLimit, pitchLimit)
	c.IsDirty = true
}

// LookAt points the camera at target.
func (c *Camera) LookAt(target math.Vec3) {
	dir := target.Sub(c.Position).Normalized()
	yaw := float32(atan2(-dir.X, -dir.Z))
	pitch := float32(asin(dir.Y))
	c.SetEulerRotation(math.NewVec3(pitch, yaw, 0))
}

func (c *Camera) Forward() math.Vec3 {
	pitch, yaw := c.EulerRotation.X, c.EulerRotation.Y
	return math.NewVec3(
		-sin(yaw)*cos(pitch),
		sin(pitch),
		-cos(yaw)*cos(pitch),
	)
}

func (c *Camera) Right() math.Vec3 {
	return c.Forward().Cross(math.NewVec3Up()).Normalized()
}

func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		c.ViewMatrix = math.NewMat4LookAt(c.Position, c.Position.Add(c.Forward()), math.NewVec3Up())
		c.IsDirty = false
	}
	return c.ViewMatrix
}

func (c *Camera) Projection(aspectRatio float32) math.Mat4 {
	return math.NewMat4Perspective(c.FovRadians, aspectRatio, c.NearClip, c.FarClip)
}

func (c *Camera) MoveForward(amount float32) {
	c.SetPosition(c.Position.Add(c.Forward().MulScalar(amount)))
}

func (c *Camera) MoveRight(amount float32) {
	c.SetPosition(c.Position.Add(c.Right().MulScalar(amount)))
}

func (c *Camera) MoveUp(amount float32) {
	c.SetPosition(c.Position.Add(math.NewVec3Up().MulScalar(amount)))
}

func (c *Camera) Yaw(amount float32) {
	r := c.EulerRotation
	r.Y += amount
	c.SetEulerRotation(r)
}

func (c *Camera) Pitch(amount float32) {
	r := c.EulerRotation
	r.X += amount
	c.SetEulerRotation(r)
}

// PutUniform writes view, projection and their product, in that order.
func (c *Camera) PutUniform(dst []byte, aspectRatio float32) {
	view := c.GetView()
	proj := c.Projection(aspectRatio)
	view.PutBytes(dst[0:])
	proj.PutBytes(dst[math.Mat4Size:])
	view.Mul(proj).PutBytes(dst[2*math.Mat4Size:])
}
