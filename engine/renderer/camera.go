package renderer

import (
	"encoding/binary"
	gomath "math"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/anima-graph/engine/math"
)

// cameraDataSize is View, Proj and Pos as the shaders read them.
const cameraDataSize = 64 + 64 + 16

// CameraData is the uniform at the bindless camera binding.
type CameraData struct {
	View [4][4]float32
	Proj [4][4]float32
	Pos  [4]float32
}

func (d CameraData) bytes() []byte {
	b := make([]byte, 0, cameraDataSize)
	put := func(f float32) {
		b = binary.LittleEndian.AppendUint32(b, gomath.Float32bits(f))
	}
	for _, m := range [][4][4]float32{d.View, d.Proj} {
		for _, row := range m {
			for _, f := range row {
				put(f)
			}
		}
	}
	for _, f := range d.Pos {
		put(f)
	}
	return b
}

// Camera is a perspective camera placed by a position and euler angles
// (pitch, yaw, roll). Angles are in radians and yaw 0 looks down -Z.
type Camera struct {
	position      math.Vec3
	eulerRotation math.Vec3
	fovY          float32
	near, far     float32

	// version changes on every mutation so per-slot copies know they are stale.
	version uint64
	isDirty bool
	view    math.Mat4
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.position = math.NewVec3Zero()
	c.eulerRotation = math.NewVec3Zero()
	c.fovY = math.DegToRad(45)
	c.near = 0.1
	c.far = 1000
	c.view = math.NewMat4Identity()
	c.isDirty = true
	c.version++
}

func (c *Camera) touch() {
	c.isDirty = true
	c.version++
}

func (c *Camera) Position() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.touch()
}

func (c *Camera) EulerRotation() math.Vec3 {
	return c.eulerRotation
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.eulerRotation = rotation
	c.touch()
}

// SetPerspective sets the vertical field of view and clip planes.
func (c *Camera) SetPerspective(fovY, near, far float32) {
	c.fovY, c.near, c.far = fovY, near, far
	c.touch()
}

func (c *Camera) Forward() math.Vec3 {
	pitch, yaw := c.eulerRotation.X, c.eulerRotation.Y
	return math.NewVec3(
		math32.Cos(pitch)*math32.Sin(yaw),
		math32.Sin(pitch),
		-math32.Cos(pitch)*math32.Cos(yaw),
	)
}

func (c *Camera) Backward() math.Vec3 {
	return c.Forward().MulScalar(-1)
}

func (c *Camera) Right() math.Vec3 {
	return c.Forward().Cross(math.NewVec3Up()).Normalized()
}

func (c *Camera) Left() math.Vec3 {
	return c.Right().MulScalar(-1)
}

func (c *Camera) View() math.Mat4 {
	if c.isDirty {
		c.view = math.NewMat4LookAt(c.position, c.position.Add(c.Forward()), math.NewVec3Up())
		c.isDirty = false
	}
	return c.view
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.position = c.position.Add(direction.MulScalar(amount))
	c.touch()
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward(), amount)
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Backward(), amount)
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.Left(), amount)
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.Right(), amount)
}

func (c *Camera) MoveUp(amount float32) {
	c.move(math.NewVec3Up(), amount)
}

func (c *Camera) MoveDown(amount float32) {
	c.move(math.NewVec3Up(), -amount)
}

func (c *Camera) Yaw(amount float32) {
	c.eulerRotation.Y += amount
	c.touch()
}

func (c *Camera) Pitch(amount float32) {
	c.eulerRotation.X += amount
	// 89 degrees, short of gimbal lock
	limit := float32(1.55334306)
	c.eulerRotation.X = math.Clamp(c.eulerRotation.X, -limit, limit)
	c.touch()
}

// Data builds the uniform for a target of width by height pixels.
func (c *Camera) Data(width, height uint32) CameraData {
	aspect := float32(1)
	if height != 0 {
		aspect = float32(width) / float32(height)
	}
	p := c.position.ToVec4(1)
	return CameraData{
		View: c.View().Rows(),
		Proj: math.NewMat4Perspective(c.fovY, aspect, c.near, c.far).Rows(),
		Pos:  [4]float32{p.X, p.Y, p.Z, p.W},
	}
}
