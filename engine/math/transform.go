package math

func TransformCreate() *Transform {
	return TransformFromPositionRotationScale(NewVec3Zero(), NewQuatIdentity(), NewVec3One())
}

func TransformFromPosition(position Vec3) *Transform {
	return TransformFromPositionRotationScale(position, NewQuatIdentity(), NewVec3One())
}

func TransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	t := &Transform{local: NewMat4Identity()}
	t.SetPositionRotationScale(position, rotation, scale)
	return t
}

func (t *Transform) Position() Vec3 {
	return t.position
}

func (t *Transform) Rotation() Quaternion {
	return t.rotation
}

func (t *Transform) Scale() Vec3 {
	return t.scale
}

// IsDirty reports whether the local matrix must be rebuilt.
func (t *Transform) IsDirty() bool {
	return t.isDirty
}

func (t *Transform) SetPosition(position Vec3) {
	t.position = position
	t.isDirty = true
}

func (t *Transform) Translate(translation Vec3) {
	t.position = t.position.Add(translation)
	t.isDirty = true
}

func (t *Transform) SetRotation(rotation Quaternion) {
	t.rotation = rotation
	t.isDirty = true
}

func (t *Transform) Rotate(rotation Quaternion) {
	t.rotation = t.rotation.Mul(rotation)
	t.isDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.scale = scale
	t.isDirty = true
}

func (t *Transform) SetPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) {
	t.position = position
	t.rotation = rotation
	t.scale = scale
	t.isDirty = true
}

// GetLocal returns scale, then rotation, then translation.
func (t *Transform) GetLocal() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	if t.isDirty {
		m := t.rotation.ToMat4().Mul(NewMat4Translation(t.position))
		t.local = NewMat4Scale(t.scale).Mul(m)
		t.isDirty = false
	}
	return t.local
}

func (t *Transform) GetWorld() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	l := t.GetLocal()
	if t.Parent != nil {
		return l.Mul(t.Parent.GetWorld())
	}
	return l
}
