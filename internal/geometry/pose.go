// Package geometry provides the rigid-transform arithmetic shared by the
// relocalisation scheduler and the scene registry.
//
// Poses follow the reconstruction engine's convention: a Pose stores the
// world-to-camera transform (cTw) as a row-major 4x4 matrix. The inverse,
// camera-to-world (wTc), is available through InvM.
package geometry

import "math"

// Matrix4f is a row-major 4x4 matrix of float32, indexed as m[row][col].
type Matrix4f [4][4]float32

// IdentityMatrix returns the 4x4 identity.
func IdentityMatrix() Matrix4f {
	var m Matrix4f
	for i := 0; i < 4; i++ {
		m[i][i] = 1
	}
	return m
}

// Mul returns m * o.
func (m Matrix4f) Mul(o Matrix4f) Matrix4f {
	var r Matrix4f
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[i][k] * o[k][j]
			}
			r[i][j] = sum
		}
	}
	return r
}

// RigidInverse inverts a rigid transform [R t; 0 1] as [Rᵀ -Rᵀt; 0 1].
// The result is only meaningful when m is rigid.
func (m Matrix4f) RigidInverse() Matrix4f {
	var r Matrix4f
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	for i := 0; i < 3; i++ {
		var t float32
		for k := 0; k < 3; k++ {
			t -= r[i][k] * m[k][3]
		}
		r[i][3] = t
	}
	r[3][3] = 1
	return r
}

// Pose is a rigid transform from world coordinates to camera coordinates.
type Pose struct {
	m Matrix4f
}

// Identity returns the identity pose.
func Identity() Pose {
	return Pose{m: IdentityMatrix()}
}

// NewPose wraps a world-to-camera matrix.
func NewPose(m Matrix4f) Pose {
	return Pose{m: m}
}

// PoseFromAxisAngle builds a pose rotating by angle radians about axis and
// then translating by t. The axis does not need to be normalised; a zero
// axis yields a pure translation.
func PoseFromAxisAngle(axis [3]float64, angle float64, t [3]float64) Pose {
	m := IdentityMatrix()
	n := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	if n > 0 && angle != 0 {
		x, y, z := axis[0]/n, axis[1]/n, axis[2]/n
		c, s := math.Cos(angle), math.Sin(angle)
		C := 1 - c
		rot := [3][3]float64{
			{c + x*x*C, x*y*C - z*s, x*z*C + y*s},
			{y*x*C + z*s, c + y*y*C, y*z*C - x*s},
			{z*x*C - y*s, z*y*C + x*s, c + z*z*C},
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m[i][j] = float32(rot[i][j])
			}
		}
	}
	for i := 0; i < 3; i++ {
		m[i][3] = float32(t[i])
	}
	return Pose{m: m}
}

// M returns the world-to-camera matrix.
func (p Pose) M() Matrix4f { return p.m }

// InvM returns the camera-to-world matrix.
func (p Pose) InvM() Matrix4f { return p.m.RigidInverse() }

// Inverse returns the pose whose matrix is the inverse of p's.
func (p Pose) Inverse() Pose { return Pose{m: p.m.RigidInverse()} }

// Translation returns the translational part of M.
func (p Pose) Translation() [3]float32 {
	return [3]float32{p.m[0][3], p.m[1][3], p.m[2][3]}
}

// RotationAngle returns the angle in radians of the rotational part of M.
func (p Pose) RotationAngle() float64 {
	return rotationAngle(p.m)
}

func rotationAngle(m Matrix4f) float64 {
	trace := float64(m[0][0]) + float64(m[1][1]) + float64(m[2][2])
	cos := (trace - 1) / 2
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos)
}

// PosesAreSimilar reports whether a and b differ by less than rotThreshold
// radians of rotation and less than transThreshold of translation.
func PosesAreSimilar(a, b Pose, rotThreshold, transThreshold float64) bool {
	// a * b⁻¹ is the identity when the rotations agree.
	if rotationAngle(a.m.Mul(b.m.RigidInverse())) >= rotThreshold {
		return false
	}
	ta, tb := a.Translation(), b.Translation()
	var d float64
	for i := 0; i < 3; i++ {
		diff := float64(ta[i] - tb[i])
		d += diff * diff
	}
	return math.Sqrt(d) < transThreshold
}

// RelativeTransform composes a relocalisation result with a locally tracked
// pose. Given estimated, the pose of agent J's camera in agent I's world
// (cjTwi), and local, J's own world-to-camera pose (cjTwj), it returns
// cjTwi⁻¹ * cjTwj = wiTwj.
func RelativeTransform(estimated, local Pose) Pose {
	return Pose{m: estimated.InvM().Mul(local.M())}
}
