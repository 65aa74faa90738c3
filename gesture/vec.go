// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gesture implements the sliding-window peak-detection
// gesture-direction classifier: world-frame transform, baseline gravity
// estimate, dynamic-acceleration integration, and axis/sign labeling. It is
// pure arithmetic over buffered samples — no I/O, no third-party dependency
// — mirroring how devices/bmxx80 keeps its register-value compensation math
// free of bus access.
package gesture

// Vec3 is a 3-axis vector in whichever frame its caller documents.
type Vec3 struct{ X, Y, Z float64 }

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 {
	return Vec3{a.X * s, a.Y * s, a.Z * s}
}

func (a Vec3) NormSquared() float64 { return a.X*a.X + a.Y*a.Y + a.Z*a.Z }

// Quat is a unit quaternion (w, x, y, z).
type Quat struct{ W, X, Y, Z float64 }

// Rotate applies q's rotation to v: a_world = q · a · q⁻¹, expanded
// algebraically (no trigonometry).
//
// For a unit quaternion, q⁻¹ equals its conjugate, so this is the standard
// closed-form vector-rotation expansion:
//
//	t = 2 * cross(qv, v)
//	v' = v + q.w*t + cross(qv, t)
func (q Quat) Rotate(v Vec3) Vec3 {
	qv := Vec3{q.X, q.Y, q.Z}
	t := cross(qv, v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(cross(qv, t))
}

func cross(a, b Vec3) Vec3 {
	return Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}
