// Package core provides fundamental types and utilities for the arena simulation.
// It contains no external dependencies to keep simulation logic pure and
// reproducible across machines.
package core

import "math"

// Vec2 is a 2D vector in world units. All simulation math is float32 so that
// every peer rounds identically. Every product is wrapped in an explicit
// float32 conversion, including in Scale, so that a caller's v.Add(d.Scale(k))
// cannot be fused into an FMA instruction after inlining. Trig goes through
// Sincos and Atan2 in this package for the same reason.
type Vec2 struct {
	X, Y float32
}

// V creates a vector from components.
func V(x, y float32) Vec2 {
	return Vec2{X: x, Y: y}
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns v * s.
func (v Vec2) Scale(s float32) Vec2 {
	return Vec2{X: float32(v.X * s), Y: float32(v.Y * s)}
}

// Dot returns the dot product of v and o.
func (v Vec2) Dot(o Vec2) float32 {
	return float32(v.X*o.X) + float32(v.Y*o.Y)
}

// Len returns the Euclidean length of v.
func (v Vec2) Len() float32 {
	return float32(math.Sqrt(float64(float32(v.X*v.X) + float32(v.Y*v.Y))))
}

// Dist returns the distance between v and o.
func (v Vec2) Dist(o Vec2) float32 {
	return v.Sub(o).Len()
}

// IsNaN reports whether either component is NaN.
func (v Vec2) IsNaN() bool {
	return v.X != v.X || v.Y != v.Y
}

// IsFinite reports whether both components are finite numbers.
func (v Vec2) IsFinite() bool {
	return !math.IsNaN(float64(v.X)) && !math.IsInf(float64(v.X), 0) &&
		!math.IsNaN(float64(v.Y)) && !math.IsInf(float64(v.Y), 0)
}

// Normalize returns the unit vector in the direction of v.
// ok is false when v has zero, infinite or NaN length; callers must not use
// the result in that case.
func (v Vec2) Normalize() (Vec2, bool) {
	l := v.Len()
	if l == 0 || l != l || math.IsInf(float64(l), 0) {
		return Vec2{}, false
	}
	return Vec2{X: v.X / l, Y: v.Y / l}, true
}

// Lerp linearly interpolates from v toward o by t.
func (v Vec2) Lerp(o Vec2, t float32) Vec2 {
	return Vec2{X: v.X + float32((o.X-v.X)*t), Y: v.Y + float32((o.Y-v.Y)*t)}
}

// ClampLen limits the length of v to max.
func (v Vec2) ClampLen(max float32) Vec2 {
	l := v.Len()
	if l <= max || l == 0 {
		return v
	}
	return v.Scale(max / l)
}

// FromAngle returns the unit forward vector for a rotation in radians.
// Rotation 0 faces +Y, matching the arena's "up" convention.
func FromAngle(rot float32) Vec2 {
	s, c := Sincos(float64(rot))
	return Vec2{X: float32(-s), Y: float32(c)}
}

// Right returns the unit right vector for a rotation in radians.
func Right(rot float32) Vec2 {
	s, c := Sincos(float64(rot))
	return Vec2{X: float32(c), Y: float32(s)}
}

// Angle returns the rotation whose forward vector is v.
func Angle(v Vec2) float32 {
	return float32(Atan2(float64(-v.X), float64(v.Y)))
}

// Bounds is the rectangular play area centered on the origin.
type Bounds struct {
	Width  float32
	Height float32
}

// Clamp restricts p to lie inside the bounds.
func (b Bounds) Clamp(p Vec2) Vec2 {
	hw, hh := b.Width/2, b.Height/2
	return Vec2{X: ClampF32(p.X, -hw, hw), Y: ClampF32(p.Y, -hh, hh)}
}

// Contains reports whether p lies inside the bounds (edges inclusive).
func (b Bounds) Contains(p Vec2) bool {
	hw, hh := b.Width/2, b.Height/2
	return p.X >= -hw && p.X <= hw && p.Y >= -hh && p.Y <= hh
}

// Clamp restricts a value to be within [min, max].
func Clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// ClampF32 restricts a float32 value to be within [min, max].
func ClampF32(val, min, max float32) float32 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
