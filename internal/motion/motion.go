// Package motion turns headings, speeds and throttle input into position
// changes. Every function here is pure: it takes the current state and
// returns the next one, leaving storage to the caller.
package motion

import (
	"math"

	"github.com/vovakirdan/horde-arena/internal/core"
)

// Vehicle tunes the player movement model. Velocities are in world units per
// frame; rotation speed is radians per second.
type Vehicle struct {
	RotationSpeed float32
	Acceleration  float32 // velocity added per frame at full throttle
	MaxSpeed      float32
	Friction      float32 // velocity multiplier per coasting frame
	Drift         float32 // sideways velocity multiplier per frame
}

// DefaultVehicle returns the stock arena handling.
func DefaultVehicle() Vehicle {
	return Vehicle{
		RotationSpeed: math.Pi * 2, // 360 degrees per second
		Acceleration:  0.1,
		MaxSpeed:      7.5,
		Friction:      0.98,
		Drift:         0.95,
	}
}

// Body is the kinematic state of a player.
type Body struct {
	Pos core.Vec2
	Rot float32
	Vel core.Vec2
}

// StepVehicle advances a player body by one frame.
//
// Steering rotates the heading, throttle pushes along it, the sideways part
// of the velocity bleeds off by Drift, Friction applies when coasting, and
// speed is capped at MaxSpeed. A step that would produce a non-finite
// position or rotation leaves the body untouched.
func StepVehicle(b Body, throttle, steer float32, v Vehicle, step float32, bounds core.Bounds) Body {
	rot := wrapAngle(b.Rot + float32(float32(steer*v.RotationSpeed)*step))
	up, right := core.FromAngle(rot), core.Right(rot)

	vel := b.Vel.Add(up.Scale(float32(throttle * v.Acceleration)))
	forward := up.Scale(vel.Dot(up))
	side := right.Scale(vel.Dot(right))
	vel = forward.Add(side.Scale(v.Drift))
	if throttle == 0 {
		vel = vel.Scale(v.Friction)
	}
	vel = vel.ClampLen(v.MaxSpeed)

	pos := b.Pos.Add(vel)
	if !pos.IsFinite() || !vel.IsFinite() || rot != rot {
		return b
	}
	return Body{Pos: bounds.Clamp(pos), Rot: rot, Vel: vel}
}

// StepCreature advances pos along dir at speed for one step and returns the
// new position and the rotation facing dir. ok is false, and pos is returned
// unchanged, when the delta is not finite.
func StepCreature(pos, dir core.Vec2, speed, step float32, bounds core.Bounds) (core.Vec2, float32, bool) {
	delta := dir.Scale(float32(speed * step))
	if !delta.IsFinite() {
		return pos, 0, false
	}
	return bounds.Clamp(pos.Add(delta)), core.Angle(dir), true
}

// StepBullet advances a projectile along its rotation. Bullets are not
// clamped; they expire on their own clock.
func StepBullet(pos core.Vec2, rot, speed, step float32) (core.Vec2, bool) {
	next := pos.Add(core.FromAngle(rot).Scale(float32(speed * step)))
	if !next.IsFinite() {
		return pos, false
	}
	return next, true
}

// Muzzle returns the spawn point offset distance ahead of pos along rot.
func Muzzle(pos core.Vec2, rot, offset float32) core.Vec2 {
	return pos.Add(core.FromAngle(rot).Scale(offset))
}

// wrapAngle keeps rotations in [-pi, pi] so they never lose precision.
func wrapAngle(r float32) float32 {
	const twoPi = 2 * math.Pi
	if r > math.Pi || r < -math.Pi {
		r = float32(math.Remainder(float64(r), twoPi))
	}
	return r
}
