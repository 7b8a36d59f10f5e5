// Package aim implements the ground-target-to-mirror-delta transform: the
// half-angle mirror law plus roll compensation.
//
// Grounded on original_source/Laser/GroundAim.py and
// original_source/Laser/Calibration.py (theta_beam = atan(h/d), alpha_motor
// = 0.5*theta_beam, dy = sign*alpha_motor*mm_per_rad(rotation_distance)),
// generalized to the two-axis (x,z) ground target and roll-compensated pitch
// spec.md §4.3 specifies.
package aim

import (
	"fmt"
	"math"
)

// ErrInvalidTarget is returned when the forward ground distance is not positive.
type ErrInvalidTarget struct{ Z float64 }

func (e *ErrInvalidTarget) Error() string {
	return fmt.Sprintf("aim: invalid target, z=%.4f must be > 0", e.Z)
}

// Params bundles the physical constants needed to resolve a ground target
// into command-unit mirror deltas.
type Params struct {
	LaserHeightM float64 // h: laser height above ground, meters
	ScaleX       float64 // S_x: command units per radian on the X (yaw) axis
	ScaleY       float64 // S_y: command units per radian on the Y (pitch) axis
	SignX        float64 // +1 or -1
	SignY        float64 // +1 or -1
}

// RotationScale converts a motion controller's configured rotation_distance
// (the "mm per full stepper revolution" used by original_source/Laser/Calibration.py's
// mm_per_rad) into command units per radian: S = rotation_distance/(2*pi).
func RotationScale(rotationDistance float64) float64 {
	return rotationDistance / (2 * math.Pi)
}

// Delta is the commanded mirror-axis offset from neutral, in command units.
type Delta struct {
	DX float64
	DY float64
}

// Solve maps a lateral ground offset x, a forward ground distance z, and the
// current platform roll phi (radians) to mirror-axis deltas. Returns
// ErrInvalidTarget if z <= 0; clamping to safe axis bounds is the Motion
// Streamer's responsibility, not this function's.
func Solve(p Params, x, z, phi float64) (Delta, error) {
	if z <= 0 {
		return Delta{}, &ErrInvalidTarget{Z: z}
	}

	d := math.Hypot(x, z)
	thetaPitch := math.Atan(p.LaserHeightM / d)
	thetaYaw := math.Atan2(x, z)

	dy := p.SignY * p.ScaleY * (thetaPitch/2 - phi/2)
	dx := p.SignX * p.ScaleX * (thetaYaw / 2)

	return Delta{DX: dx, DY: dy}, nil
}
