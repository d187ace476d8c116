// Package physics provides small geometric helpers shared by the simulation.
package physics

import "math"

// Clamp limits v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampAbs limits v to [-limit, limit].
func ClampAbs(v, limit float64) float64 {
	return Clamp(v, -limit, limit)
}

// Speed returns the magnitude of a velocity vector.
func Speed(vx, vy float64) float64 {
	return math.Sqrt(vx*vx + vy*vy)
}

// Sign returns -1 for negative values and 1 otherwise.
func Sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// MaxVertical returns the largest vertical component allowed for a horizontal
// component vx when the trajectory may deviate at most maxAngle radians from
// horizontal.
func MaxVertical(vx, maxAngle float64) float64 {
	return math.Abs(vx) * math.Tan(maxAngle)
}

// Approach moves current toward target by the given factor in (0, 1].
// A factor of 1 (or anything out of range) snaps to the target.
func Approach(current, target, factor float64) float64 {
	if factor <= 0 || factor >= 1 {
		return target
	}
	return current + (target-current)*factor
}
