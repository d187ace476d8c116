package pong

import (
	"math"
	"math/rand/v2"

	"github.com/tomz197/pong/internal/physics"
)

// StepResult describes what happened during one tick.
type StepResult struct {
	Scorer Slot // Slot that scored this tick, or NoSlot
	Winner Slot // Slot that reached the win score, or NoSlot
	Hit    bool // A paddle returned the ball
}

// Scored reports whether a point was awarded this tick.
func (r StepResult) Scored() bool {
	return r.Scorer != NoSlot
}

// Finished reports whether the tick ended the match.
func (r StepResult) Finished() bool {
	return r.Winner != NoSlot
}

// Serve centers the ball and gives it a fresh velocity: base speed, random
// horizontal direction, and a vertical angle uniformly within MaxServeAngle.
func Serve(s *State, cfg Settings, rng *rand.Rand) {
	maxAngle := physics.Radians(cfg.MaxServeAngle)
	angle := (rng.Float64()*2 - 1) * maxAngle
	dir := 1.0
	if rng.IntN(2) == 0 {
		dir = -1
	}
	s.Ball = Vec{}
	s.Velocity = Vec{
		X: cfg.BaseBallSpeed * math.Cos(angle) * dir,
		Y: cfg.BaseBallSpeed * math.Sin(angle),
	}
	s.trackSpeed()
}

// Step advances s by one tick.
//
// Order: integrate, wall bounce, scoring (which ends the tick), then paddle
// collision on both paddles. A ball that left the field is scored even if it
// also overlaps a paddle band.
func Step(s *State, cfg Settings, rng *rand.Rand) StepResult {
	res := StepResult{Scorer: NoSlot, Winner: NoSlot}

	s.Ball.X += s.Velocity.X * cfg.StepScale
	s.Ball.Y += s.Velocity.Y * cfg.StepScale

	if math.Abs(s.Ball.Y) > cfg.WallLimit {
		s.Velocity.Y = -s.Velocity.Y
		s.Ball.Y = physics.Sign(s.Ball.Y) * cfg.WallLimit
	}

	if math.Abs(s.Ball.X) > 1 {
		// Exiting on the right means the left player scored.
		res.Scorer = SlotRight
		if s.Ball.X > 1 {
			res.Scorer = SlotLeft
		}
		s.Score[res.Scorer]++

		if max(s.Score[0], s.Score[1]) >= cfg.WinScore {
			res.Winner = s.Leader()
			return res
		}
		Serve(s, cfg, rng)
		return res
	}

	// Both paddles are tested every tick; the hitbox test is symmetric.
	hitLeft := collidePaddle(s, cfg, SlotLeft)
	hitRight := collidePaddle(s, cfg, SlotRight)
	res.Hit = hitLeft || hitRight
	s.trackSpeed()
	return res
}

// collidePaddle checks the hitbox of one paddle and bounces the ball off it.
func collidePaddle(s *State, cfg Settings, slot Slot) bool {
	paddle := s.Paddles.For(slot)

	var crossed bool
	var planeX, nudge float64
	if slot == SlotLeft {
		planeX, nudge = -cfg.PaddleX, cfg.PaddleNudge
		crossed = s.Ball.X < planeX && s.Velocity.X < 0
	} else {
		planeX, nudge = cfg.PaddleX, -cfg.PaddleNudge
		crossed = s.Ball.X > planeX && s.Velocity.X > 0
	}
	if !crossed {
		return false
	}

	offset := s.Ball.Y - paddle.Y
	if math.Abs(offset) >= cfg.PaddleHitboxHalfHeight {
		return false
	}

	s.Velocity.X = physics.ClampAbs(-s.Velocity.X*cfg.HitSpeedMultiplier, cfg.MaxBallSpeed)
	s.Hits++

	// Off-center hits leave at a steeper angle, capped at MaxBounceAngle.
	vy := offset / cfg.PaddleHitboxHalfHeight * cfg.BounceVerticalScale
	limit := physics.MaxVertical(s.Velocity.X, physics.Radians(cfg.MaxBounceAngle))
	s.Velocity.Y = physics.ClampAbs(vy, limit)

	// Keep the ball out of the band so the next tick does not hit again.
	s.Ball.X = planeX + nudge
	return true
}

// MovePaddle moves slot's paddle toward target, clamped to the paddle limit.
// Non-finite targets are ignored.
func MovePaddle(s *State, cfg Settings, slot Slot, target float64) {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return
	}
	paddle := s.Paddles.For(slot)
	target = physics.ClampAbs(target, cfg.PaddleLimit)
	paddle.Y = physics.ClampAbs(physics.Approach(paddle.Y, target, cfg.PaddleSmoothing), cfg.PaddleLimit)
}

func (s *State) trackSpeed() {
	if v := physics.Speed(s.Velocity.X, s.Velocity.Y); v > s.PeakSpeed {
		s.PeakSpeed = v
	}
}
