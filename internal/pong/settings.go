package pong

import (
	"time"

	"github.com/rotisserie/eris"
)

// Settings centralizes all tunable simulation parameters.
// The play-field is normalized to [-1, 1] on both axes.
type Settings struct {
	// Server tick rate
	TickRate int `yaml:"tick_rate"`

	// Ball
	StepScale      float64 `yaml:"step_scale"`       // Position advance per tick is velocity * StepScale
	BaseBallSpeed  float64 `yaml:"base_ball_speed"`  // Serve speed
	MaxBallSpeed   float64 `yaml:"max_ball_speed"`   // Cap on |vx| after paddle hits
	MaxServeAngle  float64 `yaml:"max_serve_angle"`  // Degrees from horizontal
	MaxBounceAngle float64 `yaml:"max_bounce_angle"` // Degrees from horizontal
	WallLimit      float64 `yaml:"wall_limit"`       // Ball reflects off |y| > WallLimit

	// Paddles
	PaddleX                float64 `yaml:"paddle_x"`     // Paddle planes sit at ±PaddleX
	PaddleLimit            float64 `yaml:"paddle_limit"` // Paddle travel is clamped to ±PaddleLimit
	PaddleHitboxHalfHeight float64 `yaml:"paddle_hitbox_half_height"`
	PaddleNudge            float64 `yaml:"paddle_nudge"`          // Push back inside the field after a hit
	PaddleSmoothing        float64 `yaml:"paddle_smoothing"`      // 1 snaps to target; (0,1) approaches it
	HitSpeedMultiplier     float64 `yaml:"hit_speed_multiplier"`  // vx *= -HitSpeedMultiplier per hit
	BounceVerticalScale    float64 `yaml:"bounce_vertical_scale"` // vy = normalized offset * scale, before the angle cap

	// Scoring
	WinScore int `yaml:"win_score"`
}

// DefaultSettings returns the tuning used by the production server.
func DefaultSettings() Settings {
	return Settings{
		TickRate:               60,
		StepScale:              0.005,
		BaseBallSpeed:          2.0,
		MaxBallSpeed:           6.0,
		MaxServeAngle:          30,
		MaxBounceAngle:         30,
		WallLimit:              0.95,
		PaddleX:                0.95,
		PaddleLimit:            0.95,
		PaddleHitboxHalfHeight: 0.15,
		PaddleNudge:            0.02,
		PaddleSmoothing:        1.0,
		HitSpeedMultiplier:     1.05,
		BounceVerticalScale:    2.0,
		WinScore:               11,
	}
}

// TickTime returns the interval between two simulation ticks.
func (s Settings) TickTime() time.Duration {
	if s.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(s.TickRate)
}

// Validate reports settings that would make the simulation meaningless.
func (s Settings) Validate() error {
	switch {
	case s.TickRate <= 0:
		return eris.New("tick rate must be positive")
	case s.StepScale <= 0:
		return eris.New("step scale must be positive")
	case s.BaseBallSpeed <= 0:
		return eris.New("base ball speed must be positive")
	case s.MaxBallSpeed < s.BaseBallSpeed:
		return eris.New("max ball speed must be at least the base speed")
	case s.HitSpeedMultiplier < 1:
		return eris.New("hit speed multiplier must be >= 1")
	case s.PaddleHitboxHalfHeight <= 0:
		return eris.New("paddle hitbox must be positive")
	case s.PaddleLimit <= 0 || s.PaddleLimit > 1:
		return eris.New("paddle limit must be in (0, 1]")
	case s.WallLimit <= 0 || s.WallLimit > 1:
		return eris.New("wall limit must be in (0, 1]")
	case s.PaddleX <= 0 || s.PaddleX >= 1:
		return eris.New("paddle plane must be in (0, 1)")
	case s.WinScore <= 0:
		return eris.New("win score must be positive")
	}
	return nil
}
