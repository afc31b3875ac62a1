package sampling

import (
	"errors"
	"fmt"
	"math"

	"bluenoise/internal/sampling/spatial"
)

// ErrInvalidConfig is matched by every *ConfigError via errors.Is.
var ErrInvalidConfig = errors.New("invalid sampling config")

// ConfigError describes a configuration value rejected before sampling starts.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid sampling config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Rounding selects how a candidate's offset from its spawn centre is snapped
// before it is tested.
type Rounding uint8

const (
	// RoundNearest rounds each offset component to the nearest integer.
	RoundNearest Rounding = iota
	// RoundFloor truncates toward negative infinity, as the reference trace
	// does. This biases candidates toward -x/-y.
	RoundFloor
	// RoundNone keeps real-valued offsets (continuous annulus sampling).
	RoundNone
)

// String returns the policy name used by flags, env and the API
func (r Rounding) String() string {
	switch r {
	case RoundNearest:
		return "nearest"
	case RoundFloor:
		return "floor"
	case RoundNone:
		return "none"
	default:
		return fmt.Sprintf("rounding(%d)", uint8(r))
	}
}

// ParseRounding maps a policy name back to its value.
func ParseRounding(s string) (Rounding, error) {
	switch s {
	case "", "nearest":
		return RoundNearest, nil
	case "floor":
		return RoundFloor, nil
	case "none", "real":
		return RoundNone, nil
	}
	return 0, &ConfigError{Field: "Rounding", Value: s, Reason: "expected nearest, floor or none"}
}

// MarshalText implements encoding.TextMarshaler.
func (r Rounding) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rounding) UnmarshalText(b []byte) error {
	v, err := ParseRounding(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r Rounding) apply(v float64) float64 {
	switch r {
	case RoundFloor:
		return math.Floor(v)
	case RoundNone:
		return v
	default:
		return math.Round(v)
	}
}

// DefaultMaxAttempts is the per-point candidate budget recommended by Bridson.
const DefaultMaxAttempts = 30

// Config is immutable for the lifetime of a run.
type Config struct {
	// Width and Height bound the region [0,Width) × [0,Height).
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	// MinDistance is the radius r: no two samples are closer than this.
	MinDistance float64 `json:"minDistance"`

	// MaxAttempts (k) is how many candidates an active point proposes
	// before it is retired. Values well below 30 leave visible holes.
	MaxAttempts int `json:"maxAttempts"`

	// Seed for the rng. A zero seed is replaced by a time-based one;
	// Sampler.Seed reports the value actually used.
	Seed int64 `json:"seed,omitempty"`

	// Rounding applies to candidate offsets and the initial centre.
	Rounding Rounding `json:"rounding"`

	// EmitProposals enables CandidateProposed events (debugging only).
	EmitProposals bool `json:"emitProposals,omitempty"`
}

// DefaultConfig returns the region and radius of the original frame dump with
// a k of DefaultMaxAttempts.
func DefaultConfig() Config {
	return Config{
		Width:       1720,
		Height:      880,
		MinDistance: 30,
		MaxAttempts: DefaultMaxAttempts,
		Rounding:    RoundNearest,
	}
}

// Validate returns a *ConfigError for the first invalid field.
func (c Config) Validate() error {
	if err := positive("Width", c.Width); err != nil {
		return err
	}
	if err := positive("Height", c.Height); err != nil {
		return err
	}
	if err := positive("MinDistance", c.MinDistance); err != nil {
		return err
	}
	if cells := spatial.CellCount(c.Width, c.Height, spatial.CellSizeFor(c.MinDistance)); !(cells <= spatial.MaxCells) {
		return &ConfigError{Field: "MinDistance", Value: c.MinDistance,
			Reason: fmt.Sprintf("too small for a %gx%g region (%.3g grid cells, limit %d)", c.Width, c.Height, cells, spatial.MaxCells)}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Field: "MaxAttempts", Value: c.MaxAttempts, Reason: "must be at least 1"}
	}
	if c.Rounding > RoundNone {
		return &ConfigError{Field: "Rounding", Value: c.Rounding, Reason: "unknown rounding policy"}
	}
	return nil
}

func positive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigError{Field: field, Value: v, Reason: "must be finite"}
	}
	if v <= 0 {
		return &ConfigError{Field: field, Value: v, Reason: "must be positive"}
	}
	return nil
}
