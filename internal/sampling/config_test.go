package sampling

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Width != 1720 || cfg.Height != 880 || cfg.MinDistance != 30 {
		t.Errorf("Unexpected default region %gx%g r=%g", cfg.Width, cfg.Height, cfg.MinDistance)
	}
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Expected k=%d, got %d", DefaultMaxAttempts, cfg.MaxAttempts)
	}
}

// TestValidateBoundsGridCells checks the cell count cutoff on both sides;
// a radius of √2 gives unit cells.
func TestValidateBoundsGridCells(t *testing.T) {
	tests := []struct {
		side float64
		ok   bool
	}{
		{46340, true},  // 2147395600 cells
		{46341, false}, // 2147488281 cells
		{1e9, false},
	}

	for _, tt := range tests {
		cfg := Config{Width: tt.side, Height: tt.side, MinDistance: math.Sqrt2, MaxAttempts: 30}
		err := cfg.Validate()
		if tt.ok && err != nil {
			t.Errorf("side %g: unexpected error %v", tt.side, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("side %g: expected config error, got %v", tt.side, err)
		}
	}
}

func TestParseRounding(t *testing.T) {
	tests := []struct {
		in   string
		want Rounding
		ok   bool
	}{
		{"", RoundNearest, true},
		{"nearest", RoundNearest, true},
		{"floor", RoundFloor, true},
		{"none", RoundNone, true},
		{"real", RoundNone, true},
		{"ceil", 0, false},
	}

	for _, tt := range tests {
		got, err := ParseRounding(tt.in)
		if tt.ok && err != nil {
			t.Errorf("ParseRounding(%q): unexpected error %v", tt.in, err)
			continue
		}
		if !tt.ok {
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("ParseRounding(%q): expected config error, got %v", tt.in, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRounding(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestRoundingApply(t *testing.T) {
	tests := []struct {
		r    Rounding
		in   float64
		want float64
	}{
		{RoundNearest, 2.5, 3},
		{RoundNearest, -2.5, -3},
		{RoundNearest, -2.4, -2},
		{RoundFloor, -2.1, -3},
		{RoundFloor, 2.9, 2},
		{RoundNone, -2.1, -2.1},
	}
	for _, tt := range tests {
		if got := tt.r.apply(tt.in); got != tt.want {
			t.Errorf("%s.apply(%g): expected %g, got %g", tt.r, tt.in, tt.want, got)
		}
	}
}

func TestConfigJSONRoundTripsRounding(t *testing.T) {
	var cfg Config
	body := `{"width":100,"height":50,"minDistance":5,"maxAttempts":10,"rounding":"floor","seed":3}`
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cfg.Rounding != RoundFloor || cfg.Seed != 3 || cfg.MaxAttempts != 10 {
		t.Errorf("Unexpected config %+v", cfg)
	}

	if err := json.Unmarshal([]byte(`{"rounding":"sideways"}`), &cfg); err == nil {
		t.Error("Expected error for unknown rounding")
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := Config{Width: 10, Height: 10, MinDistance: 0, MaxAttempts: 1}.Validate()
	want := "invalid sampling config: MinDistance=0: must be positive"
	if err == nil || err.Error() != want {
		t.Errorf("Expected %q, got %v", want, err)
	}
}
