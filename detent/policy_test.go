package detent

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestFit(t *testing.T) {
	for _, test := range []struct {
		v, want float64
	}{
		{0, 1},
		{0.2, 1},
		{0.35, 2.5},
		{0.5, 4},
		{0.9, 4},
	} {
		if got := Fit(test.v, 0.2, 0.5, 1, 4); math.Abs(got-test.want) > 1e-12 {
			t.Errorf("Fit(%v) = %v, want %v", test.v, got, test.want)
		}
	}
}

func TestPolicies(t *testing.T) {
	falloff := Falloff{Start: 0.2, End: 0.5, Torque: 1, Kp: 0.2, Kd: 2}
	for _, test := range []struct {
		name   string
		policy ScalingPolicy
		moved  float64
		want   Gains
	}{
		{"full gain", FullGain{}, 0.4, UnitGains},
		{"full gain after snap", FullGain{}, -0.3, UnitGains},
		{"before falloff", falloff, 0.1, UnitGains},
		{"mid falloff", falloff, 0.35, Gains{Torque: 1, Kp: 0.6, Kd: 1.5}},
		{"end of falloff", falloff, 0.5, Gains{Torque: 1, Kp: 0.2, Kd: 2}},
	} {
		t.Run(test.name, func(t *testing.T) {
			if diff := cmp.Diff(test.policy.Scale(test.moved), test.want, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("unexpected gains: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestConfigPolicy(t *testing.T) {
	cfg := DefaultConfig()
	if _, ok := cfg.Policy().(FullGain); !ok {
		t.Errorf("default policy is %T, want FullGain", cfg.Policy())
	}
	cfg.Falloff = DefaultFalloff()
	if _, ok := cfg.Policy().(Falloff); !ok {
		t.Errorf("policy is %T, want Falloff", cfg.Policy())
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	for name, mutate := range map[string]func(*Config){
		"no detents":       func(c *Config) { c.Detents = 0 },
		"slow period":      func(c *Config) { c.Period = MaxPeriod },
		"zero period":      func(c *Config) { c.Period = 0 },
		"no torque":        func(c *Config) { c.MaxTorque = 0 },
		"negative kp":      func(c *Config) { c.KpScale = -1 },
		"snap at detent":   func(c *Config) { c.SnapThreshold = 1 },
		"no tolerance":     func(c *Config) { c.PositionTolerance = 0 },
		"inverted falloff": func(c *Config) { c.Falloff = &Falloff{Start: 0.5, End: 0.2} },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate succeeded", name)
		}
	}
}
