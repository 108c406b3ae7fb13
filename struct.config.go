package ihbv

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the immutable run configuration. Construct once, validate, and
// pass to NewEvaluator; no process-wide state is consulted anywhere.
type Config struct {
	WarmUp       int      `yaml:"warm_up"`        // warm-up prefix length [steps]
	KeepWarmUp   bool     `yaml:"keep_warm_up"`   // retain warm-up rows in outputs (explicit mode)
	WarmUpStates bool     `yaml:"warm_up_states"` // explicit mode: pre-run states over the warm-up prefix
	DyParams     []string `yaml:"dy_params"`      // parameter names allowed to vary per time step
	DyDrop       float64  `yaml:"dy_drop"`        // probability a dynamic parameter is pinned static per basin
	Nmul         int      `yaml:"nmul"`           // realizations per basin
	Routing      bool     `yaml:"routing"`
	CompRout     bool     `yaml:"comprout"` // route each realization before averaging
	Capillary    bool     `yaml:"capillary"`
	NearZero     float64  `yaml:"nearzero"`
	Implicit     bool     `yaml:"implicit"`
	Trapezoidal  bool     `yaml:"trapezoidal"` // implicit scheme variant
	Tol          float64  `yaml:"tol"`         // Newton residual tolerance
	MaxIter      int      `yaml:"max_iter"`    // Newton iteration cap
	FailDiverge  bool     `yaml:"fail_on_divergence"`
	UHLen        int      `yaml:"uh_len"` // routing kernel window length
	Dt           float64  `yaml:"dt"`
	Seed         int64    `yaml:"seed"` // mask/sampling RNG seed; 0 seeds from the clock
}

// DefaultConfig returns the daily-model defaults.
func DefaultConfig() Config {
	return Config{
		Nmul:     1,
		NearZero: nearzero,
		Tol:      1e-3,
		MaxIter:  3,
		UHLen:    uhLen,
		Dt:       defaultDt,
	}
}

// LoadConfig reads a yaml Config, filling unset numeric fields with defaults.
func LoadConfig(fp string) (*Config, error) {
	b, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf(" LoadConfig %v", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf(" LoadConfig %v", err)
	}
	return &cfg, nil
}

// Validate raises configuration errors eagerly, before any simulation work.
func (cfg *Config) Validate() error {
	if cfg.Nmul < 1 {
		return fmt.Errorf("ihbv: nmul must be >= 1, got %d", cfg.Nmul)
	}
	if cfg.DyDrop < 0. || cfg.DyDrop > 1. {
		return fmt.Errorf("ihbv: dy_drop must be in [0,1], got %f", cfg.DyDrop)
	}
	if cfg.WarmUp < 0 {
		return fmt.Errorf("ihbv: warm_up must be >= 0, got %d", cfg.WarmUp)
	}
	if cfg.NearZero <= 0. {
		return fmt.Errorf("ihbv: nearzero must be positive, got %g", cfg.NearZero)
	}
	if cfg.UHLen < 1 {
		return fmt.Errorf("ihbv: uh_len must be >= 1, got %d", cfg.UHLen)
	}
	if cfg.Tol <= 0. || cfg.MaxIter < 1 || cfg.Dt <= 0. {
		return fmt.Errorf("ihbv: tol, max_iter and dt must be positive")
	}
	return nil
}
