// Package config loads and validates the tuning knobs spec section 6
// leaves unenumerated (the conjunction engine's parameters, the
// hash-signature width, the local-router preference), the way the
// teacher's pkg/config pairs spf13/viper for an optional YAML overlay
// with go-playground/validator/v10 for struct validation. The CLI
// surface named explicitly in spec section 6 (-p, -r, -w, -H, -P, ...)
// is bound directly onto each cmd/ binary's pflag set instead of living
// here, since it is positional/required rather than a layered default.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ConjunctionConfig mirrors internal/conjunct.Config's fields with
// validator tags and YAML names, per spec section 4.7's defaults.
type ConjunctionConfig struct {
	AbortLimit              int     `mapstructure:"abort_limit" yaml:"abort_limit" validate:"required,gt=0"`
	PassLimit               int     `mapstructure:"pass_limit" yaml:"pass_limit" validate:"required,gt=0"`
	ExpansionFactor         float64 `mapstructure:"expansion_factor" yaml:"expansion_factor" validate:"gt=1"`
	SoftAndThreshold        float64 `mapstructure:"soft_and_threshold" yaml:"soft_and_threshold" validate:"gte=0,lte=1"`
	MaxLargeArgumentPenalty float64 `mapstructure:"max_large_argument_penalty" yaml:"max_large_argument_penalty" validate:"gte=0,lte=1"`
}

// Tuning holds the knobs every one of the four binaries may load from an
// optional YAML file: the hash-signature width (SPEC_FULL.md's Open
// Questions: default 32, tunable down to 3) and the conjunction engine's
// parameters.
type Tuning struct {
	HashBits   uint              `mapstructure:"hash_bits" yaml:"hash_bits" validate:"gte=3,lte=44"`
	Conjoin    ConjunctionConfig `mapstructure:"conjunction" yaml:"conjunction"`
	SelfRoute  bool              `mapstructure:"self_route" yaml:"self_route"`
	InboundBuf int               `mapstructure:"inbound_buffer" yaml:"inbound_buffer" validate:"gt=0"`
}

// DefaultTuning returns spec section 4.7's literal defaults plus the
// 32-bit hash-signature width pinned in SPEC_FULL.md's Open Questions.
func DefaultTuning() Tuning {
	return Tuning{
		HashBits: 32,
		Conjoin: ConjunctionConfig{
			AbortLimit:              7,
			PassLimit:               3,
			ExpansionFactor:         1.42,
			SoftAndThreshold:        0.80,
			MaxLargeArgumentPenalty: 0.40,
		},
		SelfRoute:  true,
		InboundBuf: 256,
	}
}

var validate = validator.New()

// Load reads path (if non-empty and present) as a YAML overlay onto
// DefaultTuning and validates the result, following the same
// CLI-flags-win-over-file-over-defaults precedence the teacher's
// pkg/config.Load documents — the caller applies any CLI overrides after
// Load returns, since those flags are parsed per-binary, not here.
func Load(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, validateTuning(t)
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return t, validateTuning(t)
		}
		return t, fmt.Errorf("config: stat %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return t, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&t); err != nil {
		return t, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return t, validateTuning(t)
}

func validateTuning(t Tuning) error {
	if err := validate.Struct(&t); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}
