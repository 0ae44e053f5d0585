package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/rzbill/tether/internal/errs"
)

// EnvPrefix prefixes every environment override, e.g. TETHER_UPSTREAM or
// TETHER_QUEUE_MAX_PER_TENANT.
const EnvPrefix = "TETHER"

// FromEnv overlays TETHER_* environment variables onto cfg. Field names map
// to upper snake case and nested sections add their own segment. Unset
// variables leave the current value in place.
func FromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return errs.Mark(errs.Wrap(err, "config: environment"), errs.ErrInvalid)
	}
	return nil
}
