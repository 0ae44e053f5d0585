// Package config loads relay configuration. Default() is the baseline, Load
// overlays a JSON or YAML file and FromEnv overlays TETHER_* variables.
//
// Example:
//
//	cfg, err := config.Load("/etc/tether.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.FromEnv(&cfg); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
