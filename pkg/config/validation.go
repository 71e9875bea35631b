package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural errors.
//
// The shared secret and the policy path are deliberately not validated here:
// commands that do not start the server (init, config show) work without
// them. The start command checks both before binding sockets.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Radius.AuthPort == cfg.Radius.AcctPort {
		return fmt.Errorf("radius.auth_port and radius.acct_port must differ, both are %d", cfg.Radius.AuthPort)
	}

	if cfg.Metrics.Port != 0 && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("metrics.port %d conflicts with api.port", cfg.Metrics.Port)
	}

	return nil
}
