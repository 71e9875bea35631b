package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/radiusd/pkg/config"
	"github.com/marmos91/radiusd/pkg/policy"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage radiusd configuration files.

Use 'radiusd init' to create a new configuration file.

Subcommands:
  validate  Validate the server configuration and the policy file
  show      Display the effective configuration`,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the server configuration and the policy file",
	Long: `Validate the server configuration and, when policy.path is set,
the policy file it points at. Reports every violation, not only the first.

Examples:
  radiusd config validate
  radiusd config validate --config /etc/radiusd/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	fmt.Println("Server configuration: OK")

	if cfg.Policy.Path == "" {
		fmt.Println("Policy: skipped (policy.path not set)")
		return nil
	}

	if _, err := policy.Load(cfg.Policy.Path); err != nil {
		return fmt.Errorf("policy validation failed for %s: %w", cfg.Policy.Path, err)
	}
	fmt.Printf("Policy %s: OK\n", cfg.Policy.Path)

	return nil
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the effective radiusd configuration as YAML, with defaults
and environment overrides applied. The shared secret is redacted.`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if cfg.Radius.Secret != "" {
		cfg.Radius.Secret = "<redacted>"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(data))

	return nil
}
