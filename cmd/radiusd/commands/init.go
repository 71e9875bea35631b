package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/radiusd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample radiusd configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/radiusd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  radiusd init

  # Initialize with custom path
  radiusd init --config /etc/radiusd/config.yaml

  # Force overwrite existing config
  radiusd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set the RADIUS shared secret (radius.secret or RADIUSD_RADIUS_SECRET)")
	fmt.Println("  2. Point policy.path at your policy file")
	fmt.Println("  3. Start the server with: radiusd start")

	return nil
}
