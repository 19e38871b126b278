package cmd

import (
	"fmt"
	"os"

	"media-pipeline/infrastructure/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// DefaultOutput is the default output writer for config commands
var DefaultOutput OutputWriter = os.Stdout

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
	Long: `Inspect the effective configuration: the config file merged over defaults.

Examples:
  media-pipeline config show
  media-pipeline config validate --config /etc/media-pipeline/config.yaml`,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetConfig()
		if err != nil {
			return err
		}
		return RunConfigShowWithDependencies(c, DefaultOutput)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetConfig()
		if err != nil {
			return err
		}
		return RunConfigValidateWithDependencies(c, cfgFile, DefaultOutput)
	},
}

// RunConfigShowWithDependencies writes cfg as YAML
func RunConfigShowWithDependencies(cfg *config.Config, out OutputWriter) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return enc.Close()
}

// RunConfigValidateWithDependencies reports whether cfg is usable
func RunConfigValidateWithDependencies(cfg *config.Config, configPath string, out OutputWriter) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	for _, path := range []string{cfg.Google.CredentialsFile, cfg.Google.TokenFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			fmt.Fprintf(out, "Warning: %s is not readable: %v\n", path, err)
		}
	}
	fmt.Fprintf(out, "%s is valid\n", configPath)
	return nil
}
