package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect DeFacto configuration",
	Long: `Inspect DeFacto configuration.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (DEFACTO_*)
3. Config file (./defacto.yaml or ~/.defacto/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		errOut := cmd.ErrOrStderr()
		if f := viper.ConfigFileUsed(); f != "" {
			fmt.Fprintf(errOut, "Configuration file: %s\n\n", f)
		} else {
			fmt.Fprintf(errOut, "No configuration file found (using defaults and environment)\n\n")
		}

		redacted := *cfg
		redacted.Protocol.AdminToken = redact(cfg.Protocol.AdminToken)
		redacted.IPSalt = redact(cfg.IPSalt)
		redacted.DatabaseURL = redact(cfg.DatabaseURL)
		redacted.RedisURL = redact(cfg.RedisURL)

		yamlData, err := yaml.Marshal(redacted)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(yamlData)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(viper.GetViper()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
		return nil
	},
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
