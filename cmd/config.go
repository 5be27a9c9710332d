package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/directory"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load the configuration file and environment overrides, validate them,
and print the result as YAML under the callmon: root key.

Examples:
  callmon config -c /etc/callmon/config.yml
  CALLMON_MONITOR_POLL_INTERVAL=250ms callmon config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runConfig(cfg, cmd.OutOrStdout())
	},
}

func runConfig(cfg *config.GlobalConfig, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"callmon": redacted(cfg)}); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "# available directory backends: %v\n", directory.Types())
	return nil
}

// redacted returns a copy of cfg with secret directory options masked.
func redacted(cfg *config.GlobalConfig) config.GlobalConfig {
	out := *cfg
	if len(cfg.Directory.Options) > 0 {
		out.Directory.Options = make(map[string]any, len(cfg.Directory.Options))
		for k, v := range cfg.Directory.Options {
			if k == "api_secret" {
				v = "******"
			}
			out.Directory.Options[k] = v
		}
	}
	return out
}
