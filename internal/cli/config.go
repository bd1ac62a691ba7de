package cli

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/forPelevin/splicecut/internal/config"
	"github.com/forPelevin/splicecut/internal/domain/errs"
)

func newConfigCommand(env *cmdEnv) *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	configCmd.AddCommand(newConfigInitCommand(env))
	configCmd.AddCommand(newConfigShowCommand(env))
	return configCmd
}

func newConfigInitCommand(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:         "init [path]",
		Short:       "Create a sample configuration file",
		Args:        usageArgs(cobra.MaximumNArgs(1)),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := env.configPath
			if len(args) == 1 {
				target = args[0]
			}
			if target == "" {
				p, err := config.DefaultConfigPath()
				if err != nil {
					return errs.Wrap(errs.FsFail, errs.PhaseArgs, err, "determine default config path")
				}
				target = p
			}
			if err := config.CreateSample(target); err != nil {
				return errs.Wrap(errs.FsFail, errs.PhaseArgs, err, "create sample config")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}
}

func newConfigShowCommand(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Print the effective configuration",
		Args:        usageArgs(cobra.NoArgs),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, exists, err := config.Load(env.configPath)
			if err != nil {
				return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "config")
			}
			if env.json {
				return writeJSON(cmd, cfg)
			}
			if exists {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "# defaults (no file at %s)\n", path)
			}
			b, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}
