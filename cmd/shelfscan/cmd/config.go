package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/shelfscan/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Inspect and generate configuration",
		Annotations: map[string]string{skipValidation: "true"},
	}

	initCmd := &cobra.Command{
		Use:         "init [path]",
		Short:       "Write a configuration file with every default",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipValidation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFileName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateDefaultConfigFile(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:         "show",
		Short:       "Print the effective configuration with credentials masked",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipValidation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			shown := a.cfg.Redacted()
			var (
				data []byte
				err  error
			)
			switch strings.ToLower(format) {
			case "yaml", "":
				data, err = config.MarshalYAML(shown)
			case "json":
				data, err = json.MarshalIndent(shown, "", "  ")
			default:
				return fmt.Errorf("unsupported format %q (want yaml or json)", format)
			}
			if err != nil {
				return err
			}
			return writeOutput(cmd, "", string(data))
		},
	}
	showCmd.Flags().StringP("format", "f", "yaml", "output format (yaml, json)")

	validateCmd := &cobra.Command{
		Use:         "validate",
		Short:       "Check the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipValidation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, validateCmd)
	return cmd
}
