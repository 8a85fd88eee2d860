package main

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"inkbridge/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.ConfigPath)
			if err != nil {
				return err
			}
			verr := cfg.Validate()
			cfg = cfg.Redacted()

			out := cmd.OutOrStdout()
			switch format {
			case "toml":
				err = toml.NewEncoder(out).Encode(cfg)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				err = enc.Encode(cfg)
			case "yaml":
				enc := yaml.NewEncoder(out)
				err = enc.Encode(cfg)
				if cErr := enc.Close(); err == nil {
					err = cErr
				}
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if verr != nil {
				return verr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "toml", "output format: toml, json, or yaml")
	return cmd
}
