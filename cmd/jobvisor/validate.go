package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobvisor/internal/app"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file without starting anything",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, warnings, err := app.ValidateFile(cfgPath)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			pterm.Warning.Println(w)
		}
		pterm.Success.Printfln("%s: %d task(s) ok", cfgPath, len(cfg.Tasks))
		return nil
	},
}
