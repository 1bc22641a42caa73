package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/berrycraft/mirrorpeer/internal/scenario"
	"github.com/berrycraft/mirrorpeer/internal/selection"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the registered scenario types",
	Long: `Display every registered scenario type with its typical duration and
terrain restriction. Names listed here are valid entries for the
scenarios.enabled configuration list.`,
	RunE: runScenarios,
}

func init() {
	scenariosCmd.Flags().String("durations-file", "", "YAML file of typical-duration overrides to apply before listing")
	rootCmd.AddCommand(scenariosCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	reg := scenario.Builtin()
	cat := selection.NewCatalog(reg)

	if path, _ := cmd.Flags().GetString("durations-file"); path != "" {
		if err := cat.LoadOverrides(path); err != nil {
			return err
		}
	}

	for _, name := range cat.Names() {
		info, _ := reg.Info(name)
		line := name
		if d, ok := cat.Duration(name); ok {
			line += fmt.Sprintf("  (typical %s", d)
			if info.FlatWorldOnly {
				line += ", flat world only"
			}
			line += ")"
		} else if info.FlatWorldOnly {
			line += "  (flat world only)"
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
