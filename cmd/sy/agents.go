package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/registry"
)

func newAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the specialist agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			reg, err := registry.New(cfg.Agents)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCOPED\tDESCRIPTION")
			for _, a := range reg.List() {
				scoped := "no"
				if a.ScopePrompt != "" {
					scoped = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.DisplayName, scoped, a.Description)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
