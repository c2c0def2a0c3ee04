package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newImportCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "import <glob>...",
		Short: "Import bundle files (YAML or JSON, ** globs allowed)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				results, err := a.importer.ImportFiles(ctx, args)
				if asJSON {
					if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
						return perr
					}
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range results {
					state := "unchanged"
					if r.Created {
						state = "new"
					}
					fmt.Fprintf(out, "%s: workflow %s revision %d (%s), %d scenarios, %d records\n",
						r.Path, r.WorkflowID, r.Number, state, r.Scenarios, r.Records)
					for _, w := range r.Warnings {
						fmt.Fprintf(out, "  warning %s: %s\n", w.Path, w.Message)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print import results as JSON")
	return cmd
}
