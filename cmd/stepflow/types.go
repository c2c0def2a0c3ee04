package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTypesCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List registered step types and workflow types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app) error {
				stepTypes := a.registry.ListStepTypes()
				workflowTypes := a.registry.ListWorkflowTypes()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"step_types":     stepTypes,
						"workflow_types": workflowTypes,
					})
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STEP TYPE\tLINKS\tOPTIONS\tDESCRIPTION")
				for _, st := range stepTypes {
					opts := make([]string, len(st.LinkOptions))
					for i, o := range st.LinkOptions {
						opts[i] = o.Value
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Name, st.LinkMode, strings.Join(opts, ","), st.Description)
				}
				fmt.Fprintln(tw)
				fmt.Fprintln(tw, "WORKFLOW TYPE\tCATEGORIES\t\tDESCRIPTION")
				for _, wt := range workflowTypes {
					cats := make([]string, len(wt.Categories))
					for i, cat := range wt.Categories {
						cats[i] = cat.Name
					}
					fmt.Fprintf(tw, "%s\t%s\t\t%s\n", wt.Name, strings.Join(cats, ","), wt.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print types as JSON")
	return cmd
}
