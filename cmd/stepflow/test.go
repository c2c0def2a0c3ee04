package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/pkg/schema"
)

func newTestCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "test <workflow-id>",
		Short: "Run every stored test scenario of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				run, err := a.tester.RunStored(ctx, a.store, args[0])
				if run == nil {
					return err
				}
				if err != nil {
					a.logger.WarnContext(ctx, "test run not saved", "error", err)
				}

				out := cmd.OutOrStdout()
				if asJSON {
					if err := printJSON(out, run); err != nil {
						return err
					}
				} else {
					printTestRun(out, run)
				}
				if run.Status != schema.TestStatusPass {
					return fmt.Errorf("%d of %d scenarios failed", run.ScenarioFailCount, run.ScenarioCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the test run as JSON")
	return cmd
}

func printTestRun(w io.Writer, run *schema.WorkflowTestRun) {
	for _, sc := range run.Scenarios {
		fmt.Fprintf(w, "%-4s %s\n", sc.Status, sc.Scenario)
		if sc.Error != nil {
			fmt.Fprintf(w, "     error: %s\n", sc.Error.Error())
		}
		for _, o := range sc.Outputs {
			fmt.Fprintf(w, "     %-4s %s\n", o.Status, o.Message)
		}
	}
	fmt.Fprintf(w, "%s: %d/%d scenarios, %d/%d assertions passed (test run %s)\n",
		run.Status, run.ScenarioPassCount, run.ScenarioCount,
		run.AssertionPassCount, run.AssertionCount, run.ID)
}
