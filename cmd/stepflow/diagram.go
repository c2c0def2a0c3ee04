package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/pkg/schema"
)

func newDiagramCmd(c *cli) *cobra.Command {
	var revisionID, runID, format, outFile string
	cmd := &cobra.Command{
		Use:   "diagram <workflow-id>",
		Short: "Draw a workflow revision as Mermaid or PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "mermaid" && format != "png" {
				return fmt.Errorf("format %q: want mermaid or png", format)
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				wf, err := a.store.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}

				var runLog *schema.WorkflowRunLog
				if runID != "" {
					if runLog, err = a.store.GetRunLog(ctx, runID); err != nil {
						return err
					}
					if runLog.WorkflowID != wf.ID {
						return fmt.Errorf("run %s belongs to workflow %s", runID, runLog.WorkflowID)
					}
					if revisionID == "" {
						revisionID = runLog.RevisionID
					}
				}

				rev, err := loadRevision(ctx, a, wf.ID, revisionID)
				if err != nil {
					return err
				}
				model, err := diagram.Build(wf.Name, rev, a.registry, runLog)
				if err != nil {
					return err
				}

				var data []byte
				if format == "png" {
					if data, err = diagram.RenderImage(ctx, model); err != nil {
						return err
					}
				} else {
					data = []byte(diagram.RenderMermaid(model))
				}

				if outFile == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(outFile, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&revisionID, "revision", "", "Revision id (default: current, or the run's revision)")
	cmd.Flags().StringVar(&runID, "run", "", "Run id whose visited steps to overlay")
	cmd.Flags().StringVar(&format, "format", "mermaid", "Output format: mermaid or png")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}
