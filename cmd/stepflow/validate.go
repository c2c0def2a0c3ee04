package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/pkg/schema"
)

func newValidateCmd(c *cli) *cobra.Command {
	var revisionID, file string
	cmd := &cobra.Command{
		Use:   "validate [workflow-id]",
		Short: "Validate a stored revision, or a bundle file with --file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && len(args) == 0 {
				return errors.New("a workflow id or --file is required")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				var rev *schema.WorkflowRevision
				if file != "" {
					b, err := a.importer.Loader().LoadFile(file)
					if err != nil {
						return err
					}
					rev = &b.Revision
				} else {
					var err error
					rev, err = loadRevision(ctx, a, args[0], revisionID)
					if err != nil {
						return err
					}
				}

				result := a.validator.Validate(rev)
				printIssues(cmd.OutOrStdout(), result)
				if !result.Valid() {
					return fmt.Errorf("revision has %d errors", len(result.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&revisionID, "revision", "", "Revision id (default: the workflow's current revision)")
	cmd.Flags().StringVar(&file, "file", "", "Bundle file to validate without storing it")
	return cmd
}

func printIssues(w io.Writer, r *schema.ValidationResult) {
	for _, issue := range r.Errors {
		fmt.Fprintf(w, "error   %s [%s] %s\n", issue.Path, issue.Code, issue.Message)
	}
	for _, issue := range r.Warnings {
		fmt.Fprintf(w, "warning %s [%s] %s\n", issue.Path, issue.Code, issue.Message)
	}
	if r.Valid() {
		fmt.Fprintf(w, "valid (%d warnings)\n", len(r.Warnings))
	}
}

// loadRevision resolves revisionID, or the current revision of workflowID.
func loadRevision(ctx context.Context, a *app, workflowID, revisionID string) (*schema.WorkflowRevision, error) {
	if revisionID == "" {
		wf, err := a.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if wf.CurrentRevisionID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q has no current revision", workflowID)
		}
		revisionID = wf.CurrentRevisionID
	}
	return a.store.GetRevision(ctx, revisionID)
}

