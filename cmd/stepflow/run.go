package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

func newRunCmd(c *cli) *cobra.Command {
	var revisionID, varsJSON, varsFile string
	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Run a workflow and print its final context and trace",
		Long: `Run a workflow and print its final context and trace.

When the vars document is a JSON array of objects, one run per object is
executed concurrently (bounded by pool_size) and the outputs are printed as
a JSON array in the same order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, batch, err := parseVarSets(varsJSON, varsFile)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				inputs := make([]*engine.Input, len(sets))
				for i, vars := range sets {
					inputs[i] = &engine.Input{WorkflowID: args[0], RevisionID: revisionID, Vars: vars}
				}
				if batch {
					return runBatch(ctx, cmd, a, inputs)
				}
				out, err := a.executor.Execute(ctx, inputs[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				if out.Failed() {
					return fmt.Errorf("run %s failed: %w", out.RunID, out.Err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&revisionID, "revision", "", "Revision id (default: the workflow's current revision)")
	cmd.Flags().StringVar(&varsJSON, "vars", "", "Initial context as a JSON object, or an array of objects for a batch")
	cmd.Flags().StringVar(&varsFile, "vars-file", "", "File holding the vars document")
	cmd.MarkFlagsMutuallyExclusive("vars", "vars-file")
	return cmd
}

func runBatch(ctx context.Context, cmd *cobra.Command, a *app, inputs []*engine.Input) error {
	outs, err := a.executor.ExecuteAll(ctx, inputs)
	if perr := printJSON(cmd.OutOrStdout(), outs); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	failed := 0
	for _, out := range outs {
		if out.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(outs))
	}
	return nil
}

// parseVarSets reads a vars document. An object yields one context; an
// array of objects yields one context per element and batch is true.
func parseVarSets(inline, file string) (sets []value.Vars, batch bool, err error) {
	data := []byte(inline)
	if file != "" {
		if data, err = os.ReadFile(file); err != nil {
			return nil, false, fmt.Errorf("read vars: %w", err)
		}
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		vars, err := parseVars(trimmed)
		if err != nil {
			return nil, false, err
		}
		return []value.Vars{vars}, false, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false, schema.NewErrorf(schema.ErrCodeValidation, "vars batch must be a JSON array: %s", err.Error()).WithCause(err)
	}
	if len(items) == 0 {
		return nil, false, schema.NewError(schema.ErrCodeValidation, "vars batch is empty")
	}
	for i, item := range items {
		vars, err := parseVars(item)
		if err != nil {
			return nil, false, fmt.Errorf("vars[%d]: %w", i, err)
		}
		sets = append(sets, vars)
	}
	return sets, true, nil
}

func parseVars(data []byte) (value.Vars, error) {
	vars, err := value.ParseVars(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "vars must be a JSON object: %s", err.Error()).WithCause(err)
	}
	return vars, nil
}
