package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries the state shared by all subcommands of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: newViper()}

	root := &cobra.Command{
		Use:   "stepflow",
		Short: "Graph workflow engine and scenario tester",
		Long: `Stepflow stores workflow revisions as graphs of typed steps, runs them
against an initial context, and replays stored test scenarios to check the
context each run leaves behind.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "Path to a stepflow.yaml config file")
	flags.String("db", "", "Database file, or :memory: (env: STEPFLOW_DB_PATH)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (env: STEPFLOW_LOG_LEVEL)")
	flags.String("log-format", "", "Log format: text or json (env: STEPFLOW_LOG_FORMAT)")
	flags.String("tracer", "", "Run tracer: store, log, all or none (env: STEPFLOW_TRACER)")
	flags.Int("pool-size", 0, "Concurrent runs for batch execution (env: STEPFLOW_POOL_SIZE)")
	if err := bindFlags(c.v, flags); err != nil {
		panic(err)
	}

	root.AddCommand(
		newImportCmd(c),
		newValidateCmd(c),
		newRunCmd(c),
		newTestCmd(c),
		newTypesCmd(c),
		newDiagramCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return root
}

// execute runs the command tree and returns the process exit code.
func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// open wires the components for one command. The caller closes the app.
func (c *cli) open(cmd *cobra.Command) (*app, error) {
	return newApp(cmd.Context(), c.cfg, cmd.ErrOrStderr())
}

// withApp opens the app, runs fn and closes the app.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
