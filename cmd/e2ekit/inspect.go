package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bft-labs/e2ekit/pkg/fixture"
)

func newGraphCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "graph [FIXTURE...]",
		Short: "Print the load order of fixtures from the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := c.registry()
			if err != nil {
				return err
			}
			keys := args
			if len(keys) == 0 {
				keys = reg.Keys()
			}
			decls, err := reg.Declarations(keys...)
			if err != nil {
				return err
			}

			g := fixture.NewGraph()
			if err := g.AddAll(decls); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tALIAS\tFIXTURE\tTABLE")
			for i, n := range g.Nodes() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, n.Alias, n.Key, n.Table)
			}
			return w.Flush()
		},
	}
}

func newStateCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the shared state file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the shared state record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := c.store()
			rec, ok, err := s.Load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "no state at %s\n", s.Path())
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "file\t%s\n", s.Path())
			fmt.Fprintf(w, "class\t%s\n", rec.ClassID)
			fmt.Fprintf(w, "test_case_started\t%t\n", rec.TestCaseStarted)
			fmt.Fprintf(w, "start_process_id\t%d\n", rec.StartProcessID)
			fmt.Fprintf(w, "loaded_tables\t%v\n", rec.LoadedTables)
			fmt.Fprintf(w, "previous_test_was_isolated\t%t\n", rec.PreviousTestWasIsolated)
			fmt.Fprintf(w, "updated_at\t%s\n", rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the shared state file left by a crashed run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := c.store()
			if err := s.Clear(cmd.Context()); err != nil {
				return err
			}
			c.zl.Info().Str("file", s.Path()).Msg("state cleared")
			return nil
		},
	})
	return cmd
}
