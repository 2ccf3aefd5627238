package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/internal/report"
	"github.com/signalsfoundry/occupancy-adp/internal/rpc"
	"github.com/signalsfoundry/occupancy-adp/kb"
	"github.com/spf13/cobra"
)

// runReader is the read side shared by a local archive and a remote server.
type runReader interface {
	List(ctx context.Context) ([]kb.RunRecord, error)
	Get(ctx context.Context, id string) (kb.RunRecord, error)
	Close() error
}

type remoteRuns struct {
	client *rpc.Client
	close  func() error
}

func (r *remoteRuns) List(ctx context.Context) ([]kb.RunRecord, error) { return r.client.ListRuns(ctx) }

func (r *remoteRuns) Get(ctx context.Context, id string) (kb.RunRecord, error) {
	return r.client.GetRun(ctx, id)
}

func (r *remoteRuns) Close() error { return r.close() }

type runsFlags struct {
	archive string
	server  string
}

func newRunsCmd(a *app) *cobra.Command {
	f := &runsFlags{}
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived runs",
	}
	cmd.PersistentFlags().StringVar(&f.archive, "archive", "", "run archive directory")
	cmd.PersistentFlags().StringVar(&f.server, "server", "", "solver gRPC address; used instead of --archive")
	cmd.MarkFlagsMutuallyExclusive("archive", "server")

	open := func() (runReader, error) {
		switch {
		case f.server != "":
			conn, err := rpc.Dial(f.server)
			if err != nil {
				return nil, err
			}
			return &remoteRuns{client: rpc.NewClient(conn), close: conn.Close}, nil
		case f.archive != "":
			store, err := kb.OpenBadgerStore(kb.BadgerConfig{Path: f.archive, Logger: a.log})
			if err != nil {
				return nil, err
			}
			return store, nil
		default:
			return nil, fmt.Errorf("one of --archive or --server is required")
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := withReader(open, func(r runReader) ([]kb.RunRecord, error) {
				return r.List(cmd.Context())
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runsTable(runs))
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one archived run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := withReader(open, func(r runReader) (kb.RunRecord, error) {
				return r.Get(cmd.Context(), args[0])
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}

	var out string
	export := &cobra.Command{
		Use:   "export <id>",
		Short: "Write the policy of an archived run to a .csv or .xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := withReader(open, func(r runReader) (kb.RunRecord, error) {
				return r.Get(cmd.Context(), args[0])
			})
			if err != nil {
				return err
			}
			if !rec.Feasible {
				return fmt.Errorf("run %s: %w", rec.ID, core.ErrInfeasible)
			}
			path := out
			if path == "" {
				path = report.DefaultFileName(rec.Problem.Scenarios, rec.Problem.Stages, "xlsx")
			}
			if err := report.WriteFile(path, rec.PolicyMatrix, report.Summary{
				RunID:     rec.ID,
				Objective: rec.Objective,
				Feasible:  rec.Feasible,
				Elapsed:   rec.Elapsed,
				Scenarios: rec.Problem.Scenarios,
				Stages:    rec.Problem.Stages,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "policy written to %s\n", path)
			return nil
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output path (.csv or .xlsx)")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a run from a local archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.archive == "" {
				return fmt.Errorf("--archive is required")
			}
			store, err := kb.OpenBadgerStore(kb.BadgerConfig{Path: f.archive, SyncWrites: true, Logger: a.log})
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(list, show, export, del)
	return cmd
}

func withReader[T any](open func() (runReader, error), fn func(runReader) (T, error)) (T, error) {
	var zero T
	r, err := open()
	if err != nil {
		return zero, err
	}
	defer r.Close()
	return fn(r)
}

func runsTable(runs []kb.RunRecord) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "LABEL", "CREATED", "STATES", "STAGES", "SCENARIOS", "FEASIBLE", "OBJECTIVE")
	for _, r := range runs {
		t.Row(
			r.ID,
			r.Label,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(r.Problem.States),
			strconv.Itoa(r.Problem.Stages),
			strconv.Itoa(r.Problem.Scenarios),
			strconv.FormatBool(r.Feasible),
			strconv.FormatFloat(r.Objective, 'f', 6, 64),
		)
	}
	return t.String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
