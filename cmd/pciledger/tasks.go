package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/pciledger/report"
	"github.com/GoCodeAlone/pciledger/task"
)

func newTasksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List, create and review tasks",
	}
	cmd.AddCommand(
		newTasksListCmd(opts),
		newTasksCreateCmd(opts),
		newTransitionCmd(opts, "approve"),
		newTransitionCmd(opts, "reject"),
	)
	return cmd
}

func printTasks(w io.Writer, tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPCI\tAAS\tSTATUS")
	for _, t := range tasks {
		aas := "-"
		if t.AAS != nil {
			aas = fmt.Sprintf("%.1f", *t.AAS)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n", t.ID, t.Name, t.PCIUnits, aas, t.AuditStatus)
	}
	_ = tw.Flush()
}

func newTasksListCmd(opts *options) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			path := "/api/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var tasks []*task.Task
			if err := opts.client().call(cmd.Context(), http.MethodGet, path, nil, &tasks); err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by pending, approved or rejected")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of tasks")
	return cmd
}

func newTasksCreateCmd(opts *options) *cobra.Command {
	var rate float64
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a task with default factors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := task.NewTask{Name: strings.Join(args, " ")}
			if cmd.Flags().Changed("rate") {
				in.HourlyRate = &rate
			}
			var t task.Task
			if err := opts.client().call(cmd.Context(), http.MethodPost, "/api/tasks", in, &t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%.2f units)\n", t.ID, t.PCIUnits)
			return nil
		},
	}
	cmd.Flags().Float64Var(&rate, "rate", 0, "hourly rate override")
	return cmd
}

func newTransitionCmd(opts *options, verb string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if reason != "" {
				body = map[string]string{"reason": reason}
			}
			var t task.Task
			path := "/api/tasks/" + url.PathEscape(args[0]) + "/" + verb
			if err := opts.client().call(cmd.Context(), http.MethodPost, path, body, &t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t.ID, t.AuditStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "comment or rejection reason")
	return cmd
}

func newKPIsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "kpis",
		Short: "Show key performance indicators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var data report.KPIData
			if err := opts.client().call(cmd.Context(), http.MethodGet, "/api/kpis", nil, &data); err != nil {
				return err
			}
			k := data.KPIs
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total tasks:    %d\n", k.TotalTasks)
			fmt.Fprintf(out, "total PCI:      %.2f\n", k.TotalPCI)
			fmt.Fprintf(out, "average AAS:    %.1f\n", k.AverageAAS)
			fmt.Fprintf(out, "approval rate:  %.1f%%\n", k.ApprovalRate)
			fmt.Fprintf(out, "low AAS tasks:  %d\n", k.TotalLowAAS)
			fmt.Fprintf(out, "open flags:     %d\n", k.OpenFlags)
			return nil
		},
	}
}

func newTrendsCmd(opts *options) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Show daily AAS and task trends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := report.ParsePeriod(period)
			if err != nil {
				return err
			}
			var data report.TrendData
			path := "/api/trends?period=" + url.QueryEscape(string(p))
			if err := opts.client().call(cmd.Context(), http.MethodGet, path, nil, &data); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DAY\tAAS\tTASKS\tAUDIT")
			for _, pt := range data.Trends {
				fmt.Fprintf(tw, "%s\t%.1f\t%d\t%d\n", pt.Period, pt.AAS, pt.Tasks, pt.AuditActivity)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&period, "period", "week", "week, month or quarter")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var output, status string
	cmd := &cobra.Command{
		Use:       "export <csv|xlsx>",
		Short:     "Download a task export",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"csv", "xlsx"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch args[0] {
			case "csv":
				path = "/api/exports/tasks.csv"
			case "xlsx":
				path = "/api/exports/report.xlsx"
			default:
				return fmt.Errorf("unknown format %q: use csv or xlsx", args[0])
			}
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			if output == "" {
				output = "pciledger-export." + args[0]
			}

			resp, err := opts.client().send(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close() //nolint:errcheck

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, resp.Body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().StringVar(&status, "status", "", "only tasks with this status")
	return cmd
}
