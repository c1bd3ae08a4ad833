package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		serverURL string
		limit     int
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "history [job-id]",
		Short: "List archived searches or show one",
		Long: "Lists recently finished searches from the server's archive, newest first.\n" +
			"With a job id, shows that search's workers and contractors.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(serverURL)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				return runHistoryShow(cmd.Context(), out, client, args[0], jsonOut)
			}
			return runHistoryList(cmd.Context(), out, client, limit, jsonOut)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "quotescout server URL")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of searches to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print raw JSON")
	return cmd
}

func runHistoryList(ctx context.Context, out io.Writer, client *apiClient, limit int, jsonOut bool) error {
	items, err := client.history(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(out, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "No archived searches.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tCATEGORY\tZIP\tOUTCOME\tFOUND\tCOMPLETED")
	for _, it := range items {
		category := it.Category
		if it.Subcategory != "" {
			category += "/" + it.Subcategory
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			truncate(it.JobID, 36), truncate(category, 30), it.ZipCode, it.Outcome,
			it.TotalContractors, it.CompletedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runHistoryShow(ctx context.Context, out io.Writer, client *apiClient, jobID string, jsonOut bool) error {
	d, err := client.historyDetail(ctx, jobID)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(out, d)
	}

	fmt.Fprintf(out, "Job:        %s\n", d.JobID)
	fmt.Fprintf(out, "Category:   %s\n", d.Category)
	if d.Subcategory != "" {
		fmt.Fprintf(out, "Service:    %s\n", d.Subcategory)
	}
	fmt.Fprintf(out, "Location:   %s %s\n", d.ZipCode, d.City)
	fmt.Fprintf(out, "Outcome:    %s\n", d.Outcome)
	if d.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", d.Error)
	}
	fmt.Fprintf(out, "Duration:   %s\n", d.CompletedAt.Sub(d.CreatedAt).Round(time.Second))
	if d.ProblemSummary != "" {
		fmt.Fprintf(out, "Problem:    %s\n", d.ProblemSummary)
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tSTATUS\tERROR")
	for _, wk := range d.Workers {
		e := wk.Error
		if e == "" {
			e = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", wk.Platform, wk.Status, truncate(e, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	if len(d.Contractors) == 0 {
		fmt.Fprintln(out, "No contractors found.")
		return nil
	}
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPLATFORM\tRATING\tREVIEWS\tPRICING")
	for _, c := range d.Contractors {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%d\t%s\n",
			truncate(c.Name, 36), c.Platform, c.Rating, c.ReviewCount, truncate(c.Pricing, 30))
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
