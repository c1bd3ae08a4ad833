package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/session"
	"golang.org/x/term"
)

const defaultServerURL = "http://localhost:8080"

func newSearchCmd() *cobra.Command {
	var (
		serverURL string
		req       startRequest
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Start a contractor search and follow its progress",
		Long: "Starts a search on a running quotescout server and streams worker progress\n" +
			"until every platform has finished. Output is human-readable on a terminal\n" +
			"and one JSON event per line otherwise.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.JobID == "" {
				req.JobID = uuid.NewString()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return runSearch(ctx, out, serverURL, req, jsonOut || !isTerminal(out))
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "quotescout server URL")
	cmd.Flags().StringVar(&req.JobID, "job-id", "", "job id (default: random UUID)")
	cmd.Flags().StringVar(&req.ZipCode, "zip", "", "ZIP code to search near (required)")
	cmd.Flags().StringVar(&req.City, "city", "", "city name")
	cmd.Flags().StringVar(&req.Category, "category", "", "service category, e.g. plumbing (required)")
	cmd.Flags().StringVar(&req.Subcategory, "subcategory", "", "more specific service, e.g. clogged drain")
	cmd.Flags().StringVar(&req.ProblemSummary, "problem", "", "short description of the problem")
	cmd.Flags().StringVar(&req.ScopeOfWork, "scope", "", "scope of work for the contractor")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print raw JSON events")
	cmd.MarkFlagRequired("zip")
	cmd.MarkFlagRequired("category")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runSearch(ctx context.Context, out io.Writer, serverURL string, req startRequest, jsonOut bool) error {
	client, err := newAPIClient(serverURL)
	if err != nil {
		return err
	}
	res, err := client.start(ctx, req)
	if err != nil {
		return err
	}

	p := newEventPrinter(out, jsonOut)
	p.started(res)

	var failure error
	err = client.stream(ctx, res.JobID, func(evt session.Event) (bool, error) {
		if err := p.print(evt); err != nil {
			return true, err
		}
		switch evt.Type {
		case session.EventComplete:
			return true, nil
		case session.EventError:
			failure = fmt.Errorf("search %s failed: %s", res.JobID, evt.Message)
			return true, nil
		}
		return false, nil
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return failure
}

// styles are bound to the output writer so colors are dropped when it is not
// a terminal.
type styles struct {
	job, platform, ok, err, dim lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		job:      r.NewStyle().Bold(true),
		platform: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		ok:       r.NewStyle().Foreground(lipgloss.Color("10")),
		err:      r.NewStyle().Foreground(lipgloss.Color("9")),
		dim:      r.NewStyle().Faint(true),
	}
}

// eventPrinter renders stream events. In JSON mode each event is written as
// received; otherwise new log lines and changes in a worker's status or
// action are shown.
type eventPrinter struct {
	out     io.Writer
	json    bool
	enc     *json.Encoder
	st      styles
	last    map[string]string
	seenLog map[string]int
}

func newEventPrinter(out io.Writer, jsonOut bool) *eventPrinter {
	return &eventPrinter{
		out:     out,
		json:    jsonOut,
		enc:     json.NewEncoder(out),
		st:      newStyles(out),
		last:    make(map[string]string),
		seenLog: make(map[string]int),
	}
}

func (p *eventPrinter) started(res *startResponse) {
	if p.json {
		return
	}
	note := ""
	if res.AlreadyRunning {
		note = p.st.dim.Render(" (already running, attaching)")
	}
	fmt.Fprintf(p.out, "Search %s started%s\n", p.st.job.Render(res.JobID), note)
}

func (p *eventPrinter) print(evt session.Event) error {
	if p.json {
		return p.enc.Encode(evt)
	}
	switch evt.Type {
	case session.EventSessionUpdate:
		if evt.Worker != nil {
			p.workerUpdate(*evt.Worker)
		}
	case session.EventContractorsFound:
		fmt.Fprintf(p.out, "%s %s\n", p.st.platform.Render(evt.Platform),
			p.st.ok.Render(fmt.Sprintf("found %d contractors", len(evt.Contractors))))
		for _, c := range evt.Contractors {
			fmt.Fprintf(p.out, "    %-32s %.1f★ (%d)  %s\n", truncate(c.Name, 32), c.Rating, c.ReviewCount, c.Pricing)
		}
	case session.EventComplete:
		total := 0
		if evt.TotalContractors != nil {
			total = *evt.TotalContractors
		}
		fmt.Fprintln(p.out, p.st.ok.Render(fmt.Sprintf("Search complete: %d contractors", total)))
	case session.EventError:
		fmt.Fprintln(p.out, p.st.err.Render("Search failed: "+evt.Message))
	}
	return nil
}

func (p *eventPrinter) workerUpdate(w models.WorkerState) {
	name := p.st.platform.Render(w.Platform)
	for _, l := range w.Logs[min(p.seenLog[w.Platform], len(w.Logs)):] {
		fmt.Fprintf(p.out, "%s %s\n", name, p.st.dim.Render(l.Message))
	}
	p.seenLog[w.Platform] = len(w.Logs)

	key := fmt.Sprintf("%s|%d|%s", w.Status, w.Progress, w.CurrentAction)
	if p.last[w.Platform] == key {
		return
	}
	p.last[w.Platform] = key

	status := string(w.Status)
	switch w.Status {
	case models.StatusCompleted:
		status = p.st.ok.Render(status)
	case models.StatusError:
		status = p.st.err.Render(status)
	}
	line := fmt.Sprintf("%s [%3d%%] %s", name, w.Progress, status)
	if w.CurrentAction != "" {
		line += " " + w.CurrentAction
	}
	if w.Error != "" {
		line += " " + p.st.err.Render(w.Error)
	}
	fmt.Fprintln(p.out, line)
}

// truncate shortens s to n runes with a trailing "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
