// Package notify posts a summary of each finished search to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/quotescout/internal/config"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/session"
)

// maxTopContractors is the number of leads listed in a summary.
const maxTopContractors = 3

// Colors for summaries, as hex strings.
const (
	colorSuccess = "#36a64f"
	colorPartial = "#daa038"
	colorFailure = "#d00000"
)

// Notifier delivers search summaries.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Field is a labelled value in a formatted summary.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Summary is the platform-neutral description of a finished search.
type Summary struct {
	JobID       string
	Title       string
	Body        string
	Color       string
	Fields      []Field
	Total       int
	Failed      int
	Contractors []models.Contractor
}

// Summarize builds a Summary from a finished session snapshot.
func Summarize(snap session.Snapshot) Summary {
	c := snap.Params.Classification
	what := c.Category
	if c.Subcategory != "" {
		what += " / " + c.Subcategory
	}
	where := strings.TrimSpace(snap.Params.City + " " + snap.Params.ZipCode)

	s := Summary{
		JobID: snap.JobID,
		Total: len(snap.Contractors),
	}
	for _, w := range snap.Workers {
		status := string(w.Status)
		if w.Status == models.StatusError {
			s.Failed++
			status = "error: " + w.Error
		} else {
			status = fmt.Sprintf("%s (%d found)", status, len(w.Contractors))
		}
		s.Fields = append(s.Fields, Field{Name: w.Platform, Value: status, Short: true})
	}

	switch {
	case snap.Outcome == session.OutcomeError:
		s.Title = "Quote search failed"
		s.Body = fmt.Sprintf("Search for %s in %s failed: %s", what, where, snap.ErrorMsg)
		s.Color = colorFailure
	case s.Failed > 0:
		s.Title = fmt.Sprintf("Quote search finished with %d contractors", s.Total)
		s.Body = fmt.Sprintf("%s in %s. %d of %d platforms failed.", what, where, s.Failed, len(snap.Workers))
		s.Color = colorPartial
	default:
		s.Title = fmt.Sprintf("Quote search finished with %d contractors", s.Total)
		s.Body = fmt.Sprintf("%s in %s.", what, where)
		s.Color = colorSuccess
	}

	top := append([]models.Contractor(nil), snap.Contractors...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Rating > top[j].Rating })
	if len(top) > maxTopContractors {
		top = top[:maxTopContractors]
	}
	s.Contractors = top
	return s
}

// Text renders s as plain text for chat clients without rich formatting.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (job %s)\n%s", s.Title, s.JobID, s.Body)
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "\n- %s: %s", f.Name, f.Value)
	}
	if len(s.Contractors) > 0 {
		b.WriteString("\nTop leads:")
		for _, c := range s.Contractors {
			fmt.Fprintf(&b, "\n- %s (%.1f, %d reviews, %s) %s", c.Name, c.Rating, c.ReviewCount, c.Platform, c.ProfileURL)
		}
	}
	return b.String()
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, s Summary) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers enabled in cfg. It returns nil when none
// are configured.
func FromConfig(cfg config.NotifyConfig) (Notifier, error) {
	var m Multi
	if cfg.Slack.Enabled() {
		s, err := NewSlack(SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		m = append(m, s)
	}
	if cfg.Discord.Enabled() {
		d, err := NewDiscord(DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		m = append(m, d)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
