package worker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zulandar/quotescout/internal/agent"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/session"
)

// reasoningMarker identifies agent diagnostic lines that carry a reasoning
// step worth showing to the user. Matching runs on the raw line so the match
// offsets are valid for slicing it.
var reasoningMarker = regexp.MustCompile(`(?i)reasoning|💭`)

const screenshotMarker = "screenshot"

// Progress bands for reasoning steps while the agent works.
const (
	searchingBase   = 30
	searchingCap    = 60
	extractingBase  = 70
	extractingCap   = 85
	progressPerStep = 3
)

// classifyDiagnostic maps a raw diagnostic line to a log entry. ok is false
// for lines that are not surfaced.
func classifyDiagnostic(line string) (typ models.LogType, msg string, ok bool) {
	if loc := reasoningMarker.FindStringIndex(line); loc != nil {
		rest := strings.TrimLeft(line[loc[1]:], " :=-\"'")
		rest = strings.TrimRight(rest, " \"'")
		if rest == "" {
			rest = strings.TrimSpace(line)
		}
		return models.LogAction, rest, true
	}
	if strings.Contains(strings.ToLower(line), screenshotMarker) {
		return models.LogInfo, "Taking screenshot", true
	}
	return "", "", false
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

// handleEvent is the agent.Handler for one run. Calls are serialized by the
// runner, so the step counter needs no lock. The handler belongs to this run
// only; nothing outside the run can write into its log.
func (r *run) handleEvent(evt agent.Event) {
	switch evt.Kind {
	case agent.KindPhase:
		switch evt.Phase {
		case agent.PhaseNavigated, agent.PhaseSearching:
			r.update(session.Update{
				Status:   models.StatusSearching,
				Progress: searchingBase,
				Action:   "Searching " + r.platform.Name,
			})
		case agent.PhaseExtracting:
			r.update(session.Update{
				Status:   models.StatusExtracting,
				Progress: extractingBase,
				Action:   "Extracting contractor details",
			})
		}
	case agent.KindReasoning:
		r.reasoningStep(evt.Text)
	case agent.KindAction:
		if strings.Contains(strings.ToLower(evt.Action), screenshotMarker) {
			r.log(models.LogInfo, "Taking screenshot")
			return
		}
		msg := evt.Action
		if evt.Text != "" {
			msg += ": " + evt.Text
		}
		r.log(models.LogAction, truncate(msg, r.w.maxLogMessage))
	case agent.KindError:
		r.log(models.LogWarning, truncate(evt.Text, r.w.maxLogMessage))
	case agent.KindDiagnostic:
		typ, msg, ok := classifyDiagnostic(evt.Text)
		if !ok {
			return
		}
		if typ == models.LogAction {
			r.reasoningStep(msg)
			return
		}
		r.log(typ, msg)
	}
}

// reasoningStep logs one reasoning line and nudges progress within the band
// of the current phase.
func (r *run) reasoningStep(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	r.steps++
	state := r.log(models.LogAction, truncate(text, r.w.maxLogMessage))

	base, ceiling := searchingBase, searchingCap
	if state.Status == models.StatusExtracting {
		base, ceiling = extractingBase, extractingCap
	}
	r.update(session.Update{Progress: min(ceiling, base+r.steps*progressPerStep)})
}
