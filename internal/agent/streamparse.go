package agent

import (
	"encoding/json"
	"strings"
)

// ParseEvent decodes one line of the agent's stdout event stream. Lines that
// are not JSON objects, or carry an unknown type, are reported as
// diagnostics so nothing the agent prints is lost.
func ParseEvent(line string) Event {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{Kind: KindDiagnostic, Text: line}
	}

	var evt Event
	if err := json.Unmarshal([]byte(trimmed), &evt); err != nil {
		return Event{Kind: KindDiagnostic, Text: line}
	}

	switch evt.Kind {
	case KindPhase, KindReasoning, KindAction, KindError:
		return evt
	case KindResult:
		if evt.Result == nil {
			// Flat form: {"type":"result","success":true,"message":"..."}
			var r Result
			if err := json.Unmarshal([]byte(trimmed), &r); err == nil {
				evt.Result = &r
			}
		}
		return evt
	default:
		return Event{Kind: KindDiagnostic, Text: line}
	}
}
