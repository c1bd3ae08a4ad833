package session

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/quotescout/internal/models"
)

// EventType names a progress stream event.
type EventType string

const (
	EventSessionUpdate    EventType = "session_update"
	EventContractorsFound EventType = "contractors_found"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Event is the JSON payload sent to progress stream subscribers.
type Event struct {
	Type             EventType           `json:"type"`
	JobID            string              `json:"jobId"`
	Worker           *models.WorkerState `json:"worker,omitempty"`
	Platform         string              `json:"platform,omitempty"`
	Contractors      []models.Contractor `json:"contractors,omitempty"`
	TotalContractors *int                `json:"totalContractors,omitempty"`
	Message          string              `json:"message,omitempty"`
}

// Message is an encoded event ready to be written to a stream.
type Message struct {
	Type EventType
	Data []byte
}

// SessionUpdate builds a session_update event for one worker.
func SessionUpdate(jobID string, w models.WorkerState) Event {
	return Event{Type: EventSessionUpdate, JobID: jobID, Worker: &w, Platform: w.Platform}
}

// ContractorsFound builds a contractors_found event.
func ContractorsFound(jobID, platform string, cs []models.Contractor) Event {
	return Event{Type: EventContractorsFound, JobID: jobID, Platform: platform, Contractors: cs}
}

// Complete builds the terminal success event.
func Complete(jobID string, total int) Event {
	return Event{Type: EventComplete, JobID: jobID, TotalContractors: &total}
}

// Failure builds a terminal error event.
func Failure(jobID, msg string) Event {
	return Event{Type: EventError, JobID: jobID, Message: msg}
}

// Encode marshals an event into a Message.
func Encode(e Event) (Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("session: encode %s event: %w", e.Type, err)
	}
	return Message{Type: e.Type, Data: data}, nil
}
