// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package event

// FirstTerminal returns the index of the first event that ends a turn
// (an assistant message or an error).
func FirstTerminal(events []Event) (int, bool) {
	for index, event := range events {
		if event.Data.EndsTurn() {
			return index, true
		}
	}
	return -1, false
}

// TurnComplete reports whether events contain a turn-ending event.
// The engine itself never acts on this; it is the rule clients use to
// decide when to stop polling or reading a stream.
func TurnComplete(events []Event) bool {
	_, ok := FirstTerminal(events)
	return ok
}

// Summary is a content-free view of an event: enough to compare the
// shape of two sessions without comparing model output.
type Summary struct {
	Seq   int    `json:"seq"`
	Agent string `json:"agent,omitempty"`
	Kind  Kind   `json:"kind"`

	Role      string   `json:"role,omitempty"`
	PartTypes []string `json:"part_types,omitempty"`
	Unparsed  bool     `json:"unparsed,omitempty"`

	Started string `json:"started,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	QuestionCount int    `json:"question_count,omitempty"`
	Permission    string `json:"permission,omitempty"`
}

// Summarize reduces events to their Summary, numbering them from 1 in
// read order regardless of their IDs.
func Summarize(events []Event) []Summary {
	summaries := make([]Summary, 0, len(events))
	for index, event := range events {
		summary := Summary{Seq: index + 1, Agent: string(event.Agent), Kind: event.Data.Kind}
		data := event.Data
		switch {
		case data.Message != nil:
			summary.Role = data.Message.Role
			summary.Unparsed = data.Message.Unparsed
			for _, part := range data.Message.Parts {
				summary.PartTypes = append(summary.PartTypes, part.Type)
			}
		case data.Started != nil:
			summary.Started = data.Started.Message
		case data.Error != nil:
			summary.ErrorKind = data.Error.Kind
			summary.ErrorMessage = data.Error.Message
		case data.Question != nil:
			summary.QuestionCount = len(data.Question.Questions)
		case data.Permission != nil:
			summary.Permission = data.Permission.Permission
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
