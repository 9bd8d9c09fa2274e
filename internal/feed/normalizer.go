package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

// validRoles is the set of accepted entry roles.
var validRoles = map[string]bool{
	"user":        true,
	"assistant":   true,
	"tool_use":    true,
	"tool_result": true,
	"system":      true,
}

// Tools whose use changes auxiliary session facets.
var (
	fileTools = map[string]bool{"Write": true, "Edit": true, "MultiEdit": true, "NotebookEdit": true}
	todoTools = map[string]bool{"TodoWrite": true, "TaskCreate": true, "TaskUpdate": true}
)

// NormalizeRequest validates and cleans an ingest request in place. Entries
// that fail validation are removed and their count returned.
func NormalizeRequest(req *IngestRequest) (dropped int, err error) {
	if len(req.Entries) == 0 {
		return 0, fmt.Errorf("entries must not be empty")
	}
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))

	valid := make([]IngestEntry, 0, len(req.Entries))
	for i := range req.Entries {
		e := &req.Entries[i]
		if err := normalizeEntry(e); err != nil {
			dropped++
			continue
		}
		valid = append(valid, *e)
	}
	req.Entries = valid
	return dropped, nil
}

// normalizeEntry validates and cleans a single entry.
func normalizeEntry(e *IngestEntry) error {
	e.UUID = strings.TrimSpace(e.UUID)
	if e.UUID == "" {
		return fmt.Errorf("entry uuid is required")
	}
	e.Role = strings.ToLower(strings.TrimSpace(e.Role))
	if !validRoles[e.Role] {
		return fmt.Errorf("invalid role: %q", e.Role)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.ToolName = strings.TrimSpace(e.ToolName)
	if e.Text == "" && e.ToolName != "" {
		e.Text = "[" + e.Role + ": " + e.ToolName + "]"
	}
	return nil
}

// toMessage converts a normalized entry into a log message.
func (e IngestEntry) toMessage(sessionID string) transcript.Message {
	return transcript.Message{
		ID:        e.UUID,
		SessionID: sessionID,
		Timestamp: e.Timestamp,
		Role:      e.Role,
		Text:      e.Text,
		Payload:   e.Payload,
	}
}

// facetsFor returns the auxiliary facets touched by a batch, beyond messages.
func facetsFor(entries []IngestEntry) []transcript.Facet {
	var files, todos, hooks bool
	for _, e := range entries {
		switch {
		case fileTools[e.ToolName]:
			files = true
		case todoTools[e.ToolName]:
			todos = true
		case e.Role == "system" && strings.HasPrefix(e.ToolName, "hook:"):
			hooks = true
		}
	}
	var out []transcript.Facet
	if files {
		out = append(out, transcript.FacetFiles)
	}
	if todos {
		out = append(out, transcript.FacetTodos)
	}
	if hooks {
		out = append(out, transcript.FacetHooks)
	}
	return out
}
