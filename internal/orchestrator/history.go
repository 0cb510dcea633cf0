package orchestrator

import (
	"encoding/json"

	"github.com/relaygate/relaygate/pkg/models"
)

// LoadHistory reads a session's transcript and translates it into the
// Message sequence the provider call expects. Lines at or before the
// latest compaction marker are dropped as a defensive
// safeguard — Rewrite already splices the summary in at the disk level, so
// this only guards against a stray pre-compaction line surviving a partial
// rewrite. A "tool" line missing call_id in its metadata is dropped rather
// than translated, since the orchestrator has no way to pair it with a
// ToolCall.
func LoadHistory(lines []models.TranscriptLine) []models.Message {
	lines = dropPastCompactionMarker(lines)

	messages := make([]models.Message, 0, len(lines))
	for _, line := range lines {
		msg, ok := translateLine(line)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func dropPastCompactionMarker(lines []models.TranscriptLine) []models.TranscriptLine {
	lastMarker := -1
	for i, l := range lines {
		if l.IsCompactionMarker() {
			lastMarker = i
		}
	}
	if lastMarker <= 0 {
		return lines
	}
	return lines[lastMarker:]
}

func translateLine(line models.TranscriptLine) (models.Message, bool) {
	switch line.Role {
	case models.RoleUser, models.RoleSystem:
		return models.Message{Role: line.Role, Text: line.Content, Created: line.Timestamp}, true

	case models.RoleAssistant:
		calls := decodeToolCalls(line.Metadata)
		if len(calls) == 0 {
			return models.Message{Role: models.RoleAssistant, Text: line.Content, Created: line.Timestamp}, true
		}
		parts := make([]models.ContentPart, 0, len(calls)+1)
		if line.Content != "" {
			parts = append(parts, models.ContentPart{Type: models.ContentText, Text: line.Content})
		}
		for _, c := range calls {
			parts = append(parts, models.ContentPart{
				Type:         models.ContentToolUse,
				ToolUseID:    c.CallID,
				ToolUseName:  c.ToolName,
				ToolUseInput: c.Arguments,
			})
		}
		return models.Message{Role: models.RoleAssistant, Parts: parts, Created: line.Timestamp}, true

	case models.RoleTool:
		callID, ok := line.CallID()
		if !ok || callID == "" {
			return models.Message{}, false
		}
		isError, _ := line.Metadata[models.MetaIsError].(bool)
		return models.Message{
			Role: models.RoleTool,
			Parts: []models.ContentPart{{
				Type:              models.ContentToolResult,
				ToolResultID:      callID,
				ToolResultContent: line.Content,
				ToolResultIsError: isError,
			}},
			Created: line.Timestamp,
		}, true

	default:
		return models.Message{}, false
	}
}

// decodeToolCalls round-trips the MetaToolCalls metadata entry (decoded from
// JSON as []interface{} of map[string]interface{}) back into []ToolCall.
func decodeToolCalls(metadata map[string]any) []models.ToolCall {
	if metadata == nil {
		return nil
	}
	raw, ok := metadata[models.MetaToolCalls]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var calls []models.ToolCall
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil
	}
	return calls
}
