package thread

import (
	"fmt"
	"strings"

	"github.com/longregen/chattree/internal/domain/models"
)

// FromPersistedList converts a conversation's stored messages. Tool
// results are indexed across every message first, then merged onto the
// tool calls they answer.
func FromPersistedList(pms []*models.PersistedMessage) []*models.Message {
	results := make(map[string]string)
	for _, pm := range pms {
		indexToolResults(pm.Parts, results)
	}

	out := make([]*models.Message, 0, len(pms))
	for _, pm := range pms {
		out = append(out, convert(pm, results))
	}
	return out
}

// FromPersisted converts a single stored message.
func FromPersisted(pm *models.PersistedMessage) *models.Message {
	results := make(map[string]string)
	indexToolResults(pm.Parts, results)
	return convert(pm, results)
}

func indexToolResults(parts []models.PersistedPart, results map[string]string) {
	for _, p := range parts {
		if p.Type == models.PersistedPartToolResult && p.ToolCallID != "" {
			results[p.ToolCallID] = p.Text
		}
	}
}

func convert(pm *models.PersistedMessage, results map[string]string) *models.Message {
	content := make([]models.ContentPart, 0, len(pm.Parts))
	for _, p := range pm.Parts {
		if part := convertPart(p, results); part != nil {
			content = append(content, part)
		}
	}
	if len(content) == 0 {
		content = append(content, &models.TextPart{})
	}

	msg := &models.Message{
		ID:        pm.ID,
		Role:      pm.Role,
		Content:   content,
		CreatedAt: pm.CreatedAt,
		Status:    StatusFromPersisted(pm.Status),
	}
	if pm.ParentID != nil {
		parent := *pm.ParentID
		msg.ParentID = &parent
	}
	return msg
}

func convertPart(p models.PersistedPart, results map[string]string) models.ContentPart {
	switch p.Type {
	case models.PersistedPartText:
		return &models.TextPart{Text: p.Text}
	case models.PersistedPartReasoning:
		return &models.ReasoningPart{Text: p.Text}
	case models.PersistedPartToolCall:
		tc := &models.ToolCallPart{
			ToolCallID: p.ToolCallID,
			ToolName:   p.ToolName,
			ArgsText:   p.Arguments,
		}
		if result, ok := results[p.ToolCallID]; ok {
			tc.SetResult(result)
		}
		return tc
	case models.PersistedPartImageURL:
		return mediaPart(models.PartTypeImage, p)
	case models.PersistedPartAudioURL:
		return mediaPart(models.PartTypeAudio, p)
	case models.PersistedPartVideoURL:
		return mediaPart(models.PartTypeVideo, p)
	case models.PersistedPartFileURL:
		return mediaPart(models.PartTypeFile, p)
	default:
		// tool_result is merged above; unknown types have no UI form
		return nil
	}
}

func mediaPart(kind models.PartType, p models.PersistedPart) models.ContentPart {
	return &models.MediaPart{Kind: kind, URL: p.URL, MimeType: p.MimeType, Filename: p.Filename}
}

// StatusFromPersisted maps backend status onto the client lifecycle.
func StatusFromPersisted(s models.PersistedStatus) models.MessageStatus {
	switch s {
	case models.PersistedStatusStreaming:
		return models.MessageStatusRunning
	case models.PersistedStatusError:
		return models.MessageStatusError
	default:
		return models.MessageStatusComplete
	}
}

// StatusToPersisted is the inverse used when the backend stores an
// aggregated message.
func StatusToPersisted(s models.MessageStatus) models.PersistedStatus {
	switch s {
	case models.MessageStatusRunning:
		return models.PersistedStatusStreaming
	case models.MessageStatusError:
		return models.PersistedStatusError
	default:
		return models.PersistedStatusCompleted
	}
}

// ToPersistedParts flattens UI parts into storage parts. A tool call with
// a result yields a tool_call part followed by a tool_result part.
func ToPersistedParts(parts []models.ContentPart) []models.PersistedPart {
	out := make([]models.PersistedPart, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case *models.TextPart:
			out = append(out, models.PersistedPart{Type: models.PersistedPartText, Text: p.Text})
		case *models.ReasoningPart:
			out = append(out, models.PersistedPart{Type: models.PersistedPartReasoning, Text: p.Text})
		case *models.ToolCallPart:
			out = append(out, models.PersistedPart{
				Type:       models.PersistedPartToolCall,
				ToolCallID: p.ToolCallID,
				ToolName:   p.ToolName,
				Arguments:  p.ArgsText,
			})
			if p.Result != nil {
				out = append(out, models.PersistedPart{
					Type:       models.PersistedPartToolResult,
					ToolCallID: p.ToolCallID,
					Text:       *p.Result,
				})
			}
		case *models.MediaPart:
			out = append(out, models.PersistedPart{
				Type:     mediaPersistedType(p.Kind),
				URL:      p.URL,
				MimeType: p.MimeType,
				Filename: p.Filename,
			})
		}
	}
	return out
}

func mediaPersistedType(kind models.PartType) models.PersistedPartType {
	switch kind {
	case models.PartTypeAudio:
		return models.PersistedPartAudioURL
	case models.PartTypeVideo:
		return models.PersistedPartVideoURL
	case models.PartTypeFile:
		return models.PersistedPartFileURL
	default:
		return models.PersistedPartImageURL
	}
}

// InputMessages reduces a branch path to the plain-text messages sent to
// the transport. Failed messages and messages without text, such as
// running placeholders, are skipped.
func InputMessages(path []*models.Message) []models.InputMessage {
	out := make([]models.InputMessage, 0, len(path))
	for _, m := range path {
		text := m.Text()
		if text == "" || m.Status == models.MessageStatusError {
			continue
		}
		out = append(out, models.InputMessage{Role: m.Role, Content: text})
	}
	return out
}

// ReplayChunks rebuilds the delta sequence that aggregates back into
// msg's content, ending with the terminal chunk for its status. It lets a
// late reader of a finished generation reuse the streaming path.
func ReplayChunks(msg *models.Message) []models.StreamChunk {
	var out []models.StreamChunk
	if msg.Status == models.MessageStatusError {
		return append(out, models.StreamChunk{Error: fmt.Errorf("%s", strings.TrimPrefix(msg.Text(), "Error: "))})
	}
	for _, part := range msg.Content {
		switch p := part.(type) {
		case *models.TextPart:
			if p.Text != "" {
				out = append(out, models.StreamChunk{Role: models.MessageRoleAssistant, Content: p.Text})
			}
		case *models.ReasoningPart:
			if p.Text != "" {
				out = append(out, models.StreamChunk{Role: models.MessageRoleAssistant, Reasoning: p.Text})
			}
		case *models.ToolCallPart:
			out = append(out, models.StreamChunk{
				Role: models.MessageRoleAssistant,
				ToolCalls: []models.ToolCallDelta{{
					ID:        p.ToolCallID,
					Name:      p.ToolName,
					Arguments: p.ArgsText,
				}},
			})
			if p.Result != nil {
				out = append(out, models.StreamChunk{
					Role:       models.MessageRoleTool,
					ToolCallID: p.ToolCallID,
					Content:    *p.Result,
				})
			}
		}
	}
	if msg.Status == models.MessageStatusRunning {
		return out
	}
	return append(out, models.StreamChunk{Done: true})
}
