package tracing

import "go.opentelemetry.io/otel/attribute"

const (
	AttrWorkspaceID    = "chattree.workspace.id"
	AttrConversationID = "conversation.id"
	AttrMessageID      = "message.id"
	AttrAction         = "chattree.completion.action"
	AttrChunkCount     = "chattree.stream.chunks"
	AttrLLMModel       = "llm.model"
)

func WorkspaceID(id string) attribute.KeyValue    { return attribute.String(AttrWorkspaceID, id) }
func ConversationID(id string) attribute.KeyValue { return attribute.String(AttrConversationID, id) }
func MessageID(id string) attribute.KeyValue      { return attribute.String(AttrMessageID, id) }
func Action(a string) attribute.KeyValue          { return attribute.String(AttrAction, a) }
func ChunkCount(n int) attribute.KeyValue         { return attribute.Int(AttrChunkCount, n) }
func LLMModel(model string) attribute.KeyValue    { return attribute.String(AttrLLMModel, model) }
