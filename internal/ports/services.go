package ports

import (
	"context"

	"github.com/longregen/chattree/internal/domain/models"
)

// LLMService streams completions from an upstream model.
type LLMService interface {
	ChatStream(ctx context.Context, model string, messages []models.InputMessage) (<-chan models.StreamChunk, error)
}
