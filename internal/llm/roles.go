package llm

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/mindmate/internal/models"
)

func chatMessageType(role models.Role) (llms.ChatMessageType, error) {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem, nil
	case models.RoleUser:
		return llms.ChatMessageTypeHuman, nil
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI, nil
	default:
		return "", fmt.Errorf("unknown message role %q", role)
	}
}

func toMessageContent(messages []models.Message) ([]llms.MessageContent, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages")
	}
	content := make([]llms.MessageContent, 0, len(messages))
	for i, msg := range messages {
		t, err := chatMessageType(msg.Role)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		content = append(content, llms.TextParts(t, msg.Content))
	}
	return content, nil
}
