package service

import (
	"context"
	"sync"

	"realtime_chat/internal/domain"
)

// Composer holds the unsent text of one conversation for one author. The
// input is cleared only after the store confirms the append, so a failed
// send can be retried without retyping.
type Composer struct {
	chat           ChatService
	conversationID string
	authorID       string

	mu    sync.Mutex
	input string
}

func NewComposer(chat ChatService, conversationID, authorID string) *Composer {
	return &Composer{chat: chat, conversationID: conversationID, authorID: authorID}
}

func (c *Composer) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Send appends the current input, exactly as typed, as a text message.
func (c *Composer) Send(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.chat.AppendMessage(ctx, c.conversationID, c.authorID, domain.TextPayload(c.input))
	if err != nil {
		return "", err
	}
	c.input = ""
	return id, nil
}
