// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessages bounds the history kept in memory. Older turns are pruned.
const MaxMessages = 200

// Translation keys for the assistant's greeting and quick suggestions.
const WelcomeKey = "assistant_initial_message"

// SuggestionKeys are the quick-suggestion prompts shown on an empty chat.
var SuggestionKeys = []string{
	"assistant_suggestion_1",
	"assistant_suggestion_2",
	"assistant_suggestion_3",
	"assistant_suggestion_4",
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the turns of one assistant chat. It is not safe for
// concurrent use; the UI owns it on its update loop.
type Conversation struct {
	ID           string     `json:"id"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Messages     []*Message `json:"messages"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewConversation creates an empty conversation.
func NewConversation(systemPrompt string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:           uuid.NewString(),
		SystemPrompt: systemPrompt,
		Messages:     make([]*Message, 0, 8),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

func (c *Conversation) add(msg *Message) *Message {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.prune()
	return msg
}

// AddWelcome appends the local greeting. It is displayed but excluded from
// History.
func (c *Conversation) AddWelcome(text string) *Message {
	msg := NewMessage(RoleAssistant, text)
	msg.Greeting = true
	return c.add(msg)
}

// AddUser appends a user turn.
func (c *Conversation) AddUser(content string) *Message {
	return c.add(NewMessage(RoleUser, content))
}

// StartAssistant appends an empty streaming assistant turn.
func (c *Conversation) StartAssistant() *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.IsStreaming = true
	return c.add(msg)
}

// Last returns the most recent message, or nil if empty.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// AppendToLast appends a delta to the streaming assistant turn.
func (c *Conversation) AppendToLast(delta string) {
	if last := c.Last(); last != nil && last.IsStreaming {
		last.Content += delta
	}
}

// SetLastContent replaces the streaming turn's content with a full snapshot.
func (c *Conversation) SetLastContent(content string) {
	if last := c.Last(); last != nil && last.IsStreaming {
		last.Content = content
	}
}

// FinishLast ends streaming on the last turn. An empty reply is removed.
func (c *Conversation) FinishLast() {
	last := c.Last()
	if last == nil || !last.IsStreaming {
		return
	}
	last.IsStreaming = false
	if last.IsEmpty() {
		c.Messages = c.Messages[:len(c.Messages)-1]
	}
	c.UpdatedAt = time.Now()
}

// RollbackLastUser removes the most recent user turn together with any
// assistant turn started after it, and returns the user's text so it can be
// offered for retry. ok is false if there is no user turn to roll back.
func (c *Conversation) RollbackLastUser() (content string, ok bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			content = c.Messages[i].Content
			c.Messages = c.Messages[:i]
			c.UpdatedAt = time.Now()
			return content, true
		}
	}
	return "", false
}

// Clear removes every turn, keeping the system prompt.
func (c *Conversation) Clear() {
	c.Messages = c.Messages[:0]
	c.UpdatedAt = time.Now()
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// History returns the request payload: the system prompt followed by every
// completed user and assistant turn. Greetings, empty turns and a reply
// still streaming are left out.
func (c *Conversation) History() []ChatMessage {
	out := make([]ChatMessage, 0, len(c.Messages)+1)
	if c.SystemPrompt != "" {
		out = append(out, ChatMessage{Role: string(RoleSystem), Content: c.SystemPrompt})
	}
	for _, m := range c.Messages {
		if m.Greeting || m.IsStreaming || m.IsEmpty() {
			continue
		}
		out = append(out, m.Wire())
	}
	return out
}

// Exchange is a question together with the reply it received.
type Exchange struct {
	Question string
	Reply    string
}

// Exchanges pairs every user turn with the finished assistant reply that
// directly follows it. Unanswered questions are skipped.
func (c *Conversation) Exchanges() []Exchange {
	var out []Exchange
	for i := 0; i+1 < len(c.Messages); i++ {
		q, a := c.Messages[i], c.Messages[i+1]
		if q.Role != RoleUser || a.Role != RoleAssistant || a.IsStreaming || a.Greeting || a.IsEmpty() {
			continue
		}
		out = append(out, Exchange{Question: q.Content, Reply: a.Content})
	}
	return out
}

// Title is the first user question, shortened, for history records.
func (c *Conversation) Title() string {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return m.Preview(60)
		}
	}
	return ""
}

// prune drops the oldest non-greeting turns beyond MaxMessages.
func (c *Conversation) prune() {
	excess := len(c.Messages) - MaxMessages
	if excess <= 0 {
		return
	}
	kept := c.Messages[:0]
	for _, m := range c.Messages {
		if excess > 0 && !m.Greeting {
			excess--
			continue
		}
		kept = append(kept, m)
	}
	c.Messages = kept
}
