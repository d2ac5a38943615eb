// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_StreamingTurn(t *testing.T) {
	conv := NewConversation("be brief")
	conv.AddWelcome("Hello! I'm DeepChat")
	conv.AddUser("Pest control tips")

	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, ChatMessage{Role: "system", Content: "be brief"}, history[0])
	assert.Equal(t, ChatMessage{Role: "user", Content: "Pest control tips"}, history[1])

	conv.StartAssistant()
	conv.AppendToLast("Use ")
	conv.AppendToLast("neem")
	assert.Len(t, conv.History(), 2, "streaming reply must not be sent")

	conv.SetLastContent("Use neem oil")
	conv.FinishLast()

	history = conv.History()
	require.Len(t, history, 3)
	assert.Equal(t, "assistant", history[2].Role)
	assert.Equal(t, "Use neem oil", history[2].Content)
	assert.False(t, conv.Last().IsStreaming)
}

func TestConversation_FinishEmptyReplyRemovesIt(t *testing.T) {
	conv := NewConversation("")
	conv.AddUser("hi")
	conv.StartAssistant()
	conv.FinishLast()

	assert.Equal(t, 1, conv.Len())
	assert.Equal(t, RoleUser, conv.Last().Role)
}

func TestConversation_AppendIgnoredWhenNotStreaming(t *testing.T) {
	conv := NewConversation("")
	conv.AddUser("question")
	conv.AppendToLast("ignored")
	conv.SetLastContent("ignored")

	assert.Equal(t, "question", conv.Last().Content)
}

func TestConversation_RollbackLastUser(t *testing.T) {
	conv := NewConversation("")
	conv.AddUser("first")
	conv.StartAssistant()
	conv.SetLastContent("answer")
	conv.FinishLast()
	conv.AddUser("second")
	conv.StartAssistant()

	content, ok := conv.RollbackLastUser()
	require.True(t, ok)
	assert.Equal(t, "second", content)
	assert.Equal(t, 2, conv.Len())
	assert.Equal(t, "answer", conv.Last().Content)

	conv.Clear()
	_, ok = conv.RollbackLastUser()
	assert.False(t, ok)
}

func TestConversation_TitleAndPreview(t *testing.T) {
	conv := NewConversation("")
	assert.Empty(t, conv.Title())

	conv.AddUser("Which fertilizer\nfor paddy " + strings.Repeat("in kharif season ", 10))
	title := conv.Title()
	assert.True(t, strings.HasPrefix(title, "Which fertilizer for paddy"))
	assert.LessOrEqual(t, len([]rune(title)), 60)
	assert.NotContains(t, title, "\n")
}

func TestConversation_PruneKeepsGreeting(t *testing.T) {
	conv := NewConversation("")
	conv.AddWelcome("hello")
	for i := 0; i < MaxMessages+10; i++ {
		conv.AddUser("q")
	}

	assert.Equal(t, MaxMessages, conv.Len())
	assert.True(t, conv.Messages[0].Greeting)
}

func TestMessage_IDsAreUnique(t *testing.T) {
	a := NewMessage(RoleUser, "a")
	b := NewMessage(RoleUser, "b")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 36)
}

func TestRole_DisplayName(t *testing.T) {
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "DeepChat", RoleAssistant.DisplayName())
	assert.Equal(t, "custom", Role("custom").DisplayName())
}

func TestConversation_Exchanges(t *testing.T) {
	conv := NewConversation("")
	conv.AddWelcome("Hello")
	conv.AddUser("Best crops for my region")
	conv.StartAssistant()
	conv.SetLastContent("Try millets.")
	conv.FinishLast()
	conv.AddUser("unanswered")
	conv.AddUser("Irrigation schedule")
	conv.StartAssistant()
	conv.SetLastContent("still arriving")

	assert.Equal(t, []Exchange{{Question: "Best crops for my region", Reply: "Try millets."}}, conv.Exchanges())
}
