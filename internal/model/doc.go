// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for assistant conversations.
//
// # Key Types
//
//   - Conversation: ordered chat turns plus the system prompt
//   - Message: one turn with role, content and timestamp
//   - ChatMessage: the {role, content} wire form sent to the backend
//   - Role: user, assistant or system
//
// # Usage
//
//	conv := model.NewConversation(cfg.Chat.SystemPrompt)
//	conv.AddWelcome(tr.T(model.WelcomeKey))
//	conv.AddUser("Best crops for my region")
//	body := conv.History()      // request payload
//	conv.StartAssistant()
//	conv.SetLastContent(update.Content)
//	conv.FinishLast()
//
// When a request fails before streaming starts, RollbackLastUser removes the
// optimistic user turn so the user can retry it.
package model
