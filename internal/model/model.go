// Package model defines the core conversation and memory data types.
package model

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Memory lifecycle states.
const (
	StateActive       = "active"
	StateConsolidated = "consolidated"
	StateArchived     = "archived"
)

// Memory sources.
const (
	SourceManual        = "manual"
	SourceConversation  = "conversation"
	SourceCompaction    = "compaction"
	SourceConsolidation = "consolidation"
)

// Message is one conversational turn. Immutable once created except for
// the InContext flag, which eviction flips. Messages are never deleted.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Owner          string    `json:"owner"`
	Ordinal        int       `json:"ordinal"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Tokens         int       `json:"tokens"`
	InContext      bool      `json:"in_context"`
	CreatedAt      time.Time `json:"created_at"`
}

// Memory is a durable, named unit of recalled knowledge. An active
// memory always carries the embedding computed at creation time.
type Memory struct {
	ID               string    `json:"id"`
	Owner            string    `json:"owner"`
	Name             string    `json:"name"`
	Text             string    `json:"text"`
	Embedding        []float32 `json:"-"`
	Source           string    `json:"source"`
	State            string    `json:"state"`
	ConsolidatedInto string    `json:"consolidated_into,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ValidRoles are the allowed message roles.
var ValidRoles = map[string]bool{
	RoleSystem:    true,
	RoleUser:      true,
	RoleAssistant: true,
	RoleTool:      true,
}

// CountTokens estimates the token cost of a string. Rough proxy:
// 1 token ~= 4 chars. Tool-call payloads are not accounted for.
func CountTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
