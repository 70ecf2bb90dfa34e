package model

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation, stored as a JSON element of the
// conversation's Redis list. Append-only.
type Turn struct {
	ID                 string    `json:"id"`
	Role               string    `json:"role"`
	Content            string    `json:"content"`
	Timestamp          time.Time `json:"timestamp"`
	Confidence         float64   `json:"confidence,omitempty"`
	Sources            []string  `json:"sources,omitempty"`
	Escalated          bool      `json:"escalated,omitempty"`
	EscalationResolved bool      `json:"escalationResolved,omitempty"`
}

// Session identifies one member's active chat. The member id is immutable for
// the session's lifetime; every history read under the conversation id must
// match it.
type Session struct {
	ID             string    `json:"id"`
	TenantSchema   string    `json:"tenantSchema"`
	MemberID       uint      `json:"memberId"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
}
