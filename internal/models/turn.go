package models

import "time"

// Roles a Turn may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a per-user, per-agent conversation. Turns for a
// (UserID, AgentID) pair are totally ordered by (CreatedAt, ID).
type Turn struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"size:64;not null;index:idx_user_agent_created,priority:1"`
	AgentID   string    `gorm:"size:32;not null;index:idx_user_agent_created,priority:2"`
	Role      string    `gorm:"size:16;not null"` // "user" or "assistant"
	Content   string    `gorm:"type:text;not null"`
	Intent    string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"index:idx_user_agent_created,priority:3"`
}

// TableName keeps the table name used by the original chat log schema.
func (Turn) TableName() string { return "chat_logs" }
