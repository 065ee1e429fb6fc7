package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one transcript entry of a run. Rows are append-only.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"size:64;not null;index" json:"run_id"`
	Role      string    `gorm:"size:16;not null;index" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Visible reports whether the message belongs in the rendered transcript.
func (m Message) Visible() bool {
	return m.Role != RoleSystem
}
