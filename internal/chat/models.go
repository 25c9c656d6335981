package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Session struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message is immutable once stored.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_session_created,priority:1" json:"session_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_chat_msg_session_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Session{}, &Message{}, &Job{}}
}
