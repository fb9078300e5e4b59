package domain

import (
	"context"
	"time"
)

// User is an account in the messaging backend.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	Phone          string    `json:"phone,omitempty"`
	FullName       string    `json:"full_name,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	IsActive       bool      `json:"is_active"`
	IsAdmin        bool      `json:"is_admin"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DirectMessage is a stored user-to-user (or assistant-to-user) message.
type DirectMessage struct {
	ID             int64     `json:"id"`
	SenderID       int64     `json:"sender_id"`
	RecipientID    int64     `json:"recipient_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ParentID       *int64    `json:"parent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByPhone(ctx context.Context, phone string) (*User, error)
}

// MessageStore persists direct messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *DirectMessage) error
	MessageByID(ctx context.Context, id int64) (*DirectMessage, error)
	// MessagesFor lists messages sent or received by userID,
	// chronological order, bounded by limit/offset.
	MessagesFor(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]DirectMessage, error)
	MarkRead(ctx context.Context, id, recipientID int64) error
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
}
