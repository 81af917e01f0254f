package chat

import (
	"errors"
	"time"

	"go-realtime/internal/realtime"
)

var (
	ErrChannelNotFound  = errors.New("channel not found")
	ErrMemberNotFound   = errors.New("project member not found")
	ErrDuplicateMessage = errors.New("message already exists")
)

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Channel struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	ProjectID  string    `json:"project_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"` // Denormalized for UI speed (fetched via JOIN)
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Envelope is what the engine fans out for a persisted message.
func (m Message) Envelope() realtime.Envelope {
	return realtime.Envelope{
		MessageID:  m.ID,
		ChannelID:  realtime.ChannelID(m.ChannelID),
		ProjectID:  realtime.ProjectID(m.ProjectID),
		SenderID:   realtime.UserID(m.SenderID),
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

func (c Channel) toRealtime() realtime.Channel {
	return realtime.Channel{
		ID:        realtime.ChannelID(c.ID),
		ProjectID: realtime.ProjectID(c.ProjectID),
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
	}
}

// PostMessageRequest may carry a client-generated id so the sender can match
// its optimistic echo by id instead of by content.
type PostMessageRequest struct {
	MessageID string `json:"messageId" validate:"omitempty,uuid"`
	Content   string `json:"content" validate:"required,max=4000"`
}

type PostMessageResponse struct {
	Message           realtime.Envelope `json:"message"`
	ChannelRecipients int               `json:"channelRecipients"`
	ProjectRecipients int               `json:"projectRecipients"`
}

type CreateChannelRequest struct {
	Name string `json:"name" validate:"required,min=1,max=80"`
}
