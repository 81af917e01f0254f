package realtime

import "time"

type (
	ConnID    string
	UserID    string
	ProjectID string
	ChannelID string
)

// Identity is what the identity collaborator returns for a valid bearer credential.
type Identity struct {
	UserID      UserID
	DisplayName string
}

// Sink is the outbound side of one live transport.
// Send must never block: it enqueues onto the connection's buffer and reports
// false when the transport is closed or the buffer is full.
type Sink interface {
	Send(evt Event) bool
}

// Connection is one authenticated, live transport.
type Connection struct {
	ID              ConnID
	UserID          UserID
	DisplayName     string
	AuthenticatedAt time.Time
	sink            Sink
}

func NewConnection(id ConnID, identity Identity, sink Sink, at time.Time) *Connection {
	return &Connection{
		ID:              id,
		UserID:          identity.UserID,
		DisplayName:     identity.DisplayName,
		AuthenticatedAt: at,
		sink:            sink,
	}
}

// Envelope is a persisted chat message handed to the engine for fan-out.
// The engine never mutates or stores it.
type Envelope struct {
	MessageID  string    `json:"messageId"`
	ChannelID  ChannelID `json:"channelId" validate:"required"`
	ProjectID  ProjectID `json:"projectId" validate:"required"`
	SenderID   UserID    `json:"senderId" validate:"required"`
	SenderName string    `json:"senderName,omitempty"`
	Content    string    `json:"content" validate:"required"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Channel is the subset of a channel document carried by channel_created.
type Channel struct {
	ID        ChannelID `json:"id"`
	ProjectID ProjectID `json:"projectId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type OnlineUser struct {
	UserID         UserID    `json:"userId"`
	DisplayName    string    `json:"displayName"`
	ConnectedSince time.Time `json:"connectedSince"`
}

// PresenceSnapshot is always a full replacement, never a patch.
type PresenceSnapshot struct {
	ProjectID ProjectID    `json:"projectId"`
	Users     []OnlineUser `json:"users"`
}

// DeliveryResult lists the connections a delivery reached and the ones it skipped
// because their transport was already gone.
type DeliveryResult struct {
	Delivered []ConnID
	Skipped   []ConnID
}

// DeliveryReport is the outcome of handing one envelope to the engine.
type DeliveryReport struct {
	Channel DeliveryResult
	Project DeliveryResult
}
