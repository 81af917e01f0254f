//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mock_store_test.go -package=chat -self_package=go-realtime/internal/chat
package chat

import "context"

// Store is the persistence collaborator. The engine never writes to it; the
// producers here persist first and deliver second.
type Store interface {
	GetChannel(ctx context.Context, channelID string) (*Channel, error)
	CreateChannel(ctx context.Context, projectID, name string) (*Channel, error)
	SaveMessage(ctx context.Context, msg *Message) error
	GetRecentMessages(ctx context.Context, channelID string, limit int) ([]*Message, error)
	RemoveProjectMember(ctx context.Context, projectID, userID string) error
}
