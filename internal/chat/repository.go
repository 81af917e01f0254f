package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	c := &Channel{}
	query := "SELECT id::text, project_id::text, name, created_at FROM channels WHERE id = $1"

	err := r.db.QueryRowContext(ctx, query, channelID).Scan(&c.ID, &c.ProjectID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *Repository) CreateChannel(ctx context.Context, projectID, name string) (*Channel, error) {
	c := &Channel{ProjectID: projectID, Name: name}
	query := "INSERT INTO channels (project_id, name) VALUES ($1, $2) RETURNING id::text, created_at"

	if err := r.db.QueryRowContext(ctx, query, projectID, name).Scan(&c.ID, &c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repository) SaveMessage(ctx context.Context, msg *Message) error {
	query := "INSERT INTO messages (id, channel_id, sender_id, content, created_at) VALUES ($1, $2, $3, $4, $5)"
	_, err := r.db.ExecContext(ctx, query, msg.ID, msg.ChannelID, msg.SenderID, msg.Content, msg.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateMessage
	}
	return err
}

// GetRecentMessages returns the newest messages first.
func (r *Repository) GetRecentMessages(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	query := `
		SELECT m.id::text, m.channel_id::text, c.project_id::text, m.sender_id::text, u.username, m.content, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		JOIN channels c ON m.channel_id = c.id
		WHERE m.channel_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.ProjectID, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *Repository) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM project_members WHERE project_id = $1 AND user_id = $2", projectID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMemberNotFound
	}
	return nil
}
