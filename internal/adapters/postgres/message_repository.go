package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

type messageRow struct {
	ID                string       `db:"id"`
	ConversationID    string       `db:"conversation_id"`
	PlatformMessageID string       `db:"platform_message_id"`
	SenderType        string       `db:"sender_type"`
	SenderPlatformID  string       `db:"sender_platform_id"`
	MessageType       string       `db:"message_type"`
	Content           string       `db:"content"`
	MediaURL          string       `db:"media_url"`
	MediaType         string       `db:"media_type"`
	IsRead            bool         `db:"is_read"`
	SentAt            time.Time    `db:"sent_at"`
	DeliveredAt       sql.NullTime `db:"delivered_at"`
	ReadAt            sql.NullTime `db:"read_at"`
	Metadata          jsonMap      `db:"metadata"`
	CreatedAt         time.Time    `db:"created_at"`
}

func (r messageRow) toDomain() *domain.Message {
	m := &domain.Message{
		ID:                r.ID,
		ConversationID:    r.ConversationID,
		PlatformMessageID: r.PlatformMessageID,
		SenderType:        domain.SenderType(r.SenderType),
		SenderPlatformID:  r.SenderPlatformID,
		MessageType:       domain.MessageType(r.MessageType),
		Content:           r.Content,
		MediaURL:          r.MediaURL,
		MediaType:         r.MediaType,
		IsRead:            r.IsRead,
		SentAt:            r.SentAt,
		Metadata:          map[string]any(r.Metadata),
		CreatedAt:         r.CreatedAt,
	}
	m.DeliveredAt = nullTimePtr(r.DeliveredAt)
	m.ReadAt = nullTimePtr(r.ReadAt)
	return m
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

const messageColumns = `id, conversation_id, platform_message_id, sender_type, sender_platform_id,
	message_type, content, media_url, media_type, is_read, sent_at, delivered_at, read_at, metadata, created_at`

// MessageRepository implements domain.MessageRepository on Postgres.
type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) FindByPlatformMessageID(ctx context.Context, platformMessageID string) (*domain.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+messageColumns+` FROM messages WHERE platform_message_id = $1`, platformMessageID)
	if err != nil {
		return nil, mapError(err)
	}
	return row.toDomain(), nil
}

// Append inserts m and bumps its conversation in one transaction.
func (r *MessageRepository) Append(ctx context.Context, m *domain.Message, unreadDelta int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append message: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.ConversationID, m.PlatformMessageID, string(m.SenderType), m.SenderPlatformID,
		string(m.MessageType), m.Content, m.MediaURL, m.MediaType, m.IsRead, m.SentAt,
		nullTime(m.DeliveredAt), nullTime(m.ReadAt), jsonMap(m.Metadata), m.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return mapError(err)
	}
	if err := recordActivity(ctx, tx, m.ConversationID, unreadDelta, m.SentAt); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $2
		WHERE conversation_id = $1 AND NOT is_read`, conversationID, at)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}
