package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

type conversationRow struct {
	ID                     string       `db:"id"`
	ClientAccountID        string       `db:"client_account_id"`
	PlatformConversationID string       `db:"platform_conversation_id"`
	ParticipantPlatformID  string       `db:"participant_platform_id"`
	ParticipantUsername    string       `db:"participant_username"`
	ParticipantProfilePic  string       `db:"participant_profile_pic"`
	LastMessageAt          sql.NullTime `db:"last_message_at"`
	UnreadCount            int          `db:"unread_count"`
	Status                 string       `db:"status"`
	Metadata               jsonMap      `db:"metadata"`
	CreatedAt              time.Time    `db:"created_at"`
	UpdatedAt              time.Time    `db:"updated_at"`
}

func (r conversationRow) toDomain() *domain.Conversation {
	c := &domain.Conversation{
		ID:                     r.ID,
		ClientAccountID:        r.ClientAccountID,
		PlatformConversationID: r.PlatformConversationID,
		ParticipantPlatformID:  r.ParticipantPlatformID,
		ParticipantUsername:    r.ParticipantUsername,
		ParticipantProfilePic:  r.ParticipantProfilePic,
		UnreadCount:            r.UnreadCount,
		Status:                 domain.ConversationStatus(r.Status),
		Metadata:               map[string]any(r.Metadata),
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
	if r.LastMessageAt.Valid {
		t := r.LastMessageAt.Time
		c.LastMessageAt = &t
	}
	return c
}

const conversationColumns = `id, client_account_id, platform_conversation_id, participant_platform_id,
	participant_username, participant_profile_pic, last_message_at, unread_count, status, metadata,
	created_at, updated_at`

// ConversationRepository implements domain.ConversationRepository on Postgres.
type ConversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err)
	}
	return row.toDomain(), nil
}

func (r *ConversationRepository) FindByPlatformID(ctx context.Context, clientAccountID, platformConversationID string) (*domain.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+conversationColumns+` FROM conversations WHERE client_account_id = $1 AND platform_conversation_id = $2`,
		clientAccountID, platformConversationID)
	if err != nil {
		return nil, mapError(err)
	}
	return row.toDomain(), nil
}

func (r *ConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	var lastMessageAt sql.NullTime
	if c.LastMessageAt != nil {
		lastMessageAt = sql.NullTime{Time: *c.LastMessageAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.ClientAccountID, c.PlatformConversationID, c.ParticipantPlatformID,
		c.ParticipantUsername, c.ParticipantProfilePic, lastMessageAt, c.UnreadCount, string(c.Status),
		jsonMap(c.Metadata), c.CreatedAt, c.UpdatedAt)
	return mapError(err)
}

// recordActivity is a single UPDATE so concurrent deliveries never lose an increment.
func recordActivity(ctx context.Context, exec sqlx.ExecerContext, id string, unreadDelta int, at time.Time) error {
	res, err := exec.ExecContext(ctx, `
		UPDATE conversations
		SET unread_count = unread_count + $2,
		    last_message_at = GREATEST(COALESCE(last_message_at, $3::timestamptz), $3::timestamptz),
		    updated_at = NOW()
		WHERE id = $1`, id, unreadDelta, at)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res, "conversation", id)
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res, "conversation", id)
}

func (r *ConversationRepository) UpdateStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return mapError(err)
	}
	return requireRow(res, "conversation", id)
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
	}
	return nil
}
