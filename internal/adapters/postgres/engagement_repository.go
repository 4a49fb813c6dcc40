package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// EngagementRepository stores comments, mentions and story insights. Comments and mentions
// are keyed by their platform ID so replays insert nothing.
type EngagementRepository struct {
	db *sqlx.DB
}

func NewEngagementRepository(db *sqlx.DB) *EngagementRepository {
	return &EngagementRepository{db: db}
}

func (r *EngagementRepository) SaveComment(ctx context.Context, accountID string, c *domain.Comment) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO instagram_comments
			(id, client_account_id, text, from_id, from_username, media_id, media_type, parent_id, like_count, is_hidden, commented_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, accountID, c.Text, c.From.ID, c.From.Username, c.Media.ID, c.Media.Type, c.ParentID,
		c.LikeCount, c.IsHidden, c.Timestamp)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *EngagementRepository) SaveMention(ctx context.Context, accountID string, m *domain.Mention) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO instagram_mentions
			(id, client_account_id, media_id, comment_id, mentioned_in, from_id, from_username, mentioned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, accountID, m.MediaID, m.CommentID, m.MentionedIn, m.From.ID, m.From.Username, m.Timestamp)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SaveStoryInsight keeps the latest value per (account, media, metric).
func (r *EngagementRepository) SaveStoryInsight(ctx context.Context, accountID string, s *domain.StoryInsight) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO instagram_story_insights (client_account_id, media_id, metric, value, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_account_id, media_id, metric)
		DO UPDATE SET value = EXCLUDED.value, recorded_at = EXCLUDED.recorded_at, updated_at = NOW()
		WHERE instagram_story_insights.recorded_at <= EXCLUDED.recorded_at`,
		accountID, s.MediaID, s.Metric, s.Value, s.Timestamp)
	return mapError(err)
}
