package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

type autoReplyRuleRow struct {
	ID              string         `db:"id"`
	ClientAccountID string         `db:"client_account_id"`
	TriggerType     string         `db:"trigger_type"`
	Pattern         string         `db:"pattern"`
	Response        string         `db:"response"`
	Enabled         bool           `db:"enabled"`
	Priority        int            `db:"priority"`
	EventTypes      pq.StringArray `db:"event_types"`
}

func (r autoReplyRuleRow) toDomain() domain.AutoReplyRule {
	rule := domain.AutoReplyRule{
		ID:        r.ID,
		AccountID: r.ClientAccountID,
		Trigger:   domain.AutoReplyTrigger(r.TriggerType),
		Pattern:   r.Pattern,
		Response:  r.Response,
		Enabled:   r.Enabled,
		Priority:  r.Priority,
	}
	for _, t := range r.EventTypes {
		rule.EventTypes = append(rule.EventTypes, domain.EventType(t))
	}
	return rule
}

// AutoReplyRuleRepository reads auto-reply rules. Rules are managed elsewhere.
type AutoReplyRuleRepository struct {
	db *sqlx.DB
}

func NewAutoReplyRuleRepository(db *sqlx.DB) *AutoReplyRuleRepository {
	return &AutoReplyRuleRepository{db: db}
}

// ListEnabledRules returns the account's enabled rules for eventType, lowest priority value first.
// A rule with no event types applies to every type.
func (r *AutoReplyRuleRepository) ListEnabledRules(ctx context.Context, accountID string, eventType domain.EventType) ([]domain.AutoReplyRule, error) {
	var rows []autoReplyRuleRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, client_account_id, trigger_type, pattern, response, enabled, priority, event_types
		FROM auto_reply_rules
		WHERE client_account_id = $1 AND enabled
		  AND (cardinality(event_types) = 0 OR $2::text = ANY(event_types))
		ORDER BY priority ASC, created_at ASC`, accountID, string(eventType))
	if err != nil {
		return nil, mapError(err)
	}
	rules := make([]domain.AutoReplyRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, row.toDomain())
	}
	return rules, nil
}
