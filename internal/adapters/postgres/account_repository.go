package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/crypto"
)

type accountRow struct {
	ID                   string `db:"id"`
	InstagramAccountID   string `db:"instagram_account_id"`
	AccessTokenEncrypted string `db:"access_token_encrypted"`
	AutoReplyEnabled     bool   `db:"auto_reply_enabled"`
	AutoSyncEnabled      bool   `db:"auto_sync_enabled"`
	Status               string `db:"status"`
}

// AccountRepository reads client accounts and decrypts their stored access tokens.
type AccountRepository struct {
	db             *sqlx.DB
	configProvider config.Provider
}

func NewAccountRepository(db *sqlx.DB, configProvider config.Provider) *AccountRepository {
	return &AccountRepository{db: db, configProvider: configProvider}
}

func (r *AccountRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, instagram_account_id, access_token_encrypted, auto_reply_enabled, auto_sync_enabled, status
		FROM client_accounts WHERE id = $1`, accountID)
	if err != nil {
		err = mapError(err)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountID)
		}
		return nil, err
	}

	account := &domain.Account{
		ID:                 row.ID,
		InstagramAccountID: row.InstagramAccountID,
		AutoReplyEnabled:   row.AutoReplyEnabled,
		AutoSyncEnabled:    row.AutoSyncEnabled,
		Status:             row.Status,
	}
	if row.AccessTokenEncrypted != "" {
		token, err := crypto.DecryptAESGCM(r.configProvider.Get().Auth.TokenAESKey, row.AccessTokenEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt access token of account %s: %w", accountID, err)
		}
		account.AccessToken = string(token)
	}
	return account, nil
}

// ListAutoSyncAccountIDs returns active accounts with auto sync enabled, ordered by ID.
func (r *AccountRepository) ListAutoSyncAccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM client_accounts
		WHERE auto_sync_enabled AND status = 'active'
		ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}
