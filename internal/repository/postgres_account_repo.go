package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `id, email, name, google_email,
	        access_token, refresh_token, token_expiry, sync_enabled,
	        channel_id, channel_resource_id, channel_expiry,
	        created_at, updated_at`

// scanAccount は1行分のアカウントを読み取る。
func scanAccount(scan func(dest ...any) error) (*model.Account, error) {
	account := &model.Account{}
	var googleEmail, accessToken, refreshToken, channelID, channelResourceID sql.NullString
	var tokenExpiry, channelExpiry sql.NullTime

	err := scan(
		&account.ID, &account.Email, &account.Name, &googleEmail,
		&accessToken, &refreshToken, &tokenExpiry, &account.SyncEnabled,
		&channelID, &channelResourceID, &channelExpiry,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.GoogleEmail = nullStringValue(googleEmail)
	account.AccessToken = nullStringValue(accessToken)
	account.RefreshToken = nullStringValue(refreshToken)
	account.ChannelID = nullStringValue(channelID)
	account.ChannelResourceID = nullStringValue(channelResourceID)
	account.TokenExpiry = nullTimeValue(tokenExpiry)
	account.ChannelExpiry = nullTimeValue(channelExpiry)

	return account, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)

	account, err := scanAccount(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	return account, nil
}

// FindByChannelID はプッシュ通知チャネルIDでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByChannelID(ctx context.Context, channelID string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE channel_id = $1`, channelID)

	account, err := scanAccount(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チャネルIDによるアカウントの検索に失敗しました: %w", err)
	}
	return account, nil
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, name, google_email,
		                       access_token, refresh_token, token_expiry, sync_enabled,
		                       channel_id, channel_resource_id, channel_expiry,
		                       created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		account.ID, account.Email, account.Name, nullString(account.GoogleEmail),
		nullString(account.AccessToken), nullString(account.RefreshToken),
		nullTime(account.TokenExpiry), account.SyncEnabled,
		nullString(account.ChannelID), nullString(account.ChannelResourceID),
		nullTime(account.ChannelExpiry),
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}
	return nil
}

// ListSyncEnabled は同期が有効な全アカウントを取得する。
func (r *PostgresAccountRepo) ListSyncEnabled(ctx context.Context) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE sync_enabled = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("同期有効アカウントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		account, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("同期有効アカウントの読み取りに失敗しました: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期有効アカウントの走査に失敗しました: %w", err)
	}
	return accounts, nil
}

// ListChannelsExpiringBefore はチャネル有効期限がdeadline以前の同期有効アカウントを取得する。
func (r *PostgresAccountRepo) ListChannelsExpiringBefore(ctx context.Context, deadline time.Time) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE sync_enabled = true
		   AND channel_id IS NOT NULL
		   AND channel_expiry <= $1
		 ORDER BY channel_expiry ASC`, deadline)
	if err != nil {
		return nil, fmt.Errorf("期限切れ間近チャネルの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		account, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("期限切れ間近チャネルの読み取りに失敗しました: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("期限切れ間近チャネルの走査に失敗しました: %w", err)
	}
	return accounts, nil
}

// SaveCredential はOAuthコールバックで取得したクレデンシャル一式を保存し、同期を有効化する。
func (r *PostgresAccountRepo) SaveCredential(ctx context.Context, accountID, accessToken, refreshToken string, expiry time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    access_token = $2, refresh_token = $3, token_expiry = $4,
		    sync_enabled = true, updated_at = now()
		 WHERE id = $1`,
		accountID, accessToken, refreshToken, expiry,
	)
	if err != nil {
		return fmt.Errorf("クレデンシャルの保存に失敗しました: %w", err)
	}
	return nil
}

// UpdateTokens はリフレッシュ成功後のアクセストークンと有効期限を保存する。
// refreshTokenが空でない場合はローテーションされたリフレッシュトークンも保存する。
func (r *PostgresAccountRepo) UpdateTokens(ctx context.Context, accountID, accessToken string, expiry time.Time, refreshToken string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    access_token = $2,
		    token_expiry = $3,
		    refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
		    updated_at = now()
		 WHERE id = $1`,
		accountID, accessToken, expiry, refreshToken,
	)
	if err != nil {
		return fmt.Errorf("トークンの更新に失敗しました: %w", err)
	}
	return nil
}

// ClearCredential はクレデンシャルを消去し同期を無効化する。
// 不変条件（部分的な消去の禁止）を満たすため単一のUPDATEで行う。
func (r *PostgresAccountRepo) ClearCredential(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    access_token = NULL, refresh_token = NULL, token_expiry = NULL,
		    sync_enabled = false, updated_at = now()
		 WHERE id = $1`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("クレデンシャルの消去に失敗しました: %w", err)
	}
	return nil
}

// UpdateGoogleEmail は連携先Googleアカウントのメールアドレスを保存する。
func (r *PostgresAccountRepo) UpdateGoogleEmail(ctx context.Context, accountID, email string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET google_email = $2, updated_at = now() WHERE id = $1`,
		accountID, nullString(email),
	)
	if err != nil {
		return fmt.Errorf("Googleメールアドレスの更新に失敗しました: %w", err)
	}
	return nil
}

// SaveChannel はプッシュ通知チャネルのハンドルを保存する。
func (r *PostgresAccountRepo) SaveChannel(ctx context.Context, accountID, channelID, resourceID string, expiry *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    channel_id = $2, channel_resource_id = $3, channel_expiry = $4,
		    updated_at = now()
		 WHERE id = $1`,
		accountID, channelID, resourceID, nullTime(expiry),
	)
	if err != nil {
		return fmt.Errorf("チャネルハンドルの保存に失敗しました: %w", err)
	}
	return nil
}

// ClearChannel はプッシュ通知チャネルのハンドルを消去する。
func (r *PostgresAccountRepo) ClearChannel(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    channel_id = NULL, channel_resource_id = NULL, channel_expiry = NULL,
		    updated_at = now()
		 WHERE id = $1`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("チャネルハンドルの消去に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
