package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AccountUpdate carries the fields the discovery collaborator reports for a
// source account. Aggregate counters are never written through this path;
// they move only with the item mutations that trigger them.
type AccountUpdate struct {
	MPID            string
	MPName          string
	MPNickname      string
	AvatarURL       string
	Description     string
	IsActive        bool
	Priority        int
	CustomSelectors string
}

// UpsertAccount creates or refreshes a source account's display and config
// fields, leaving aggregates untouched on update.
func (s *Store) UpsertAccount(ctx context.Context, update AccountUpdate) error {
	if update.MPID == "" {
		return errors.New("account mp_id is required")
	}
	if update.MPName == "" {
		return errors.New("account mp_name is required")
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`INSERT INTO mp_accounts (
            mp_id, mp_name, mp_nickname, avatar_url, description,
            is_active, priority, custom_selectors, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(mp_id) DO UPDATE SET
            mp_name = excluded.mp_name,
            mp_nickname = excluded.mp_nickname,
            avatar_url = excluded.avatar_url,
            description = excluded.description,
            is_active = excluded.is_active,
            priority = excluded.priority,
            custom_selectors = excluded.custom_selectors,
            updated_at = excluded.updated_at`,
		update.MPID,
		update.MPName,
		nullableString(update.MPNickname),
		nullableString(update.AvatarURL),
		nullableString(update.Description),
		boolToInt(update.IsActive),
		update.Priority,
		nullableString(update.CustomSelectors),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// RefreshAccountMetadata upserts the display fields the upstream feed
// reports. Operator-managed fields (is_active, priority, custom_selectors)
// survive the refresh; new accounts start active at priority zero.
func (s *Store) RefreshAccountMetadata(ctx context.Context, update AccountUpdate) error {
	if update.MPID == "" {
		return errors.New("account mp_id is required")
	}
	if update.MPName == "" {
		return errors.New("account mp_name is required")
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`INSERT INTO mp_accounts (
            mp_id, mp_name, mp_nickname, avatar_url, description,
            is_active, priority, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, 1, 0, ?, ?)
        ON CONFLICT(mp_id) DO UPDATE SET
            mp_name = excluded.mp_name,
            mp_nickname = excluded.mp_nickname,
            avatar_url = excluded.avatar_url,
            description = excluded.description,
            updated_at = excluded.updated_at`,
		update.MPID,
		update.MPName,
		nullableString(update.MPNickname),
		nullableString(update.AvatarURL),
		nullableString(update.Description),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("refresh account metadata: %w", err)
	}
	return nil
}

// GetAccount fetches a source account by identifier.
func (s *Store) GetAccount(ctx context.Context, mpID string) (*Account, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+accountColumns+` FROM mp_accounts WHERE mp_id = ?`, mpID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// ListAccounts returns all source accounts ordered by priority then name.
func (s *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM mp_accounts`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY priority DESC, mp_name`

	rows, err := s.db.QueryContext(ensureContext(ctx), query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// SetAccountActive flips the discovery gate for one account.
func (s *Store) SetAccountActive(ctx context.Context, mpID string, active bool) (bool, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE mp_accounts SET is_active = ?, updated_at = ? WHERE mp_id = ?`,
		boolToInt(active),
		formatTime(time.Now()),
		mpID,
	)
	if err != nil {
		return false, fmt.Errorf("set account active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordDiscoveryError stamps the most recent discovery failure on an
// account so unhealthy sources stay visible on the operator surface.
func (s *Store) RecordDiscoveryError(ctx context.Context, mpID, message string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE mp_accounts SET last_error = ?, last_error_at = ?, updated_at = ? WHERE mp_id = ?`,
		message,
		now,
		now,
		mpID,
	)
	if err != nil {
		return false, fmt.Errorf("record discovery error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearDiscoveryError resets the failure marker after a successful scan.
func (s *Store) ClearDiscoveryError(ctx context.Context, mpID string) (bool, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE mp_accounts SET last_error = NULL, last_error_at = NULL, updated_at = ?
         WHERE mp_id = ? AND last_error IS NOT NULL`,
		formatTime(time.Now()),
		mpID,
	)
	if err != nil {
		return false, fmt.Errorf("clear discovery error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const accountColumns = "mp_id, mp_name, mp_nickname, avatar_url, description, total_articles, processed_articles, last_article_time, is_active, priority, custom_selectors, last_error, last_error_at, created_at, updated_at"

func scanAccount(scanner interface{ Scan(dest ...any) error }) (*Account, error) {
	var (
		mpID         string
		mpName       string
		mpNickname   sql.NullString
		avatarURL    sql.NullString
		description  sql.NullString
		total        sql.NullInt64
		processed    sql.NullInt64
		lastArticle  sql.NullInt64
		isActive     sql.NullInt64
		priority     sql.NullInt64
		selectors    sql.NullString
		lastError    sql.NullString
		lastErrorRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&mpID,
		&mpName,
		&mpNickname,
		&avatarURL,
		&description,
		&total,
		&processed,
		&lastArticle,
		&isActive,
		&priority,
		&selectors,
		&lastError,
		&lastErrorRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	account := &Account{
		MPID:              mpID,
		MPName:            mpName,
		MPNickname:        mpNickname.String,
		AvatarURL:         avatarURL.String,
		Description:       description.String,
		TotalArticles:     total.Int64,
		ProcessedArticles: processed.Int64,
		LastArticleTime:   lastArticle.Int64,
		IsActive:          isActive.Int64 != 0,
		Priority:          int(priority.Int64),
		CustomSelectors:   selectors.String,
		LastError:         lastError.String,
	}
	if lastErrorRaw.Valid {
		if at, err := parseTimeString(lastErrorRaw.String); err == nil {
			account.LastErrorAt = &at
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		account.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		account.UpdatedAt = updated
	}
	return account, nil
}
