package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// NewItem carries the fields the discovery collaborator reports for a new
// article.
type NewItem struct {
	ID          string
	URL         string
	Title       string
	MPID        string
	MPName      string
	PublishTime int64
}

// UpsertDiscovered records a discovered article. The operation is idempotent
// on the item ID: re-discovering an existing article touches nothing and
// returns created=false. On first insert the discovery stage is completed
// immediately and the owning account's total_articles is incremented inside
// the same transaction.
func (s *Store) UpsertDiscovered(ctx context.Context, item NewItem) (created bool, err error) {
	if item.ID == "" {
		return false, errors.New("item id is required")
	}
	if item.URL == "" {
		return false, errors.New("item url is required")
	}
	ctx = ensureContext(ctx)
	now := formatTime(time.Now())

	err = retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		res, execErr := tx.ExecContext(
			ctx,
			`INSERT INTO content_items (
                id, url, title, mp_id, mp_name, publish_time,
                status, created_at, updated_at, discovered_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO NOTHING`,
			item.ID,
			item.URL,
			nullableString(item.Title),
			nullableString(item.MPID),
			nullableString(item.MPName),
			nullableInt64(item.PublishTime),
			StatusPending,
			now,
			now,
			now,
		)
		if execErr != nil {
			return fmt.Errorf("insert item: %w", execErr)
		}
		affected, affErr := res.RowsAffected()
		if affErr != nil {
			return fmt.Errorf("rows affected: %w", affErr)
		}
		if affected == 0 {
			created = false
			return tx.Commit()
		}
		created = true

		if item.MPID != "" {
			// Aggregate maintenance rides the same transaction so counts
			// cannot drift under concurrent discovery.
			if _, execErr := tx.ExecContext(
				ctx,
				`UPDATE mp_accounts
                 SET total_articles = total_articles + 1,
                     last_article_time = MAX(COALESCE(last_article_time, 0), ?),
                     updated_at = ?
                 WHERE mp_id = ?`,
				item.PublishTime,
				now,
				item.MPID,
			); execErr != nil {
				return fmt.Errorf("bump account totals: %w", execErr)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetByID fetches a content item by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM content_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListFilter narrows ListItems output.
type ListFilter struct {
	Statuses []Status
	MPID     string
	Since    *time.Time
	Limit    uint64
	Offset   uint64
}

// ListItems returns items matching the filter, newest first.
func (s *Store) ListItems(ctx context.Context, filter ListFilter) ([]*Item, error) {
	builder := sq.Select(itemColumns).
		From("content_items").
		OrderBy("created_at DESC, id")

	if len(filter.Statuses) > 0 {
		values := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			values[i] = string(status)
		}
		builder = builder.Where(sq.Eq{"status": values})
	}
	if filter.MPID != "" {
		builder = builder.Where(sq.Eq{"mp_id": filter.MPID})
	}
	if filter.Since != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": formatTime(*filter.Since)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		builder = builder.Offset(filter.Offset)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkProcessing transitions an item into a stage's in-flight status. The
// update is conditional on the item sitting at the stage's start status (or
// failed at this stage, for retries), which serializes concurrent reports for
// the same item and preserves the per-item stage ordering. Returns false when
// the precondition did not hold.
func (s *Store) MarkProcessing(ctx context.Context, id string, stage Stage) (bool, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE content_items
         SET status = ?, failed_stage = NULL, updated_at = ?
         WHERE id = ? AND (status = ? OR (status = ? AND failed_stage = ?))`,
		stage.ProcessingStatus(),
		formatTime(time.Now()),
		id,
		stage.StartStatus(),
		StatusFailed,
		stage,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CompleteDownload records a successful download. No-op (returns false) when
// the item is not currently downloading, which makes duplicate worker reports
// harmless.
func (s *Store) CompleteDownload(ctx context.Context, id, htmlPath, metadataPath, imagesDir string, imageCount int64) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE content_items
         SET status = ?, downloaded_at = ?, html_file_path = ?,
             metadata_file_path = ?, images_dir_path = ?, image_count = ?,
             error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusDownloaded,
		now,
		nullableString(htmlPath),
		nullableString(metadataPath),
		nullableString(imagesDir),
		imageCount,
		now,
		id,
		StatusDownloading,
	)
	if err != nil {
		return false, fmt.Errorf("complete download: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ParseResult carries the metrics the parse collaborator reports.
type ParseResult struct {
	ContentPath   string
	MetadataPath  string
	ContentLength int64
	WordCount     int64
	ImageCount    int64
}

// CompleteParse records a successful text extraction.
func (s *Store) CompleteParse(ctx context.Context, id string, result ParseResult) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE content_items
         SET status = ?, parsed_at = ?, content_file_path = ?,
             metadata_file_path = COALESCE(?, metadata_file_path),
             content_length = ?, word_count = ?, image_count = ?,
             error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusParsed,
		now,
		nullableString(result.ContentPath),
		nullableString(result.MetadataPath),
		result.ContentLength,
		result.WordCount,
		result.ImageCount,
		now,
		id,
		StatusParsing,
	)
	if err != nil {
		return false, fmt.Errorf("complete parse: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CompleteStorage records final artifact persistence and marks the item
// pipeline-terminal. The owning account's processed_articles moves in the
// same transaction.
func (s *Store) CompleteStorage(ctx context.Context, id string) (applied bool, err error) {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now())

	err = retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		res, execErr := tx.ExecContext(
			ctx,
			`UPDATE content_items
             SET status = ?, stored_at = ?, error_message = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusStored,
			now,
			now,
			id,
			StatusStoring,
		)
		if execErr != nil {
			return fmt.Errorf("complete storage: %w", execErr)
		}
		affected, affErr := res.RowsAffected()
		if affErr != nil {
			return fmt.Errorf("rows affected: %w", affErr)
		}
		if affected == 0 {
			applied = false
			return tx.Commit()
		}
		applied = true

		if _, execErr := tx.ExecContext(
			ctx,
			`UPDATE mp_accounts
             SET processed_articles = processed_articles + 1, updated_at = ?
             WHERE mp_id = (SELECT mp_id FROM content_items WHERE id = ?)`,
			now,
			id,
		); execErr != nil {
			return fmt.Errorf("bump processed count: %w", execErr)
		}
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// FailureDetail is one entry in an item's append-only error history.
type FailureDetail struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	At      string `json:"at"`
	Attempt int    `json:"attempt"`
}

// MarkStageFailed records a stage failure: status moves to failed with the
// failing stage noted, the error history grows (never overwritten), the retry
// counter advances, and last_retry_at is stamped. Conditional on the item
// being in the stage's processing status.
func (s *Store) MarkStageFailed(ctx context.Context, id string, stage Stage, message string) (bool, error) {
	now := time.Now()

	item, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	detail := FailureDetail{
		Stage:   string(stage),
		Message: message,
		At:      formatTime(now),
		Attempt: item.RetryCount + 1,
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return false, fmt.Errorf("marshal failure detail: %w", err)
	}

	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE content_items
         SET status = ?, failed_stage = ?, error_message = ?,
             error_details = json_insert(COALESCE(error_details, '[]'), '$[#]', json(?)),
             retry_count = retry_count + 1, last_retry_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed,
		stage,
		message,
		string(detailJSON),
		formatTime(now),
		formatTime(now),
		id,
		stage.ProcessingStatus(),
	)
	if err != nil {
		return false, fmt.Errorf("mark stage failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ErrorHistory decodes the append-only failure log for an item.
func (i Item) ErrorHistory() ([]FailureDetail, error) {
	if i.ErrorDetails == "" {
		return nil, nil
	}
	var details []FailureDetail
	if err := json.Unmarshal([]byte(i.ErrorDetails), &details); err != nil {
		return nil, fmt.Errorf("decode error history: %w", err)
	}
	return details, nil
}

// CountsByStatus returns a count of items grouped by status.
func (s *Store) CountsByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM content_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("item counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Health aggregates item state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	counts, err := s.CountsByStatus(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range counts {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusFailed:
			health.Failed += count
		case StatusStored:
			health.Stored += count
		default:
			if IsProcessingStatus(status) {
				health.Processing += count
			}
		}
	}
	return health, nil
}

// PruneStored removes pipeline-terminal items older than the cutoff. The
// coordinator never calls this; it exists for the external maintenance path.
func (s *Store) PruneStored(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`DELETE FROM content_items WHERE status = ? AND stored_at < ?`,
		StatusStored,
		formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune stored items: %w", err)
	}
	return res.RowsAffected()
}

const itemColumns = "id, url, title, mp_id, mp_name, publish_time, status, failed_stage, html_file_path, content_file_path, metadata_file_path, images_dir_path, content_length, word_count, image_count, error_message, error_details, retry_count, last_retry_at, created_at, updated_at, discovered_at, downloaded_at, parsed_at, stored_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id            string
		url           string
		title         sql.NullString
		mpID          sql.NullString
		mpName        sql.NullString
		publishTime   sql.NullInt64
		statusStr     string
		failedStage   sql.NullString
		htmlPath      sql.NullString
		contentPath   sql.NullString
		metadataPath  sql.NullString
		imagesDir     sql.NullString
		contentLength sql.NullInt64
		wordCount     sql.NullInt64
		imageCount    sql.NullInt64
		errorMessage  sql.NullString
		errorDetails  sql.NullString
		retryCount    sql.NullInt64
		lastRetryRaw  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		discoveredRaw sql.NullString
		downloadedRaw sql.NullString
		parsedRaw     sql.NullString
		storedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&url,
		&title,
		&mpID,
		&mpName,
		&publishTime,
		&statusStr,
		&failedStage,
		&htmlPath,
		&contentPath,
		&metadataPath,
		&imagesDir,
		&contentLength,
		&wordCount,
		&imageCount,
		&errorMessage,
		&errorDetails,
		&retryCount,
		&lastRetryRaw,
		&createdRaw,
		&updatedRaw,
		&discoveredRaw,
		&downloadedRaw,
		&parsedRaw,
		&storedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:               id,
		URL:              url,
		Title:            title.String,
		MPID:             mpID.String,
		MPName:           mpName.String,
		PublishTime:      publishTime.Int64,
		Status:           Status(statusStr),
		FailedStage:      Stage(failedStage.String),
		HTMLFilePath:     htmlPath.String,
		ContentFilePath:  contentPath.String,
		MetadataFilePath: metadataPath.String,
		ImagesDirPath:    imagesDir.String,
		ContentLength:    contentLength.Int64,
		WordCount:        wordCount.Int64,
		ImageCount:       imageCount.Int64,
		ErrorMessage:     errorMessage.String,
		ErrorDetails:     errorDetails.String,
		RetryCount:       int(retryCount.Int64),
	}

	item.LastRetryAt = timePtr(lastRetryRaw.String)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	item.DiscoveredAt = timePtr(discoveredRaw.String)
	item.DownloadedAt = timePtr(downloadedRaw.String)
	item.ParsedAt = timePtr(parsedRaw.String)
	item.StoredAt = timePtr(storedRaw.String)
	return item, nil
}
