package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StatsDate formats a time as the YYYY-MM-DD key used by daily_stats.
func StatsDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RecomputeDailyStats rebuilds the daily_stats row for one calendar date from
// the item table. The recompute is a full per-date scan, so re-running it for
// the same date is idempotent.
func (s *Store) RecomputeDailyStats(ctx context.Context, date string) (*DailyStats, error) {
	ctx = ensureContext(ctx)
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("invalid stats date %q: %w", date, err)
	}

	stats := DailyStats{Date: date}

	counters := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(1) FROM content_items WHERE substr(discovered_at, 1, 10) = ?`, &stats.DiscoveredCount},
		{`SELECT COUNT(1) FROM content_items WHERE substr(downloaded_at, 1, 10) = ?`, &stats.DownloadedCount},
		{`SELECT COUNT(1) FROM content_items WHERE substr(parsed_at, 1, 10) = ?`, &stats.ParsedCount},
		{`SELECT COUNT(1) FROM content_items WHERE substr(stored_at, 1, 10) = ?`, &stats.StoredCount},
		{`SELECT COUNT(1) FROM content_items WHERE status = 'failed' AND substr(last_retry_at, 1, 10) = ?`, &stats.FailedCount},
	}
	for _, counter := range counters {
		if err := s.db.QueryRowContext(ctx, counter.query, date).Scan(counter.dest); err != nil {
			return nil, fmt.Errorf("count for %s: %w", date, err)
		}
	}

	var contentSize, wordCount sql.NullInt64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COALESCE(SUM(content_length), 0), COALESCE(SUM(word_count), 0)
         FROM content_items WHERE substr(parsed_at, 1, 10) = ?`,
		date,
	).Scan(&contentSize, &wordCount)
	if err != nil {
		return nil, fmt.Errorf("sums for %s: %w", date, err)
	}
	stats.TotalContentSize = contentSize.Int64
	stats.TotalWordCount = wordCount.Int64

	downloadAvg, err := s.averageStageSeconds(ctx, "discovered_at", "downloaded_at", date)
	if err != nil {
		return nil, err
	}
	stats.AvgDownloadTime = downloadAvg

	parseAvg, err := s.averageStageSeconds(ctx, "downloaded_at", "parsed_at", date)
	if err != nil {
		return nil, err
	}
	stats.AvgParseTime = parseAvg

	now := formatTime(time.Now())
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO daily_stats (
            date, discovered_count, downloaded_count, parsed_count, stored_count,
            failed_count, total_content_size, total_word_count,
            avg_download_time, avg_parse_time, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(date) DO UPDATE SET
            discovered_count = excluded.discovered_count,
            downloaded_count = excluded.downloaded_count,
            parsed_count = excluded.parsed_count,
            stored_count = excluded.stored_count,
            failed_count = excluded.failed_count,
            total_content_size = excluded.total_content_size,
            total_word_count = excluded.total_word_count,
            avg_download_time = excluded.avg_download_time,
            avg_parse_time = excluded.avg_parse_time,
            updated_at = excluded.updated_at`,
		stats.Date,
		stats.DiscoveredCount,
		stats.DownloadedCount,
		stats.ParsedCount,
		stats.StoredCount,
		stats.FailedCount,
		stats.TotalContentSize,
		stats.TotalWordCount,
		nullableInt64Ptr(stats.AvgDownloadTime),
		nullableInt64Ptr(stats.AvgParseTime),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert daily stats: %w", err)
	}
	return &stats, nil
}

// averageStageSeconds computes the mean duration between two stage completion
// timestamps for items whose later timestamp falls on the given date. The
// deltas are computed in Go so timestamp parsing stays in one place; items
// missing either timestamp are excluded.
func (s *Store) averageStageSeconds(ctx context.Context, fromColumn, toColumn, date string) (*int64, error) {
	query := fmt.Sprintf(
		`SELECT %s, %s FROM content_items
         WHERE substr(%s, 1, 10) = ? AND %s IS NOT NULL`,
		fromColumn, toColumn, toColumn, fromColumn,
	)
	rows, err := s.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("stage durations: %w", err)
	}
	defer rows.Close()

	var total time.Duration
	var count int64
	for rows.Next() {
		var fromRaw, toRaw sql.NullString
		if err := rows.Scan(&fromRaw, &toRaw); err != nil {
			return nil, err
		}
		from, err := parseTimeString(fromRaw.String)
		if err != nil {
			continue
		}
		to, err := parseTimeString(toRaw.String)
		if err != nil {
			continue
		}
		if to.Before(from) {
			continue
		}
		total += to.Sub(from)
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	avg := int64(total.Seconds() / float64(count))
	return &avg, nil
}

// GetDailyStats fetches the aggregated row for one date.
func (s *Store) GetDailyStats(ctx context.Context, date string) (*DailyStats, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+dailyStatsColumns+` FROM daily_stats WHERE date = ?`,
		date,
	)
	stats, err := scanDailyStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily stats: %w", err)
	}
	return stats, nil
}

// ListDailyStats returns the most recent aggregated rows, newest first.
func (s *Store) ListDailyStats(ctx context.Context, limit int) ([]*DailyStats, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+dailyStatsColumns+` FROM daily_stats ORDER BY date DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	defer rows.Close()

	var out []*DailyStats
	for rows.Next() {
		stats, err := scanDailyStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}

const dailyStatsColumns = "date, discovered_count, downloaded_count, parsed_count, stored_count, failed_count, total_content_size, total_word_count, avg_download_time, avg_parse_time, created_at, updated_at"

func scanDailyStats(scanner interface{ Scan(dest ...any) error }) (*DailyStats, error) {
	var (
		date        string
		discovered  int64
		downloaded  int64
		parsed      int64
		stored      int64
		failed      int64
		contentSize int64
		wordCount   int64
		avgDownload sql.NullInt64
		avgParse    sql.NullInt64
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&date,
		&discovered,
		&downloaded,
		&parsed,
		&stored,
		&failed,
		&contentSize,
		&wordCount,
		&avgDownload,
		&avgParse,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	stats := &DailyStats{
		Date:             date,
		DiscoveredCount:  discovered,
		DownloadedCount:  downloaded,
		ParsedCount:      parsed,
		StoredCount:      stored,
		FailedCount:      failed,
		TotalContentSize: contentSize,
		TotalWordCount:   wordCount,
	}
	if avgDownload.Valid {
		v := avgDownload.Int64
		stats.AvgDownloadTime = &v
	}
	if avgParse.Valid {
		v := avgParse.Int64
		stats.AvgParseTime = &v
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		stats.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		stats.UpdatedAt = updated
	}
	return stats, nil
}

func nullableInt64Ptr(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}
