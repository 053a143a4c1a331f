package daemon

import (
	"time"

	"genesis/internal/store"
	"genesis/internal/taskqueue"
)

// View types are the JSON wire shapes of the operator API. They decouple the
// HTTP surface from the store models so schema changes stay invisible to
// clients.

type HealthResponse struct {
	Healthy  bool              `json:"healthy"`
	Database string            `json:"database,omitempty"`
	Stages   []StageHealthView `json:"stages,omitempty"`
}

type StageHealthView struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

type StatusResponse struct {
	Running      bool              `json:"running"`
	PID          int               `json:"pid"`
	DatabasePath string            `json:"database_path"`
	LockFilePath string            `json:"lock_file_path"`
	Items        ItemCountsView    `json:"items"`
	Tasks        map[string]int    `json:"tasks"`
	Settings     SettingsView      `json:"settings"`
	Workers      []StageHealthView `json:"workers,omitempty"`
}

type ItemCountsView struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Stored     int `json:"stored"`
}

type SettingsView struct {
	DiscoveryInterval   int  `json:"discovery_interval"`
	DownloadTimeout     int  `json:"download_timeout"`
	ConcurrentDownloads int  `json:"concurrent_downloads"`
	ParseBatchSize      int  `json:"parse_batch_size"`
	CleanupTempFiles    bool `json:"cleanup_temp_files"`
	MaintenanceMode     bool `json:"maintenance_mode"`
}

func statusView(status Status) StatusResponse {
	tasks := make(map[string]int, len(status.Tasks))
	for taskStatus, count := range status.Tasks {
		tasks[string(taskStatus)] = count
	}
	workers := make([]StageHealthView, 0, len(status.Workers))
	for _, health := range status.Workers {
		workers = append(workers, StageHealthView{Name: health.Name, Ready: health.Ready, Detail: health.Detail})
	}
	return StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Items: ItemCountsView{
			Total:      status.Items.Total,
			Pending:    status.Items.Pending,
			Processing: status.Items.Processing,
			Failed:     status.Items.Failed,
			Stored:     status.Items.Stored,
		},
		Tasks: tasks,
		Settings: SettingsView{
			DiscoveryInterval:   status.Settings.DiscoveryInterval,
			DownloadTimeout:     status.Settings.DownloadTimeout,
			ConcurrentDownloads: status.Settings.ConcurrentDownloads,
			ParseBatchSize:      status.Settings.ParseBatchSize,
			CleanupTempFiles:    status.Settings.CleanupTempFiles,
			MaintenanceMode:     status.Settings.MaintenanceMode,
		},
		Workers: workers,
	}
}

type ItemView struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	MPID        string `json:"mp_id,omitempty"`
	MPName      string `json:"mp_name,omitempty"`
	PublishTime int64  `json:"publish_time,omitempty"`

	Status      string            `json:"status"`
	FailedStage string            `json:"failed_stage,omitempty"`
	Stages      map[string]string `json:"stages"`

	HTMLFilePath    string `json:"html_file_path,omitempty"`
	ContentFilePath string `json:"content_file_path,omitempty"`
	ImagesDirPath   string `json:"images_dir_path,omitempty"`

	ContentLength int64 `json:"content_length,omitempty"`
	WordCount     int64 `json:"word_count,omitempty"`
	ImageCount    int64 `json:"image_count,omitempty"`

	ErrorMessage string                `json:"error_message,omitempty"`
	RetryCount   int                   `json:"retry_count"`
	History      []store.FailureDetail `json:"history,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
	ParsedAt     *time.Time `json:"parsed_at,omitempty"`
	StoredAt     *time.Time `json:"stored_at,omitempty"`
}

type ItemListResponse struct {
	Items []ItemView `json:"items"`
}

type ItemResponse struct {
	Item ItemView `json:"item"`
}

func itemView(item *store.Item) ItemView {
	stages := item.StageStatuses()
	history, _ := item.ErrorHistory()
	return ItemView{
		ID:          item.ID,
		URL:         item.URL,
		Title:       item.Title,
		MPID:        item.MPID,
		MPName:      item.MPName,
		PublishTime: item.PublishTime,
		Status:      string(item.Status),
		FailedStage: string(item.FailedStage),
		Stages: map[string]string{
			"discovery": string(stages.Discovery),
			"download":  string(stages.Download),
			"parse":     string(stages.Parse),
			"storage":   string(stages.Storage),
		},
		HTMLFilePath:    item.HTMLFilePath,
		ContentFilePath: item.ContentFilePath,
		ImagesDirPath:   item.ImagesDirPath,
		ContentLength:   item.ContentLength,
		WordCount:       item.WordCount,
		ImageCount:      item.ImageCount,
		ErrorMessage:    item.ErrorMessage,
		RetryCount:      item.RetryCount,
		History:         history,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
		DownloadedAt:    item.DownloadedAt,
		ParsedAt:        item.ParsedAt,
		StoredAt:        item.StoredAt,
	}
}

type AccountView struct {
	MPID            string     `json:"mp_id"`
	MPName          string     `json:"mp_name"`
	MPNickname      string     `json:"mp_nickname,omitempty"`
	IsActive        bool       `json:"is_active"`
	Priority        int        `json:"priority"`
	TotalArticles   int64      `json:"total_articles"`
	ProcessedCount  int64      `json:"processed_articles"`
	LastArticleTime int64      `json:"last_article_time,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastErrorAt     *time.Time `json:"last_error_at,omitempty"`
}

type AccountListResponse struct {
	Accounts []AccountView `json:"accounts"`
}

func accountView(account *store.Account) AccountView {
	return AccountView{
		MPID:            account.MPID,
		MPName:          account.MPName,
		MPNickname:      account.MPNickname,
		IsActive:        account.IsActive,
		Priority:        account.Priority,
		TotalArticles:   account.TotalArticles,
		ProcessedCount:  account.ProcessedArticles,
		LastArticleTime: account.LastArticleTime,
		LastError:       account.LastError,
		LastErrorAt:     account.LastErrorAt,
	}
}

type DailyStatsView struct {
	Date             string `json:"date"`
	Discovered       int64  `json:"discovered"`
	Downloaded       int64  `json:"downloaded"`
	Parsed           int64  `json:"parsed"`
	Stored           int64  `json:"stored"`
	Failed           int64  `json:"failed"`
	TotalContentSize int64  `json:"total_content_size"`
	TotalWordCount   int64  `json:"total_word_count"`
	AvgDownloadTime  *int64 `json:"avg_download_seconds,omitempty"`
	AvgParseTime     *int64 `json:"avg_parse_seconds,omitempty"`
}

type StatsResponse struct {
	Stats []DailyStatsView `json:"stats"`
}

func dailyStatsView(row *store.DailyStats) DailyStatsView {
	return DailyStatsView{
		Date:             row.Date,
		Discovered:       row.DiscoveredCount,
		Downloaded:       row.DownloadedCount,
		Parsed:           row.ParsedCount,
		Stored:           row.StoredCount,
		Failed:           row.FailedCount,
		TotalContentSize: row.TotalContentSize,
		TotalWordCount:   row.TotalWordCount,
		AvgDownloadTime:  row.AvgDownloadTime,
		AvgParseTime:     row.AvgParseTime,
	}
}

type ConfigView struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type ConfigListResponse struct {
	Entries []ConfigView `json:"entries"`
}

type ConfigResponse struct {
	Entry ConfigView `json:"entry"`
}

func configView(entry *store.ConfigEntry) ConfigView {
	value := entry.Value
	if entry.IsSensitive {
		value = "***"
	}
	return ConfigView{
		Key:         entry.Key,
		Value:       value,
		Type:        string(entry.Type),
		Description: entry.Description,
	}
}

type TaskView struct {
	ID           int64      `json:"id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type TaskListResponse struct {
	Tasks []TaskView `json:"tasks"`
}

func taskView(task *taskqueue.Task) TaskView {
	return TaskView{
		ID:           task.ID,
		Type:         string(task.Type),
		Status:       string(task.Status),
		Priority:     task.Priority,
		RetryCount:   task.RetryCount,
		MaxRetries:   task.MaxRetries,
		ErrorMessage: task.ErrorMessage,
		CreatedAt:    task.CreatedAt,
		ScheduledAt:  task.ScheduledAt,
		StartedAt:    task.StartedAt,
		CompletedAt:  task.CompletedAt,
	}
}

type ActionResponse struct {
	OK       bool  `json:"ok"`
	Affected int   `json:"affected,omitempty"`
	TaskID   int64 `json:"task_id,omitempty"`
}
