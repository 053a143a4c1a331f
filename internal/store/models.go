package store

import (
	"strings"
	"time"
)

// Status is the single per-item state machine discriminant. Discovery
// completes when the row is created, so the machine begins at StatusPending
// (discovered, waiting for download) and advances through alternating
// processing/done states to StatusStored.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusParsing     Status = "parsing"
	StatusParsed      Status = "parsed"
	StatusStoring     Status = "storing"
	StatusStored      Status = "stored"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusDownloaded,
	StatusParsing,
	StatusParsed,
	StatusStoring,
	StatusStored,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDownloading: {},
	StatusParsing:     {},
	StatusStoring:     {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// Stage names one discrete pipeline step.
type Stage string

const (
	StageDiscovery Stage = "discovery"
	StageDownload  Stage = "download"
	StageParse     Stage = "parse"
	StageStorage   Stage = "storage"
)

var pipelineStages = []Stage{StageDiscovery, StageDownload, StageParse, StageStorage}

// PipelineStages returns the stages in pipeline order.
func PipelineStages() []Stage {
	cp := make([]Stage, len(pipelineStages))
	copy(cp, pipelineStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case StageDiscovery, StageDownload, StageParse, StageStorage:
		return normalized, true
	}
	return "", false
}

// StartStatus returns the status an item sits in while waiting for a stage.
func (s Stage) StartStatus() Status {
	switch s {
	case StageDownload:
		return StatusPending
	case StageParse:
		return StatusDownloaded
	case StageStorage:
		return StatusParsed
	default:
		return StatusPending
	}
}

// ProcessingStatus returns the in-flight status for a stage.
func (s Stage) ProcessingStatus() Status {
	switch s {
	case StageDownload:
		return StatusDownloading
	case StageParse:
		return StatusParsing
	case StageStorage:
		return StatusStoring
	default:
		return StatusPending
	}
}

// StageStatus is the derived per-stage view of an item's single status.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailedSt   StageStatus = "failed"
)

// StageStatuses is the per-stage breakdown for one item.
type StageStatuses struct {
	Discovery StageStatus
	Download  StageStatus
	Parse     StageStatus
	Storage   StageStatus
}

// Item represents one content item persisted in SQLite.
type Item struct {
	ID          string
	URL         string
	Title       string
	MPID        string
	MPName      string
	PublishTime int64

	Status      Status
	FailedStage Stage

	HTMLFilePath     string
	ContentFilePath  string
	MetadataFilePath string
	ImagesDirPath    string

	ContentLength int64
	WordCount     int64
	ImageCount    int64

	ErrorMessage string
	ErrorDetails string
	RetryCount   int
	LastRetryAt  *time.Time

	CreatedAt    time.Time
	UpdatedAt    time.Time
	DiscoveredAt *time.Time
	DownloadedAt *time.Time
	ParsedAt     *time.Time
	StoredAt     *time.Time
}

// IsProcessing returns true when the item is inside a stage.
func (i Item) IsProcessing() bool {
	return IsProcessingStatus(i.Status)
}

// StageStatuses derives the per-stage view from the state machine
// discriminant plus the completion markers, so the monotonicity invariant
// cannot be violated by mismatched columns.
func (i Item) StageStatuses() StageStatuses {
	view := StageStatuses{
		Discovery: StageCompleted,
		Download:  StagePending,
		Parse:     StagePending,
		Storage:   StagePending,
	}
	stageFor := func(stage Stage, completedAt *time.Time) StageStatus {
		switch {
		case completedAt != nil:
			return StageCompleted
		case i.Status == stage.ProcessingStatus():
			return StageProcessing
		case i.Status == StatusFailed && i.FailedStage == stage:
			return StageFailedSt
		default:
			return StagePending
		}
	}
	view.Download = stageFor(StageDownload, i.DownloadedAt)
	view.Parse = stageFor(StageParse, i.ParsedAt)
	view.Storage = stageFor(StageStorage, i.StoredAt)
	return view
}

// Account represents one upstream content source.
type Account struct {
	MPID              string
	MPName            string
	MPNickname        string
	AvatarURL         string
	Description       string
	TotalArticles     int64
	ProcessedArticles int64
	LastArticleTime   int64
	IsActive          bool
	Priority          int
	CustomSelectors   string
	LastError         string
	LastErrorAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DailyStats is one per-date row of additive counters and duration averages.
type DailyStats struct {
	Date             string
	DiscoveredCount  int64
	DownloadedCount  int64
	ParsedCount      int64
	StoredCount      int64
	FailedCount      int64
	TotalContentSize int64
	TotalWordCount   int64
	AvgDownloadTime  *int64
	AvgParseTime     *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HealthSummary describes aggregated item counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Stored     int
}
