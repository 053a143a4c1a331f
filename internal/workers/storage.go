package workers

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/pipeline"
	"genesis/internal/services"
	"genesis/internal/stage"
	"genesis/internal/store"
)

// Storage finalizes an item: it verifies the artifacts the earlier stages
// recorded actually exist and, when temp cleanup is enabled, drops the raw
// HTML once the extracted content is safe.
type Storage struct {
	coordinator *pipeline.Coordinator
	logger      *slog.Logger
	contentDir  string
}

// NewStorage builds the storage stage handler.
func NewStorage(coord *pipeline.Coordinator, cfg *config.Config, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Storage{
		coordinator: coord,
		logger:      logging.NewComponentLogger(logger, "storage"),
		contentDir:  cfg.Paths.ContentDir,
	}
}

func (s *Storage) Stage() store.Stage { return store.StageStorage }

// Prepare validates the item carries a content artifact.
func (s *Storage) Prepare(_ context.Context, item *store.Item) error {
	if item.ContentFilePath == "" {
		return services.Wrap(services.ErrPermanent, "storage", "prepare", "item has no content artifact", nil)
	}
	return nil
}

// Execute verifies the artifacts and marks the item stored.
func (s *Storage) Execute(ctx context.Context, item *store.Item) error {
	info, err := os.Stat(item.ContentFilePath)
	if err != nil {
		return services.Wrap(services.ErrPermanent, "storage", "verify", item.ContentFilePath, err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrPermanent, "storage", "verify",
			fmt.Sprintf("%s is empty", item.ContentFilePath), nil)
	}

	settings, err := s.coordinator.Settings(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransient, "storage", "settings", "", err)
	}
	if settings.CleanupTempFiles && item.HTMLFilePath != "" {
		// The markdown is the artifact of record; raw HTML is scratch space.
		if err := os.Remove(item.HTMLFilePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("could not remove html artifact",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err))
		}
	}

	applied, err := s.coordinator.ReportStored(ctx, item.ID)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Debug("storage report ignored, item moved on",
			logging.String(logging.FieldItemID, item.ID))
	}
	return nil
}

// HealthCheck verifies the content directory exists.
func (s *Storage) HealthCheck(context.Context) stage.Health {
	if _, err := os.Stat(s.contentDir); err != nil {
		return stage.Unhealthy("storage", fmt.Sprintf("content dir: %v", err))
	}
	return stage.Healthy("storage")
}
