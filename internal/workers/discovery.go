package workers

import (
	"context"
	"log/slog"
	"time"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/pipeline"
	"genesis/internal/store"
)

// Discovery polls the upstream aggregator on the runtime-tunable interval
// and reports new articles to the coordinator. Feed metadata keeps the
// account table current; a YAML seed file can pre-register accounts with
// priorities and selectors before the first pass.
type Discovery struct {
	client      *SourceClient
	coordinator *pipeline.Coordinator
	store       *store.Store
	logger      *slog.Logger

	batchSize    int
	interval     time.Duration
	accountsFile string
}

// NewDiscovery builds the discovery worker.
func NewDiscovery(client *SourceClient, coord *pipeline.Coordinator, st *store.Store, cfg *config.Config, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = logging.NewNop()
	}
	batch := cfg.Discovery.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Discovery{
		client:       client,
		coordinator:  coord,
		store:        st,
		logger:       logging.NewComponentLogger(logger, "discovery"),
		batchSize:    batch,
		interval:     time.Duration(cfg.Discovery.Interval) * time.Second,
		accountsFile: cfg.Source.AccountsFile,
	}
}

// Run seeds accounts once, then polls until the context ends. The poll
// interval is re-read from runtime settings each cycle so operators can tune
// it without a restart.
func (d *Discovery) Run(ctx context.Context) error {
	seeds, err := LoadAccountSeeds(d.accountsFile)
	if err != nil {
		return err
	}
	if len(seeds) > 0 {
		if err := SeedAccounts(ctx, d.store, seeds); err != nil {
			return err
		}
		d.logger.Info("accounts seeded", logging.Int("count", len(seeds)))
	}

	for {
		interval := d.interval
		settings, err := d.coordinator.Settings(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A transient settings read must not kill the loop; keep the
			// configured interval and try again next cycle.
			d.logger.Warn("load settings failed", logging.Error(err))
		} else {
			if settings.DiscoveryInterval > 0 {
				interval = time.Duration(settings.DiscoveryInterval) * time.Second
			}
			if settings.MaintenanceMode {
				d.logger.Debug("maintenance mode, discovery paused")
			} else if err := d.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Warn("discovery pass failed", logging.Error(err))
			}
		}

		if interval <= 0 {
			interval = 30 * time.Minute
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunOnce performs a single discovery pass over all active accounts.
func (d *Discovery) RunOnce(ctx context.Context) error {
	feeds, err := d.client.ListFeeds(ctx)
	if err != nil {
		return err
	}
	for _, feed := range feeds {
		if feed.ID == "" {
			continue
		}
		name := feed.MPName
		if name == "" {
			name = feed.ID
		}
		err := d.store.RefreshAccountMetadata(ctx, store.AccountUpdate{
			MPID:        feed.ID,
			MPName:      name,
			MPNickname:  feed.Nickname,
			AvatarURL:   feed.Avatar,
			Description: feed.Intro,
		})
		if err != nil {
			return err
		}
	}

	accounts, err := d.store.ListAccounts(ctx, true)
	if err != nil {
		return err
	}

	discovered := 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		count, err := d.discoverAccount(ctx, account)
		if err != nil {
			if reportErr := d.coordinator.ReportDiscoveryFailed(ctx, account.MPID, err); reportErr != nil {
				d.logger.Warn("discovery failure report failed",
					logging.String(logging.FieldAccount, account.MPID),
					logging.Error(reportErr))
			}
			continue
		}
		if _, err := d.store.ClearDiscoveryError(ctx, account.MPID); err != nil {
			d.logger.Warn("clear discovery error failed",
				logging.String(logging.FieldAccount, account.MPID),
				logging.Error(err))
		}
		discovered += count
	}
	if discovered > 0 {
		d.logger.Info("discovery pass finished", logging.Int("new_items", discovered))
	}
	return nil
}

func (d *Discovery) discoverAccount(ctx context.Context, account *store.Account) (int, error) {
	articles, err := d.client.FeedArticles(ctx, account.MPID, d.batchSize)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, article := range articles {
		if article.ID == "" || article.ArticleURL() == "" {
			continue
		}
		mpID := article.MPID
		if mpID == "" {
			mpID = account.MPID
		}
		mpName := article.MPName
		if mpName == "" {
			mpName = account.MPName
		}
		ok, err := d.coordinator.ReportDiscovered(ctx, store.NewItem{
			ID:          article.ID,
			URL:         article.ArticleURL(),
			Title:       article.Title,
			MPID:        mpID,
			MPName:      mpName,
			PublishTime: article.PublishTimeSeconds(),
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}
