package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/pipeline"
	"genesis/internal/services"
	"genesis/internal/stage"
	"genesis/internal/store"
)

// Download fetches article HTML into the html directory and optionally pulls
// inline images. Timeouts come from runtime settings so operators can tune a
// running daemon.
type Download struct {
	coordinator *pipeline.Coordinator
	logger      *slog.Logger

	htmlDir      string
	imagesDir    string
	fetchImages  bool
	imageTimeout time.Duration
	maxBodyBytes int64
}

// NewDownload builds the download stage handler.
func NewDownload(coord *pipeline.Coordinator, cfg *config.Config, logger *slog.Logger) *Download {
	if logger == nil {
		logger = logging.NewNop()
	}
	imageTimeout := time.Duration(cfg.Download.ImageTimeout) * time.Second
	if imageTimeout <= 0 {
		imageTimeout = 15 * time.Second
	}
	return &Download{
		coordinator:  coord,
		logger:       logging.NewComponentLogger(logger, "download"),
		htmlDir:      cfg.Paths.HTMLDir,
		imagesDir:    cfg.Paths.ImagesDir,
		fetchImages:  cfg.Download.FetchImages,
		imageTimeout: imageTimeout,
		maxBodyBytes: cfg.Download.MaxBodyBytes,
	}
}

func (d *Download) Stage() store.Stage { return store.StageDownload }

// Prepare validates the item and makes sure the artifact directories exist.
func (d *Download) Prepare(_ context.Context, item *store.Item) error {
	if item.URL == "" {
		return services.Wrap(services.ErrPermanent, "download", "prepare", "item has no URL", nil)
	}
	if _, err := url.ParseRequestURI(item.URL); err != nil {
		return services.Wrap(services.ErrPermanent, "download", "prepare", "item URL is invalid", err)
	}
	if err := os.MkdirAll(d.htmlDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "download", "prepare", "create html dir", err)
	}
	return nil
}

// Execute fetches the article and reports the produced artifacts.
func (d *Download) Execute(ctx context.Context, item *store.Item) error {
	settings, err := d.coordinator.Settings(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransient, "download", "settings", "", err)
	}
	timeout := time.Duration(settings.DownloadTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	body, err := d.fetch(fetchCtx, item.URL)
	if err != nil {
		return err
	}

	htmlPath := filepath.Join(d.htmlDir, item.ID+".html")
	if err := os.WriteFile(htmlPath, body, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "download", "write html", htmlPath, err)
	}

	imagesDir := ""
	imageCount := int64(0)
	if d.fetchImages {
		imagesDir, imageCount = d.fetchInlineImages(ctx, item.ID, body)
	}

	metadataPath := filepath.Join(d.htmlDir, item.ID+".json")
	metadata := map[string]any{
		"id":          item.ID,
		"url":         item.URL,
		"title":       item.Title,
		"mp_id":       item.MPID,
		"fetched_at":  time.Now().UTC().Format(time.RFC3339),
		"html_bytes":  len(body),
		"image_count": imageCount,
		"images_dir":  imagesDir,
	}
	raw, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrPermanent, "download", "encode metadata", "", err)
	}
	if err := os.WriteFile(metadataPath, raw, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "download", "write metadata", metadataPath, err)
	}

	applied, err := d.coordinator.ReportDownloaded(ctx, item.ID, pipeline.DownloadOutcome{
		HTMLPath:     htmlPath,
		MetadataPath: metadataPath,
		ImagesDir:    imagesDir,
		ImageCount:   imageCount,
	})
	if err != nil {
		return err
	}
	if !applied {
		d.logger.Debug("download report ignored, item moved on",
			logging.String(logging.FieldItemID, item.ID))
	}
	return nil
}

// HealthCheck verifies the html directory is writable.
func (d *Download) HealthCheck(context.Context) stage.Health {
	if err := os.MkdirAll(d.htmlDir, 0o755); err != nil {
		return stage.Unhealthy("download", fmt.Sprintf("html dir: %v", err))
	}
	probe := filepath.Join(d.htmlDir, ".probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return stage.Unhealthy("download", fmt.Sprintf("html dir not writable: %v", err))
	}
	_ = os.Remove(probe)
	return stage.Healthy("download")
}

func (d *Download) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "download", "build request", target, err)
	}
	req.Header.Set("User-Agent", sourceUserAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "download", "fetch", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, services.Wrap(services.ErrTransient, "download", "fetch",
			fmt.Sprintf("%s returned %d", target, resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, services.Wrap(services.ErrPermanent, "download", "fetch",
			fmt.Sprintf("%s returned %d", target, resp.StatusCode), nil)
	}

	reader := io.Reader(resp.Body)
	if d.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, d.maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "download", "read body", target, err)
	}
	if d.maxBodyBytes > 0 && int64(len(body)) > d.maxBodyBytes {
		return nil, services.Wrap(services.ErrPermanent, "download", "read body",
			fmt.Sprintf("%s exceeds %d bytes", target, d.maxBodyBytes), nil)
	}
	if len(body) == 0 {
		return nil, services.Wrap(services.ErrTransient, "download", "read body", "empty response", nil)
	}
	return body, nil
}

// fetchInlineImages best-effort downloads the article's inline images. Image
// failures never fail the stage; the HTML is the primary artifact.
func (d *Download) fetchInlineImages(ctx context.Context, itemID string, body []byte) (string, int64) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", 0
	}

	dir := filepath.Join(d.imagesDir, itemID)
	client := &http.Client{Timeout: d.imageTimeout}
	var count int64
	doc.Find("img").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if count >= maxInlineImages {
			return false
		}
		src, ok := sel.Attr("data-src")
		if !ok {
			src, ok = sel.Attr("src")
		}
		if !ok || !strings.HasPrefix(src, "http") {
			return true
		}
		if count == 0 {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return false
			}
		}
		if d.fetchOneImage(ctx, client, src, filepath.Join(dir, fmt.Sprintf("%03d.img", i))) {
			count++
		}
		return true
	})
	if count == 0 {
		return "", 0
	}
	return dir, count
}

func (d *Download) fetchOneImage(ctx context.Context, client *http.Client, src, dest string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", sourceUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	f, err := os.Create(dest)
	if err != nil {
		return false
	}
	defer f.Close()
	if _, err := io.Copy(f, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		_ = os.Remove(dest)
		return false
	}
	return true
}

const (
	maxInlineImages = 50
	maxImageBytes   = 10 << 20
)
