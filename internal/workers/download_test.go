package workers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"genesis/internal/config"
	"genesis/internal/pipeline"
	"genesis/internal/services"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
	"genesis/internal/testsupport"
	"genesis/internal/workers"
)

func articleHTML(baseURL string) string {
	return `<!DOCTYPE html>
<html><head><title>Sample Article</title></head>
<body>
<div id="js_content">
<h1>Sample Article</h1>
<p>Plain prose for the extractor, with enough words to count.</p>
<p>中文内容也要统计字数。</p>
<img data-src="` + baseURL + `/img/one.png">
<script>alert("stripped")</script>
</div>
</body></html>`
}

func newArticleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(articleHTML(server.URL)))
	})
	mux.HandleFunc("/img/one.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type downloadHarness struct {
	cfg   *config.Config
	store *store.Store
	coord *pipeline.Coordinator
	queue *taskqueue.Queue
}

func newDownloadHarness(t *testing.T) *downloadHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := taskqueue.New(st, cfg.Queue, nil)
	return &downloadHarness{cfg: cfg, store: st, coord: pipeline.New(st, q, cfg, nil), queue: q}
}

// beginDownload registers an item and moves it into the downloading state the
// way the pool does before invoking the handler.
func (h *downloadHarness) beginDownload(t *testing.T, id, url string) *store.Item {
	t.Helper()
	ctx := context.Background()
	created, err := h.coord.ReportDiscovered(ctx, store.NewItem{ID: id, URL: url, Title: "Sample", MPID: "mp-1", MPName: "One"})
	if err != nil || !created {
		t.Fatalf("ReportDiscovered: created=%v err=%v", created, err)
	}
	ok, err := h.coord.BeginStage(ctx, id, store.StageDownload)
	if err != nil || !ok {
		t.Fatalf("BeginStage: ok=%v err=%v", ok, err)
	}
	item, err := h.store.GetByID(ctx, id)
	if err != nil || item == nil {
		t.Fatalf("GetByID: %v", err)
	}
	return item
}

func TestDownloadExecute(t *testing.T) {
	server := newArticleServer(t)
	h := newDownloadHarness(t)
	ctx := context.Background()

	handler := workers.NewDownload(h.coord, h.cfg, nil)
	item := h.beginDownload(t, "article-1", server.URL+"/article")

	if err := handler.Prepare(ctx, item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(ctx, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	item, err := h.store.GetByID(ctx, "article-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item.Status != store.StatusDownloaded {
		t.Fatalf("expected downloaded, got %s", item.Status)
	}

	raw, err := os.ReadFile(item.HTMLFilePath)
	if err != nil {
		t.Fatalf("read html artifact: %v", err)
	}
	if string(raw) != articleHTML(server.URL) {
		t.Fatal("html artifact does not match the response body")
	}
	if item.ImageCount != 1 {
		t.Fatalf("expected 1 inline image fetched, got %d", item.ImageCount)
	}
	images, err := os.ReadDir(filepath.Join(h.cfg.Paths.ImagesDir, "article-1"))
	if err != nil || len(images) != 1 {
		t.Fatalf("expected one image artifact, got %d err=%v", len(images), err)
	}

	metaRaw, err := os.ReadFile(filepath.Join(h.cfg.Paths.HTMLDir, "article-1.json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["url"] != server.URL+"/article" {
		t.Fatalf("unexpected metadata url: %v", meta["url"])
	}

	// Download completion chained a parse task.
	claimed, err := h.queue.Claim(ctx, []taskqueue.Type{taskqueue.TypeParse}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected a parse task, got %d err=%v", len(claimed), err)
	}
}

func TestDownloadErrorClassification(t *testing.T) {
	server := newArticleServer(t)
	h := newDownloadHarness(t)
	ctx := context.Background()
	handler := workers.NewDownload(h.coord, h.cfg, nil)

	item := h.beginDownload(t, "gone-article", server.URL+"/gone")
	err := handler.Execute(ctx, item)
	if err == nil || services.Retryable(err) {
		t.Fatalf("expected permanent error for 404, got %v", err)
	}

	item = h.beginDownload(t, "flaky-article", server.URL+"/flaky")
	err = handler.Execute(ctx, item)
	if err == nil || !services.Retryable(err) {
		t.Fatalf("expected retryable error for 503, got %v", err)
	}
}

func TestDownloadPrepareRejectsBadURL(t *testing.T) {
	h := newDownloadHarness(t)
	handler := workers.NewDownload(h.coord, h.cfg, nil)

	err := handler.Prepare(context.Background(), &store.Item{ID: "x", URL: "not a url"})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	err = handler.Prepare(context.Background(), &store.Item{ID: "x"})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected ErrPermanent for empty URL, got %v", err)
	}
}

func TestDownloadRejectsOversizedBody(t *testing.T) {
	server := newArticleServer(t)
	h := newDownloadHarness(t)
	h.cfg.Download.MaxBodyBytes = 16
	handler := workers.NewDownload(h.coord, h.cfg, nil)

	item := h.beginDownload(t, "big-article", server.URL+"/article")
	err := handler.Execute(context.Background(), item)
	if err == nil || services.Retryable(err) {
		t.Fatalf("expected permanent oversize error, got %v", err)
	}
}
