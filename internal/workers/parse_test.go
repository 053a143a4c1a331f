package workers_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genesis/internal/pipeline"
	"genesis/internal/services"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
	"genesis/internal/testsupport"
	"genesis/internal/workers"
)

const parseFixture = `<!DOCTYPE html>
<html><head><title>Fixture Title</title></head>
<body>
<div id="js_content">
<h1>Fixture Heading</h1>
<p>English words mixed with Chinese text.</p>
<p>人工智能正在改变世界。</p>
<img src="https://example.com/pic.png" alt="pic">
<script>document.write("never shown")</script>
</div>
</body></html>`

// beginParse walks a discovered item through download completion and into the
// parsing state, with the given HTML written as its artifact.
func beginParse(t *testing.T, coord *pipeline.Coordinator, st *store.Store, id, htmlPath, html string) *store.Item {
	t.Helper()
	ctx := context.Background()
	testsupport.WriteFile(t, htmlPath, html)

	created, err := coord.ReportDiscovered(ctx, store.NewItem{ID: id, URL: "https://example.com/" + id, MPID: "mp-1", MPName: "One"})
	if err != nil || !created {
		t.Fatalf("ReportDiscovered: created=%v err=%v", created, err)
	}
	if ok, err := coord.BeginStage(ctx, id, store.StageDownload); err != nil || !ok {
		t.Fatalf("BeginStage download: ok=%v err=%v", ok, err)
	}
	if ok, err := coord.ReportDownloaded(ctx, id, pipeline.DownloadOutcome{HTMLPath: htmlPath}); err != nil || !ok {
		t.Fatalf("ReportDownloaded: ok=%v err=%v", ok, err)
	}
	if ok, err := coord.BeginStage(ctx, id, store.StageParse); err != nil || !ok {
		t.Fatalf("BeginStage parse: ok=%v err=%v", ok, err)
	}
	item, err := st.GetByID(ctx, id)
	if err != nil || item == nil {
		t.Fatalf("GetByID: %v", err)
	}
	return item
}

func TestParseExecute(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := taskqueue.New(st, cfg.Queue, nil)
	coord := pipeline.New(st, q, cfg, nil)
	handler := workers.NewParse(coord, st, cfg, nil)
	ctx := context.Background()

	htmlPath := filepath.Join(cfg.Paths.HTMLDir, "article-1.html")
	item := beginParse(t, coord, st, "article-1", htmlPath, parseFixture)

	if err := handler.Prepare(ctx, item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(ctx, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	item, err := st.GetByID(ctx, "article-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item.Status != store.StatusParsed {
		t.Fatalf("expected parsed, got %s", item.Status)
	}
	if item.WordCount == 0 || item.ContentLength == 0 {
		t.Fatalf("expected parse metrics, got %+v", item)
	}
	if item.ImageCount != 1 {
		t.Fatalf("expected 1 content image, got %d", item.ImageCount)
	}

	content, err := os.ReadFile(item.ContentFilePath)
	if err != nil {
		t.Fatalf("read content artifact: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "English words mixed with Chinese text.") {
		t.Fatalf("expected prose in markdown, got %q", text)
	}
	if !strings.Contains(text, "人工智能正在改变世界。") {
		t.Fatalf("expected CJK text in markdown, got %q", text)
	}
	if strings.Contains(text, "never shown") {
		t.Fatal("script content leaked into markdown")
	}

	// Parse completion chained a storage task.
	claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeStore}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected a store task, got %d err=%v", len(claimed), err)
	}
}

func TestParseUsesAccountSelector(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := taskqueue.New(st, cfg.Queue, nil)
	coord := pipeline.New(st, q, cfg, nil)
	handler := workers.NewParse(coord, st, cfg, nil)
	ctx := context.Background()

	err := st.UpsertAccount(ctx, store.AccountUpdate{
		MPID:            "mp-1",
		MPName:          "One",
		IsActive:        true,
		CustomSelectors: "content: \"#special\"\n",
	})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	const html = `<html><body>
<div id="special"><p>Selected section only.</p></div>
<div id="js_content"><p>Default section.</p></div>
</body></html>`
	htmlPath := filepath.Join(cfg.Paths.HTMLDir, "article-1.html")
	item := beginParse(t, coord, st, "article-1", htmlPath, html)

	if err := handler.Execute(ctx, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	item, err = st.GetByID(ctx, "article-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	content, err := os.ReadFile(item.ContentFilePath)
	if err != nil {
		t.Fatalf("read content artifact: %v", err)
	}
	if !strings.Contains(string(content), "Selected section only.") {
		t.Fatalf("expected custom selector content, got %q", content)
	}
	if strings.Contains(string(content), "Default section.") {
		t.Fatalf("custom selector should win over the default chain, got %q", content)
	}
}

func TestParseEmptyContentIsPermanent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := taskqueue.New(st, cfg.Queue, nil)
	coord := pipeline.New(st, q, cfg, nil)
	handler := workers.NewParse(coord, st, cfg, nil)

	htmlPath := filepath.Join(cfg.Paths.HTMLDir, "empty.html")
	item := beginParse(t, coord, st, "empty", htmlPath, "<html><body><div id=\"js_content\"></div></body></html>")

	err := handler.Execute(context.Background(), item)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected ErrPermanent for empty content, got %v", err)
	}
}

func TestParsePrepareRequiresArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	handler := workers.NewParse(nil, st, cfg, nil)

	err := handler.Prepare(context.Background(), &store.Item{ID: "x"})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected ErrPermanent for missing artifact path, got %v", err)
	}
	err = handler.Prepare(context.Background(), &store.Item{ID: "x", HTMLFilePath: filepath.Join(cfg.Paths.HTMLDir, "nope.html")})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected ErrPermanent for missing artifact file, got %v", err)
	}
}
