package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/pipeline"
	"genesis/internal/services"
	"genesis/internal/stage"
	"genesis/internal/store"
)

// contentSelectors are tried in order when an account has no custom content
// selector. The first entry matches WeChat article bodies.
var contentSelectors = []string{"#js_content", "article", ".rich_media_content", "body"}

// Parse extracts readable text from downloaded HTML: sanitize, locate the
// content node, convert to markdown, and record length, word, and image
// metrics. Custom per-account selectors override the default content lookup.
type Parse struct {
	coordinator *pipeline.Coordinator
	store       *store.Store
	logger      *slog.Logger

	contentDir string
	sanitizer  *bluemonday.Policy
}

// NewParse builds the parse stage handler.
func NewParse(coord *pipeline.Coordinator, st *store.Store, cfg *config.Config, logger *slog.Logger) *Parse {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Parse{
		coordinator: coord,
		store:       st,
		logger:      logging.NewComponentLogger(logger, "parse"),
		contentDir:  cfg.Paths.ContentDir,
		sanitizer:   bluemonday.UGCPolicy(),
	}
}

func (p *Parse) Stage() store.Stage { return store.StageParse }

// Prepare checks the HTML artifact is present.
func (p *Parse) Prepare(_ context.Context, item *store.Item) error {
	if item.HTMLFilePath == "" {
		return services.Wrap(services.ErrPermanent, "parse", "prepare", "item has no html artifact", nil)
	}
	if _, err := os.Stat(item.HTMLFilePath); err != nil {
		return services.Wrap(services.ErrPermanent, "parse", "prepare", item.HTMLFilePath, err)
	}
	if err := os.MkdirAll(p.contentDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "parse", "prepare", "create content dir", err)
	}
	return nil
}

// Execute extracts the content and reports the parse metrics.
func (p *Parse) Execute(ctx context.Context, item *store.Item) error {
	raw, err := os.ReadFile(item.HTMLFilePath)
	if err != nil {
		return services.Wrap(services.ErrPermanent, "parse", "read html", item.HTMLFilePath, err)
	}

	selector := p.accountSelector(ctx, item.MPID)
	extracted, err := p.extract(string(raw), selector)
	if err != nil {
		return err
	}

	markdown, err := htmltomarkdown.ConvertString(extracted.contentHTML)
	if err != nil || strings.TrimSpace(markdown) == "" {
		// Fall back to the flattened text when conversion produces nothing.
		markdown = extracted.text
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return services.Wrap(services.ErrPermanent, "parse", "extract", "no textual content", nil)
	}

	contentPath := filepath.Join(p.contentDir, item.ID+".md")
	if err := os.WriteFile(contentPath, []byte(markdown), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "parse", "write content", contentPath, err)
	}

	result := store.ParseResult{
		ContentPath:   contentPath,
		ContentLength: int64(len(markdown)),
		WordCount:     countWords(markdown),
		ImageCount:    extracted.imageCount,
	}

	metadataPath := filepath.Join(p.contentDir, item.ID+".json")
	metadata := map[string]any{
		"id":             item.ID,
		"title":          firstNonEmpty(extracted.title, item.Title),
		"mp_id":          item.MPID,
		"content_length": result.ContentLength,
		"word_count":     result.WordCount,
		"image_count":    result.ImageCount,
		"parsed_at":      time.Now().UTC().Format(time.RFC3339),
	}
	if encoded, err := json.MarshalIndent(metadata, "", "  "); err == nil {
		if err := os.WriteFile(metadataPath, encoded, 0o644); err == nil {
			result.MetadataPath = metadataPath
		}
	}

	applied, err := p.coordinator.ReportParsed(ctx, item.ID, result)
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Debug("parse report ignored, item moved on",
			logging.String(logging.FieldItemID, item.ID))
	}
	return nil
}

// HealthCheck verifies the content directory is writable.
func (p *Parse) HealthCheck(context.Context) stage.Health {
	if err := os.MkdirAll(p.contentDir, 0o755); err != nil {
		return stage.Unhealthy("parse", fmt.Sprintf("content dir: %v", err))
	}
	return stage.Healthy("parse")
}

type extraction struct {
	title       string
	contentHTML string
	text        string
	imageCount  int64
}

// extract sanitizes the document and pulls the content node. The selector
// argument wins; otherwise the default selector chain applies.
func (p *Parse) extract(rawHTML, selector string) (extraction, error) {
	sanitized := p.sanitizer.Sanitize(rawHTML)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sanitized))
	if err != nil {
		return extraction{}, services.Wrap(services.ErrPermanent, "parse", "parse html", "", err)
	}
	doc.Find("script, style, noscript, iframe").Remove()

	var out extraction
	out.title = strings.TrimSpace(doc.Find("h1").First().Text())
	if out.title == "" {
		out.title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	selectors := contentSelectors
	if selector != "" {
		selectors = append([]string{selector}, contentSelectors...)
	}
	var content *goquery.Selection
	for _, sel := range selectors {
		candidate := doc.Find(sel).First()
		if candidate.Length() > 0 && strings.TrimSpace(candidate.Text()) != "" {
			content = candidate
			break
		}
	}
	if content == nil {
		return extraction{}, services.Wrap(services.ErrPermanent, "parse", "extract", "no content node", nil)
	}

	out.imageCount = int64(content.Find("img").Length())
	html, err := goquery.OuterHtml(content)
	if err != nil {
		return extraction{}, services.Wrap(services.ErrPermanent, "parse", "extract", "serialize content", err)
	}
	out.contentHTML = html
	out.text = strings.Join(strings.Fields(content.Text()), " ")
	return out, nil
}

// accountSelector loads the account's custom content selector, if any.
func (p *Parse) accountSelector(ctx context.Context, mpID string) string {
	if mpID == "" {
		return ""
	}
	account, err := p.store.GetAccount(ctx, mpID)
	if err != nil || account == nil || account.CustomSelectors == "" {
		return ""
	}
	var selectors map[string]string
	if err := yaml.Unmarshal([]byte(account.CustomSelectors), &selectors); err != nil {
		p.logger.Warn("invalid custom selectors",
			logging.String(logging.FieldAccount, mpID),
			logging.Error(err))
		return ""
	}
	return selectors["content"]
}

// countWords counts CJK runes individually and space-separated runs for
// everything else, over NFC-normalized text. Mixed-script articles get a
// stable count either way.
func countWords(text string) int64 {
	normalized := norm.NFC.String(text)
	var count int64
	inWord := false
	for _, r := range normalized {
		switch {
		case unicode.Is(unicode.Han, r):
			count++
			inWord = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
