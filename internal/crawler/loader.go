package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/corpus"
	"github.com/cellavenue/rag-backend/internal/crawler/firecrawl"
	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/pkg/config"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

// Loader pulls crawled pages from the provider, tags each with a page type
// and language derived from its URL, and writes one raw JSONL shard per
// crawl scope.
type Loader struct {
	Client      *firecrawl.Client
	SiteURL     string
	RawDir      string
	ManifestDir string
	Scopes      []config.CrawlScope
}

var policyPaths = []string{
	"/shipping-policy",
	"/returns-replacements",
	"/terms-and-conditions",
	"/privacy-policy",
	"/contact-us",
	"/about-us",
}

var campaignPaths = []string{
	"/home-05",
	"/honor",
	"/blackfriday-2025",
	"/valentine-2025",
	"/huawei-gt-6-series",
	"/honor-400-series",
	"/ar/honor",
	"/ar/%d8%a7%d9%84%d8%b1%d8%a6%d9%8a%d8%b3%d9%8a%d8%a9",
}

// PageTypeFromURL classifies a storefront URL. Product pages win over
// campaign paths since /product/ is checked first.
func PageTypeFromURL(url string) string {
	if strings.Contains(url, "/product/") {
		return "product"
	}
	for _, p := range policyPaths {
		if strings.Contains(url, p) {
			return "policy_support"
		}
	}
	if strings.Contains(url, "/product-category/") {
		return "category"
	}
	for _, p := range campaignPaths {
		if strings.Contains(url, p) {
			return "brand_campaign"
		}
	}
	return "other"
}

// LanguageFromURL prefers the /ar/ URL prefix, falling back to the
// provider-reported page language.
func LanguageFromURL(url string, metadataLanguage string) string {
	if strings.Contains(url, "/ar/") {
		return "ar"
	}
	if strings.HasPrefix(strings.ToLower(metadataLanguage), "ar") {
		return "ar"
	}
	return "en"
}

var defaultExcludes = []string{
	"/cart", "/checkout", "/my-account", "/login", "/logout", "/register",
	"/password-reset", "/wishlist", "/compare", "/profile-", "/thank-you",
	"/thanks", "/color-1/", "/kind/", "/product-tag/", "/capacity-gb/",
	"/author/", "/mobile_banners/", "/mobile_promotions/", "/screen_splashes/",
	"/page/",
}

// DefaultScopes covers the storefront's product pages and informational
// pages in both languages.
func DefaultScopes() []config.CrawlScope {
	return []config.CrawlScope{
		{
			Name:         "products_en",
			IncludePaths: []string{"/product/"},
			ExcludePaths: append(append([]string{}, defaultExcludes...), "/ar/"),
			Limit:        90,
		},
		{
			Name:         "products_ar",
			IncludePaths: []string{"/ar/product/"},
			ExcludePaths: defaultExcludes,
			Limit:        90,
		},
		{
			Name: "pages_en",
			IncludePaths: append(append([]string{}, policyPaths...),
				"/home-05", "/honor", "/product-category/",
				"/blackfriday-2025", "/valentine-2025",
				"/huawei-gt-6-series", "/honor-400-series",
			),
			ExcludePaths: append(append([]string{}, defaultExcludes...), "/ar/"),
			Limit:        40,
		},
		{
			Name: "pages_ar",
			IncludePaths: []string{
				"/ar/honor",
				"/ar/%d8%a7%d9%84%d8%b1%d8%a6%d9%8a%d8%b3%d9%8a%d8%a9",
				"/ar/product-category/",
				"/ar/%d8%a7%d9%84%d8%a3%d8%ad%d9%83%d8%a7%d9%85-%d9%88%d8%a7%d9%84%d8%b4%d8%b1%d9%88%d8%b7",
			},
			ExcludePaths: defaultExcludes,
			Limit:        40,
		},
	}
}

// Run crawls every configured scope. A scope whose shard already exists and
// is non-empty is skipped, which makes re-runs cheap after a partial failure.
func (l *Loader) Run(ctx context.Context, only []string) error {
	if err := os.MkdirAll(l.RawDir, 0755); err != nil {
		return fmt.Errorf("failed to create raw dir: %w", err)
	}
	if err := os.MkdirAll(l.ManifestDir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}

	scopes := l.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	manifest := models.CrawlManifest{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for _, scope := range scopes {
		if len(wanted) > 0 && !wanted[scope.Name] {
			continue
		}

		outPath := filepath.Join(l.RawDir, scope.Name+".jsonl")
		if info, err := os.Stat(outPath); err == nil && info.Size() > 0 {
			logger.Info("Scope shard exists, skipping", zap.String("scope", scope.Name))
			manifest.Scopes = append(manifest.Scopes, models.CrawlScopeResult{
				Name:       scope.Name,
				Status:     "skipped_existing",
				OutputFile: outPath,
			})
			continue
		}

		result, err := l.crawlScope(ctx, scope, outPath)
		if err != nil {
			return fmt.Errorf("scope %s: %w", scope.Name, err)
		}
		manifest.Scopes = append(manifest.Scopes, result)
	}

	manifestPath := filepath.Join(l.ManifestDir, "raw_load_manifest.json")
	if err := corpus.WriteManifest(manifestPath, manifest); err != nil {
		return err
	}

	total := 0
	for _, s := range manifest.Scopes {
		total += s.SavedRows
	}
	logger.Info("Crawl run finished",
		zap.Int("scopes", len(manifest.Scopes)),
		zap.Int("saved_rows", total),
		zap.String("manifest", manifestPath),
	)

	return nil
}

func (l *Loader) crawlScope(ctx context.Context, scope config.CrawlScope, outPath string) (models.CrawlScopeResult, error) {
	logger.Info("Crawling scope", zap.String("scope", scope.Name), zap.Int("limit", scope.Limit))

	req := firecrawl.CrawlRequest{
		URL:                l.SiteURL,
		IncludePaths:       scope.IncludePaths,
		ExcludePaths:       scope.ExcludePaths,
		Limit:              scope.Limit,
		MaxDiscoveryDepth:  4,
		AllowExternalLinks: false,
		ScrapeOptions: firecrawl.ScrapeOptions{
			Formats:            []string{"markdown"},
			OnlyMainContent:    true,
			RemoveBase64Images: true,
		},
	}

	status, err := l.Client.StartCrawl(ctx, req)
	if err != nil {
		return models.CrawlScopeResult{}, err
	}

	crawlID := status.ID
	if !firecrawl.IsTerminal(status.Status) {
		status, err = l.Client.PollUntilComplete(ctx, crawlID)
		if err != nil {
			return models.CrawlScopeResult{}, err
		}
	}

	w, err := corpus.NewShardWriter(outPath)
	if err != nil {
		return models.CrawlScopeResult{}, err
	}
	defer w.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	saved := 0
	for _, item := range status.Data {
		if item.Markdown == "" {
			continue
		}

		url := item.Metadata.SourceURL
		if url == "" {
			url = item.Metadata.URL
		}

		page := models.Page{
			URL:        url,
			Title:      item.Metadata.Title,
			Language:   LanguageFromURL(url, item.Metadata.Language),
			PageType:   PageTypeFromURL(url),
			Markdown:   item.Markdown,
			CrawledAt:  now,
			CrawlJobID: crawlID,
		}
		if err := w.Write(page); err != nil {
			return models.CrawlScopeResult{}, err
		}
		saved++
	}

	if err := w.Close(); err != nil {
		return models.CrawlScopeResult{}, fmt.Errorf("failed to finalize shard: %w", err)
	}

	logger.Info("Scope crawled",
		zap.String("scope", scope.Name),
		zap.String("status", status.Status),
		zap.Int("saved_rows", saved),
	)

	return models.CrawlScopeResult{
		Name:       scope.Name,
		CrawlID:    crawlID,
		Status:     status.Status,
		Completed:  status.Completed,
		Total:      status.Total,
		SavedRows:  saved,
		OutputFile: outPath,
	}, nil
}
