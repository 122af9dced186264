package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"docchat/internal/config"
)

// Page is one crawled page, reduced to indexable text.
type Page struct {
	URL      string
	Title    string
	Text     string
	Filename string
}

// Crawler walks a site breadth-first, staying on the start host, and returns
// the text of each page worth indexing. Requests are rate limited.
type Crawler struct {
	client  *http.Client
	limiter *rate.Limiter
	maxPage int
	log     *zap.Logger
}

// New creates a crawler from configuration.
func New(cfg config.CrawlerConfig, logger *zap.Logger) *Crawler {
	return &Crawler{
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxPage: cfg.MaxPages,
		log:     logger,
	}
}

var (
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1Re      = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	dropRe    = regexp.MustCompile(`(?is)<(script|style|nav|footer|header|noscript)[^>]*>.*?</\s*(script|style|nav|footer|header|noscript)\s*>`)
	tagRe     = regexp.MustCompile(`(?s)<[^>]+>`)
	hrefRe    = regexp.MustCompile(`(?i)href\s*=\s*["']([^"'#]+)["']`)
	spaceRe   = regexp.MustCompile(`[ \t]+`)
	newlineRe = regexp.MustCompile(`\n{3,}`)
	unsafeRe  = regexp.MustCompile(`[^\w\-.]`)
)

// binary or otherwise non-indexable link targets
var skipExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico", ".webp",
	".css", ".js", ".zip", ".tar", ".gz", ".mp3", ".mp4", ".pdf",
	".woff", ".woff2", ".ttf", ".eot",
}

// Crawl fetches up to maxPages pages starting at startURL, breadth-first,
// never leaving the start host. Pages with less than 100 characters of text
// are dropped.
func (c *Crawler) Crawl(ctx context.Context, startURL string) ([]Page, error) {
	start, err := url.Parse(startURL)
	if err != nil || start.Scheme == "" || start.Host == "" {
		return nil, fmt.Errorf("invalid start url %q", startURL)
	}

	queue := []string{start.String()}
	visited := map[string]bool{normalizeURL(start): true}
	var pages []Page

	for len(queue) > 0 && len(pages) < c.maxPage {
		current := queue[0]
		queue = queue[1:]

		if err := c.limiter.Wait(ctx); err != nil {
			return pages, err
		}

		body, err := c.fetch(ctx, current)
		if err != nil {
			c.log.Debug("page fetch failed", zap.String("url", current), zap.Error(err))
			continue
		}

		title, text := extractText(body)
		if len([]rune(text)) >= 100 {
			pages = append(pages, Page{
				URL:      current,
				Title:    title,
				Text:     text,
				Filename: pageFilename(current),
			})
		} else {
			c.log.Debug("page too short, skipped", zap.String("url", current))
		}

		for _, link := range extractLinks(body, current, start.Host) {
			key := link.normalized
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, link.url)
		}
	}

	c.log.Info("crawl finished",
		zap.String("start", startURL),
		zap.Int("pages", len(pages)),
		zap.Int("visited", len(visited)),
	)
	return pages, nil
}

// fetch returns the page body, or an error for non-200 responses and
// non-HTML content types.
func (c *Crawler) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "docchat-crawler/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		return "", fmt.Errorf("content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// extractText strips boilerplate elements and tags, returning the page title
// and the visible text.
func extractText(body string) (string, string) {
	title := ""
	if m := titleRe.FindStringSubmatch(body); m != nil {
		title = strings.TrimSpace(tagRe.ReplaceAllString(m[1], ""))
	}

	cleaned := dropRe.ReplaceAllString(body, " ")
	if title == "" {
		if m := h1Re.FindStringSubmatch(cleaned); m != nil {
			title = strings.TrimSpace(tagRe.ReplaceAllString(m[1], ""))
		}
	}

	text := tagRe.ReplaceAllString(cleaned, "\n")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")

	text = spaceRe.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = newlineRe.ReplaceAllString(text, "\n\n")
	return title, strings.TrimSpace(text)
}

type link struct {
	url        string
	normalized string
}

// extractLinks resolves hrefs against the page URL, keeping only same-host
// http(s) links to indexable targets.
func extractLinks(body, pageURL, host string) []link {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []link
	for _, m := range hrefRe.FindAllStringSubmatch(body, -1) {
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if resolved.Host != host {
			continue
		}
		if hasSkippedExtension(resolved.Path) {
			continue
		}
		resolved.Fragment = ""
		links = append(links, link{url: resolved.String(), normalized: normalizeURL(resolved)})
	}
	return links
}

func hasSkippedExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// normalizeURL reduces a URL to scheme://host/path for visited tracking, so
// query and fragment variants of a page are fetched once.
func normalizeURL(u *url.URL) string {
	path := strings.TrimSuffix(u.Path, "/")
	return u.Scheme + "://" + u.Host + path
}

// pageFilename derives a stable synthetic filename for a crawled page.
func pageFilename(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "web_page.html"
	}
	name := "web_" + u.Host + "_" + strings.Trim(u.Path, "/")
	name = unsafeRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 100 {
		name = name[:100]
	}
	return name + ".html"
}
