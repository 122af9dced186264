package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docchat/internal/config"
)

func testCrawler(maxPages int) *Crawler {
	return New(config.CrawlerConfig{MaxPages: maxPages, RequestsPerSecond: 1000}, zap.NewNop())
}

func longText(label string) string {
	return fmt.Sprintf("<p>%s %s</p>", label, strings.Repeat("content word ", 20))
}

func TestCrawlFollowsSameHostLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Home</title></head><body>
			%s
			<a href="/about">About</a>
			<a href="https://elsewhere.example.com/off-site">Off site</a>
		</body></html>`, longText("home"))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>About</title></head><body>%s</body></html>`, longText("about"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pages, err := testCrawler(10).Crawl(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Home", pages[0].Title)
	assert.Equal(t, "About", pages[1].Title)
	assert.Contains(t, pages[0].Text, "home")
	assert.NotContains(t, pages[0].Text, "<a")
}

func TestCrawlRespectsMaxPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var links strings.Builder
		for i := 0; i < 10; i++ {
			fmt.Fprintf(&links, `<a href="/page/%d">p%d</a>`, i, i)
		}
		fmt.Fprintf(w, `<html><body>%s%s</body></html>`, longText("index"), links.String())
	})
	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>%s</body></html>`, longText(r.URL.Path))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pages, err := testCrawler(3).Crawl(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, pages, 3)
}

func TestCrawlSkipsShortPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>%s<a href="/stub">stub</a></body></html>`, longText("index"))
	})
	mux.HandleFunc("/stub", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>tiny</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pages, err := testCrawler(10).Crawl(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].Text, "index")
}

func TestCrawlSkipsNonHTML(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>%s<a href="/data">data</a></body></html>`, longText("index"))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"lots":"`+strings.Repeat("x", 300)+`"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pages, err := testCrawler(10).Crawl(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, pages, 1)
}

func TestCrawlVisitsQueryVariantsOnce(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>%s
			<a href="/doc">one</a>
			<a href="/doc?ref=nav">two</a>
			<a href="/doc#section">three</a>
		</body></html>`, longText("index"))
	})
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprintf(w, `<html><body>%s</body></html>`, longText("doc"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pages, err := testCrawler(10).Crawl(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, 1, hits)
}

func TestExtractTextStripsBoilerplate(t *testing.T) {
	title, text := extractText(`<html><head>
		<title>Docs</title>
		<style>body { color: red }</style>
		<script>alert("hi")</script>
	</head><body>
		<nav><a href="/">Nav link</a></nav>
		<p>Real &amp; visible content</p>
		<footer>Footer junk</footer>
	</body></html>`)

	assert.Equal(t, "Docs", title)
	assert.Contains(t, text, "Real & visible content")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "Nav link")
	assert.NotContains(t, text, "Footer junk")
}

func TestExtractTextTitleFallsBackToH1(t *testing.T) {
	title, _ := extractText(`<html><body><h1>Heading Title</h1><p>body</p></body></html>`)
	assert.Equal(t, "Heading Title", title)
}

func TestPageFilename(t *testing.T) {
	assert.Equal(t, "web_docs.example.com_guide_intro.html",
		pageFilename("https://docs.example.com/guide/intro"))
	assert.Equal(t, "web_example.com.html", pageFilename("https://example.com/"))

	long := "https://example.com/" + strings.Repeat("segment/", 30)
	name := pageFilename(long)
	assert.LessOrEqual(t, len(name), 105)
	assert.True(t, strings.HasSuffix(name, ".html"))
}

func TestHasSkippedExtension(t *testing.T) {
	assert.True(t, hasSkippedExtension("/logo.PNG"))
	assert.True(t, hasSkippedExtension("/bundle.js"))
	assert.False(t, hasSkippedExtension("/guide"))
	assert.False(t, hasSkippedExtension("/page.html"))
}

func TestNormalizeURL(t *testing.T) {
	u, _ := url.Parse("https://example.com/docs/?q=1#top")
	assert.Equal(t, "https://example.com/docs", normalizeURL(u))
}
