package reader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/net/html"
)

const maxPageBytes = 2 << 20

// WebsiteReader crawls breadth first from a URL, staying on the same host.
// The start page is depth 1; at most MaxLinks pages are fetched.
type WebsiteReader struct {
	Client       *http.Client
	MaxLinks     int
	MaxDepth     int
	ChunkSize    int
	ChunkOverlap int
}

var _ Reader = (*WebsiteReader)(nil)

type crawlItem struct {
	url   string
	depth int
}

func (r *WebsiteReader) Read(ctx context.Context, src Source) ([]*schema.Document, error) {
	if src.Kind != KindURL {
		return nil, ErrUnsupportedSource
	}
	start, err := url.Parse(strings.TrimSpace(src.URL))
	if err != nil || start.Host == "" || (start.Scheme != "http" && start.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", src.URL)
	}

	maxLinks := r.MaxLinks
	if maxLinks <= 0 {
		maxLinks = 1
	}
	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	queue := []crawlItem{{url: start.String(), depth: 1}}
	queued := map[string]bool{start.String(): true}
	fetched := 0
	var docs []*schema.Document

	for len(queue) > 0 && fetched < maxLinks {
		item := queue[0]
		queue = queue[1:]

		text, links, err := r.fetch(ctx, item.url)
		if err != nil {
			if fetched == 0 && item.depth == 1 {
				return nil, err
			}
			continue
		}
		fetched++
		docs = append(docs, chunkDocuments(item.url, text, r.ChunkSize, r.ChunkOverlap, map[string]any{
			"url": item.url,
		})...)

		if item.depth >= maxDepth {
			continue
		}
		for _, link := range links {
			u, err := url.Parse(link)
			if err != nil || u.Host != start.Host {
				continue
			}
			u.Fragment = ""
			if queued[u.String()] {
				continue
			}
			queued[u.String()] = true
			queue = append(queue, crawlItem{url: u.String(), depth: item.depth + 1})
		}
	}
	return docs, nil
}

func (r *WebsiteReader) fetch(ctx context.Context, pageURL string) (string, []string, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build page request failed: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; localrag/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch page failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("fetch page %s: HTTP %d", pageURL, resp.StatusCode)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return "", nil, fmt.Errorf("read page failed: %w", err)
		}
		return collapseSpace(string(raw)), nil, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", nil, fmt.Errorf("parse page failed: %w", err)
	}
	base := resp.Request.URL
	var sb strings.Builder
	var links []string
	walk(doc, base, &sb, &links, 0)
	return collapseSpace(sb.String()), links, nil
}

func walk(n *html.Node, base *url.URL, sb *strings.Builder, links *[]string, depth int) {
	if depth > 200 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return
		case "a":
			if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				if u, err := base.Parse(href); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
					*links = append(*links, u.String())
				}
			}
		case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, base, sb, links, depth+1)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collapseSpace squeezes runs of blanks within a line and drops empty lines.
func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
