package resolver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"releasebot/pkg/logx"
)

// scrapeResolver fetches the detail reference as HTML and extracts the first
// embedded magnet URI. When the page has no magnet anchor, the raw document
// is saved under the artifact directory so an operator can inspect what the
// site actually served.
type scrapeResolver struct {
	client *http.Client
	pacer  *rate.Limiter
	dir    string
	log    logx.Logger
}

func (r *scrapeResolver) Resolve(ctx context.Context, title, pageURL string) (string, error) {
	body, err := fetch(ctx, r.client, r.pacer, pageURL)
	if err != nil {
		return "", err
	}

	if link, ok := findMagnet(body); ok {
		r.log.Debug("magnet scraped", logx.String("title", title))
		return link, nil
	}

	path, werr := saveArtifact(r.dir, title, body)
	if werr != nil {
		// The artifact is operator convenience; resolution already failed.
		r.log.Error("failed saving scrape artifact", logx.String("title", title), logx.Err(werr))
		return "", fmt.Errorf("no magnet link found on %s (artifact not saved: %v)", pageURL, werr)
	}
	r.log.Warn("no magnet link on detail page",
		logx.String("title", title), logx.String("artifact", path))
	return "", &NotFoundError{ArtifactPath: path}
}

// findMagnet walks the document for the first anchor whose href is a magnet URI.
func findMagnet(doc []byte) (string, bool) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		// html.Parse is extremely lenient; treat a hard failure as "no match".
		return "", false
	}

	var walk func(n *html.Node) (string, bool)
	walk = func(n *html.Node) (string, bool) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasPrefix(attr.Val, "magnet:?") {
					return attr.Val, true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if link, ok := walk(c); ok {
				return link, true
			}
		}
		return "", false
	}
	return walk(root)
}

// saveArtifact writes the raw page bytes to a uniquely named file. The clock
// suffix keeps repeated failures for the same title from colliding.
func saveArtifact(dir, title string, body []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := sanitizeFilename(title) + "-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".html"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeFilename(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if mapped == "" {
		mapped = "untitled"
	}
	const maxBase = 120
	if len(mapped) > maxBase {
		mapped = mapped[:maxBase]
	}
	return mapped
}
