package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"releasebot/pkg/logx"
)

// ErrMalformedPayload is returned by the torrent strategy when the detail
// reference does not decode as bencode metainfo.
var ErrMalformedPayload = errors.New("malformed torrent payload")

// NotFoundError is returned by the scrape strategy when the detail page holds
// no magnet link. The raw page is saved for operator inspection; the path is
// carried so it can be surfaced in the delivered notification text.
type NotFoundError struct {
	ArtifactPath string
}

func (e *NotFoundError) Error() string {
	return "no magnet link found, page saved to " + e.ArtifactPath
}

// Resolver turns a release's detail reference into a magnet link. Resolution
// happens once per release per dispatch cycle; the result is reused for every
// recipient.
type Resolver interface {
	Resolve(ctx context.Context, title, pageURL string) (string, error)
}

type Config struct {
	// Strategy is fixed per deployment: "torrent" (structured .torrent parse)
	// or "scrape" (HTML extraction).
	Strategy string

	// CourtesyDelay spaces out detail-page fetches so the upstream site is
	// not hammered during a release burst.
	CourtesyDelay time.Duration

	FetchTimeout time.Duration

	// ArtifactDir receives raw pages the scrape strategy failed on.
	ArtifactDir string
}

const (
	defaultCourtesyDelay = time.Second
	defaultFetchTimeout  = 30 * time.Second
)

// New selects the resolution strategy from config.
func New(cfg Config, log logx.Logger) (Resolver, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.CourtesyDelay <= 0 {
		cfg.CourtesyDelay = defaultCourtesyDelay
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	client := &http.Client{Timeout: cfg.FetchTimeout}
	pacer := rate.NewLimiter(rate.Every(cfg.CourtesyDelay), 1)

	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", "torrent":
		return &torrentResolver{client: client, pacer: pacer, log: log}, nil
	case "scrape":
		if strings.TrimSpace(cfg.ArtifactDir) == "" {
			return nil, errors.New("resolver.artifact_dir is required for scrape strategy")
		}
		return &scrapeResolver{client: client, pacer: pacer, dir: cfg.ArtifactDir, log: log}, nil
	default:
		return nil, errors.New("unknown resolver strategy: " + cfg.Strategy)
	}
}

// fetch GETs the detail reference after waiting for the shared pacer token.
func fetch(ctx context.Context, client *http.Client, pacer *rate.Limiter, url string) ([]byte, error) {
	if err := pacer.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return body, nil
}
