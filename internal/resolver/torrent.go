package resolver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/zeebo/bencode"
	"golang.org/x/time/rate"

	"releasebot/pkg/logx"
)

// torrentResolver fetches the detail reference as a .torrent file and builds
// a canonical magnet link from its metadata.
type torrentResolver struct {
	client *http.Client
	pacer  *rate.Limiter
	log    logx.Logger
}

// metaInfo keeps the info dictionary as raw bencode: the info hash is the
// SHA-1 of those exact bytes, so they must not be re-encoded.
type metaInfo struct {
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	Info         bencode.RawMessage `bencode:"info"`
}

type infoDict struct {
	Name string `bencode:"name"`
}

func (r *torrentResolver) Resolve(ctx context.Context, title, pageURL string) (string, error) {
	body, err := fetch(ctx, r.client, r.pacer, pageURL)
	if err != nil {
		return "", err
	}

	link, err := magnetFromTorrent(body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", title, err)
	}
	r.log.Debug("magnet resolved", logx.String("title", title))
	return link, nil
}

func magnetFromTorrent(data []byte) (string, error) {
	var meta metaInfo
	if err := bencode.DecodeBytes(data, &meta); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(meta.Info) == 0 {
		return "", fmt.Errorf("%w: missing info dictionary", ErrMalformedPayload)
	}

	var info infoDict
	if err := bencode.DecodeBytes(meta.Info, &info); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	hash := sha1.Sum(meta.Info)

	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hex.EncodeToString(hash[:]))
	if info.Name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(info.Name))
	}
	for _, tr := range trackers(meta) {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String(), nil
}

// trackers flattens announce + announce-list, de-duplicated in order.
func trackers(meta metaInfo) []string {
	seen := map[string]struct{}{}
	var out []string
	push := func(tr string) {
		tr = strings.TrimSpace(tr)
		if tr == "" {
			return
		}
		if _, dup := seen[tr]; dup {
			return
		}
		seen[tr] = struct{}{}
		out = append(out, tr)
	}

	push(meta.Announce)
	for _, tier := range meta.AnnounceList {
		for _, tr := range tier {
			push(tr)
		}
	}
	return out
}
