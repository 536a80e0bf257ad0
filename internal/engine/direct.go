package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// DirectEngine downloads URLs that already point at a media file.
type DirectEngine struct {
	client   *http.Client
	minBytes int
	maxBytes int64
}

func NewDirectEngine(timeout time.Duration, minBytes int) *DirectEngine {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &DirectEngine{
		client:   &http.Client{Timeout: timeout},
		minBytes: minBytes,
		maxBytes: DefaultMaxBytes,
	}
}

func (e *DirectEngine) Name() string { return "direct" }

func (e *DirectEngine) Download(ctx context.Context, url string) (*domain.DownloadResult, error) {
	body, ct, err := fetch(ctx, e.client, url, e.maxBytes)
	if err != nil {
		return nil, err
	}
	kind, err := kindOf(ct, url, body)
	if err != nil {
		return nil, err
	}
	if err := checkSize(body, e.minBytes); err != nil {
		return nil, err
	}
	return &domain.DownloadResult{
		MediaKind:  kind,
		Payloads:   [][]byte{body},
		SourceURLs: []string{url},
	}, nil
}

// compile-time check that DirectEngine implements Engine
var _ Engine = (*DirectEngine)(nil)
