package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// cobaltQualities are the accepted video quality variants.
var cobaltQualities = map[string]bool{
	"144": true, "240": true, "360": true, "480": true, "720": true,
	"1080": true, "1440": true, "2160": true, "4320": true, "max": true,
}

type cobaltRequest struct {
	URL          string `json:"url"`
	VideoQuality string `json:"videoQuality,omitempty"`
}

type cobaltPickerItem struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type cobaltResponse struct {
	Status   string             `json:"status"`
	URL      string             `json:"url"`
	Filename string             `json:"filename"`
	Picker   []cobaltPickerItem `json:"picker"`
	Error    *struct {
		Code string `json:"code"`
	} `json:"error"`
}

// CobaltEngine resolves media through a cobalt-compatible JSON API and then
// fetches the files it points at. Picker responses (photo carousels) become
// multi-payload image results. The variant is the video quality.
type CobaltEngine struct {
	apiURL   string
	apiKey   string
	quality  string
	client   *http.Client
	minBytes int
	maxBytes int64
}

func NewCobaltEngine(apiURL, apiKey string, timeout time.Duration, minBytes int) *CobaltEngine {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &CobaltEngine{
		apiURL:   apiURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		minBytes: minBytes,
		maxBytes: DefaultMaxBytes,
	}
}

func (e *CobaltEngine) Name() string { return "cobalt" }

func (e *CobaltEngine) WithVariant(variant string) (Engine, error) {
	if !cobaltQualities[variant] {
		return nil, fmt.Errorf("%w: quality %q", ErrBadVariant, variant)
	}
	cp := *e
	cp.quality = variant
	return &cp, nil
}

func (e *CobaltEngine) Download(ctx context.Context, url string) (*domain.DownloadResult, error) {
	if e.apiURL == "" {
		return nil, fmt.Errorf("cobalt api url is not configured")
	}

	resolved, err := e.resolve(ctx, url)
	if err != nil {
		return nil, err
	}

	switch resolved.Status {
	case "tunnel", "redirect":
		body, ct, err := fetch(ctx, e.client, resolved.URL, e.maxBytes)
		if err != nil {
			return nil, err
		}
		if err := checkSize(body, e.minBytes); err != nil {
			return nil, err
		}
		kind, err := kindOf(ct, resolved.Filename, body)
		if err != nil {
			return nil, err
		}
		return &domain.DownloadResult{
			MediaKind:  kind,
			Payloads:   [][]byte{body},
			SourceURLs: []string{url},
		}, nil

	case "picker":
		if len(resolved.Picker) == 0 {
			return nil, ErrNoMedia
		}
		// A set counts as video only when every item is one.
		res := &domain.DownloadResult{MediaKind: domain.MediaVideo}
		for _, item := range resolved.Picker {
			body, _, err := fetch(ctx, e.client, item.URL, e.maxBytes)
			if err != nil {
				return nil, fmt.Errorf("picker item: %w", err)
			}
			if err := checkSize(body, e.minBytes); err != nil {
				return nil, err
			}
			if item.Type != "video" {
				res.MediaKind = domain.MediaImage
			}
			res.Payloads = append(res.Payloads, body)
			res.SourceURLs = append(res.SourceURLs, item.URL)
		}
		return res, nil

	case "error":
		code := "unknown"
		if resolved.Error != nil {
			code = resolved.Error.Code
		}
		return nil, fmt.Errorf("cobalt error: %s", code)
	}
	return nil, fmt.Errorf("unexpected cobalt status %q", resolved.Status)
}

func (e *CobaltEngine) resolve(ctx context.Context, url string) (*cobaltResponse, error) {
	body, err := json.Marshal(cobaltRequest{URL: url, VideoQuality: e.quality})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Api-Key "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var out cobaltResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return &out, nil
}

var (
	_ Engine           = (*CobaltEngine)(nil)
	_ VariantSupporter = (*CobaltEngine)(nil)
)
