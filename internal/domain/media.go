package domain

import "net/http"

// MediaKind is the kind of media an engine retrieved.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// DownloadResult is what an engine returns for a source URL.
// Payloads may be empty; SourceURLs is always non-empty and usable as a
// fallback link.
type DownloadResult struct {
	MediaKind  MediaKind
	Payloads   [][]byte
	SourceURLs []string
}

// LinkOnly builds a result carrying no payload, only the source URL.
func LinkOnly(url string) *DownloadResult {
	return &DownloadResult{MediaKind: MediaVideo, SourceURLs: []string{url}}
}

// HasPayload reports whether there is at least one binary payload to attach.
func (r *DownloadResult) HasPayload() bool {
	return r != nil && len(r.Payloads) > 0
}

// TotalSize is the summed size of all payloads in bytes.
func (r *DownloadResult) TotalSize() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, p := range r.Payloads {
		n += len(p)
	}
	return n
}

// Destination is where one delivery goes on each platform.
type Destination struct {
	Username      string
	ChannelID     string
	AudienceTagID *string
}

// Delivery is the unit handed to each platform adapter.
type Delivery struct {
	JobID        string
	Notification Notification
	Media        *DownloadResult
	Destination  Destination
	SourceLabel  string
}

// Links returns the URLs to show when media cannot be attached.
func (d Delivery) Links() []string {
	if d.Media != nil && len(d.Media.SourceURLs) > 0 {
		return d.Media.SourceURLs
	}
	return []string{d.Notification.URL}
}

// Topic is a secondary-platform forum thread.
type Topic struct {
	ID    string
	Title string
}

// SniffMedia returns the MIME type and file extension for a payload,
// falling back to the kind's default when the bytes are not recognised.
func SniffMedia(kind MediaKind, payload []byte) (contentType, ext string) {
	ct := http.DetectContentType(payload)
	switch ct {
	case "video/mp4":
		return ct, ".mp4"
	case "video/webm":
		return ct, ".webm"
	case "image/jpeg":
		return ct, ".jpg"
	case "image/png":
		return ct, ".png"
	case "image/gif":
		return ct, ".gif"
	case "image/webp":
		return ct, ".webp"
	}
	if kind == MediaImage {
		return "image/jpeg", ".jpg"
	}
	return "video/mp4", ".mp4"
}
