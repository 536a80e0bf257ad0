package domain

import (
	"strings"
)

// ContentType classifies what a notification announces.
type ContentType string

const (
	ContentLive    ContentType = "live"
	ContentVideo   ContentType = "video"
	ContentPhoto   ContentType = "photo"
	ContentUnknown ContentType = "unknown"
)

func (c ContentType) IsValid() bool {
	switch c {
	case ContentLive, ContentVideo, ContentPhoto, ContentUnknown:
		return true
	}
	return false
}

// Notification is the structured event extracted from an inbound message.
// It is never persisted on its own; a snapshot travels inside the job payload.
type Notification struct {
	Username    string      `json:"username"`
	URL         string      `json:"url"`
	ContentType ContentType `json:"content_type"`
}

// ClassifyURL infers the content type from the shape of a source URL.
func ClassifyURL(url string) ContentType {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "/live"):
		return ContentLive
	case strings.Contains(u, "/video/"):
		return ContentVideo
	case strings.Contains(u, "/photo/"):
		return ContentPhoto
	}
	return ContentUnknown
}

func (n Notification) Validate() error {
	if strings.TrimSpace(n.Username) == "" {
		return ErrInvalidUsername
	}
	if !strings.HasPrefix(n.URL, "http://") && !strings.HasPrefix(n.URL, "https://") {
		return ErrInvalidURL
	}
	if !n.ContentType.IsValid() {
		return ErrInvalidContentType
	}
	return nil
}
