package engine

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/notifyhub/creator-relay/internal/domain"
)

const (
	// DefaultMinBytes is the smallest payload accepted as real media.
	DefaultMinBytes = 10 * 1024
	// DefaultMaxBytes caps how much a single payload may be.
	DefaultMaxBytes = 200 << 20
)

var (
	ErrCorrupted  = errors.New("payload implausibly small, treating as corrupted")
	ErrTooLarge   = errors.New("payload exceeds engine size limit")
	ErrNotMedia   = errors.New("response is not video or image content")
	ErrNoMedia    = errors.New("engine produced no media")
	ErrBadVariant = errors.New("unsupported engine variant")
)

func checkSize(b []byte, minBytes int) error {
	if len(b) < minBytes {
		return fmt.Errorf("%w: %d bytes < %d", ErrCorrupted, len(b), minBytes)
	}
	return nil
}

// kindOf resolves the media kind from a content type, a file name, or by
// sniffing the payload, in that order.
func kindOf(contentType, name string, payload []byte) (domain.MediaKind, error) {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "video/"):
		return domain.MediaVideo, nil
	case strings.HasPrefix(ct, "image/"):
		return domain.MediaImage, nil
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".webm", ".mov", ".mkv", ".m4v":
		return domain.MediaVideo, nil
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".heic":
		return domain.MediaImage, nil
	}

	sniffed := http.DetectContentType(payload)
	switch {
	case strings.HasPrefix(sniffed, "video/"):
		return domain.MediaVideo, nil
	case strings.HasPrefix(sniffed, "image/"):
		return domain.MediaImage, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotMedia, sniffed)
}
