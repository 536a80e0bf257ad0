package forwarder

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// ErrNoMatch means no recognizer found a notification in the message.
var ErrNoMatch = errors.New("no notification recognized")

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)

	// "jane_doe is live", "@jane_doe went live now", "jane_doe is now LIVE"
	livePattern = regexp.MustCompile(`(?i)@?([a-z0-9_.]+)\s+(?:is|went)\s+(?:now\s+)?live\b`)

	// https://platform.example/@jane_doe/video/123
	profilePattern = regexp.MustCompile(`https?://[^\s<>()\[\]"']*/@([A-Za-z0-9_.]+)[^\s<>()\[\]"']*`)
)

type recognizer func(text string) (domain.Notification, bool)

// recognizers run in order; the first hit wins.
var recognizers = []recognizer{
	recognizeLive,
	recognizeProfileURL,
}

// Recognize extracts a notification from free-form message text.
func Recognize(text string) (domain.Notification, error) {
	for _, r := range recognizers {
		if n, ok := r(text); ok {
			return n, nil
		}
	}
	return domain.Notification{}, ErrNoMatch
}

func recognizeLive(text string) (domain.Notification, bool) {
	m := livePattern.FindStringSubmatch(text)
	if m == nil {
		return domain.Notification{}, false
	}
	url := firstURL(text)
	if url == "" {
		return domain.Notification{}, false
	}
	username := strings.Trim(m[1], ".")
	if u := profilePattern.FindStringSubmatch(url); u != nil {
		username = u[1]
	}
	return domain.Notification{Username: username, URL: url, ContentType: domain.ContentLive}, true
}

func recognizeProfileURL(text string) (domain.Notification, bool) {
	m := profilePattern.FindStringSubmatch(text)
	if m == nil {
		return domain.Notification{}, false
	}
	url := trimURL(m[0])
	return domain.Notification{Username: m[1], URL: url, ContentType: domain.ClassifyURL(url)}, true
}

func firstURL(text string) string {
	return trimURL(urlPattern.FindString(text))
}

// trimURL drops sentence punctuation that commonly trails a pasted link.
func trimURL(u string) string {
	return strings.TrimRight(u, ".,;:!?")
}

// Sanitize derives a channel name from a username: lowercase letters only.
func Sanitize(username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
