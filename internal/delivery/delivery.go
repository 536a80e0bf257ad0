package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// Adapter delivers one job's content to one platform.
// The processor calls both adapters concurrently and records each outcome
// independently; an adapter failure never aborts the other.
type Adapter interface {
	Platform() domain.Platform
	Deliver(ctx context.Context, d domain.Delivery) error
}

// Limiter is satisfied by *ratelimiter.PlatformLimiters.
type Limiter interface {
	Wait(ctx context.Context, p domain.Platform) error
}

type noLimit struct{}

func (noLimit) Wait(context.Context, domain.Platform) error { return nil }

func orNoLimit(l Limiter) Limiter {
	if l == nil {
		return noLimit{}
	}
	return l
}

// headline is the one-line summary shown above every delivery.
func headline(n domain.Notification) string {
	switch n.ContentType {
	case domain.ContentLive:
		return fmt.Sprintf("🔴 %s is live now", n.Username)
	case domain.ContentVideo:
		return fmt.Sprintf("🎬 New video from %s", n.Username)
	case domain.ContentPhoto:
		return fmt.Sprintf("🖼️ New photo post from %s", n.Username)
	default:
		return fmt.Sprintf("📣 New post from %s", n.Username)
	}
}

// linkText renders the headline followed by one link per line.
func linkText(d domain.Delivery) string {
	var b strings.Builder
	b.WriteString(headline(d.Notification))
	for _, l := range d.Links() {
		b.WriteString("\n")
		b.WriteString(l)
	}
	return b.String()
}

func wrap(p domain.Platform, err error) error {
	if err == nil {
		return nil
	}
	return &domain.DeliveryError{Platform: p, Cause: err}
}
