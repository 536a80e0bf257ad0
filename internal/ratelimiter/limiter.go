package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// PlatformLimiters holds one token bucket per delivery platform.
// Burst equals the rate so no saved-up burst exceeds the per-second maximum.
type PlatformLimiters struct {
	limiters map[domain.Platform]*rate.Limiter
}

// New creates limiters allowing primaryPerSec and secondaryPerSec sends per
// second. A non-positive rate disables limiting for that platform.
func New(primaryPerSec, secondaryPerSec int) *PlatformLimiters {
	return &PlatformLimiters{
		limiters: map[domain.Platform]*rate.Limiter{
			domain.PlatformPrimary:   newLimiter(primaryPerSec),
			domain.PlatformSecondary: newLimiter(secondaryPerSec),
		},
	}
}

func newLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

// Wait blocks until the platform's limiter grants a token.
// Called by each adapter immediately before an outbound send.
// Returns a non-nil error only if ctx is cancelled while waiting.
// A nil receiver never blocks.
func (pl *PlatformLimiters) Wait(ctx context.Context, p domain.Platform) error {
	if pl == nil {
		return nil
	}
	l, ok := pl.limiters[p]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
