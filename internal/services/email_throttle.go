package services

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ThrottledEmailService limits the send rate of another transport to stay
// within provider quotas (SES sandbox allows 1/s, production accounts 14/s by default).
type ThrottledEmailService struct {
	next    EmailService
	limiter *rate.Limiter
}

// NewThrottledEmailService wraps next with a token bucket of perSecond and burst.
// A non-positive perSecond returns next unchanged.
func NewThrottledEmailService(next EmailService, perSecond float64, burst int) EmailService {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledEmailService{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *ThrottledEmailService) Configured() bool {
	return t.next.Configured()
}

// Send waits for a token, or for ctx to end, then delegates.
func (t *ThrottledEmailService) Send(ctx context.Context, msg Message) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// The limiter refuses up front when the wait would outlast the deadline
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", fmt.Errorf("email send throttled: %w", err)
	}
	return t.next.Send(ctx, msg)
}
