package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrRetriesExhausted wraps the last overload error once the retry budget
// is spent.
var ErrRetriesExhausted = errors.New("model still overloaded after retries")

// IsOverloaded reports whether err is a transient "service overloaded"
// condition from a hosted model.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown && s.Code() != codes.OK {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted:
			return true
		}
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return overloadStatus(gerr.Code)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return overloadStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return overloadStatus(reqErr.HTTPStatusCode)
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "503")
}

func overloadStatus(code int) bool {
	return code == http.StatusServiceUnavailable || code == http.StatusTooManyRequests || code == 529
}

// Retrier re-runs an operation that failed with an overload error, waiting
// BaseDelay, 2*BaseDelay, 4*BaseDelay, ... between attempts. Any other error
// is returned immediately.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
}

func NewRetrier(maxRetries int, baseDelay time.Duration) *Retrier {
	return &Retrier{MaxRetries: maxRetries, BaseDelay: baseDelay, Sleep: sleepCtx}
}

func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsOverloaded(err) {
			return err
		}
		if attempt >= r.MaxRetries {
			break
		}
		delay := r.BaseDelay * time.Duration(1<<uint(attempt))
		slog.Warn("model overloaded, retrying", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRetriesExhausted, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
