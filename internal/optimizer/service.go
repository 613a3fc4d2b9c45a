package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spachava753/cellopt/internal/models"
	"github.com/spachava753/cellopt/internal/retry"
)

// ErrNotReady is returned by Suggest while the service is still computing
// the next batch.
var ErrNotReady = errors.New("suggestions not ready")

// Session is an initialized optimization. Config holds the configuration as
// resolved by the service, which may differ from the one submitted.
type Session struct {
	ID     string `json:"id"`
	Config Config `json:"config"`
}

// Service is a hosted black-box optimizer.
type Service interface {
	// Initialize submits cfg and starts a new optimization.
	Initialize(ctx context.Context, cfg Config) (*Session, error)

	// Suggest polls once for the next batch. It returns ErrNotReady when
	// the service has nothing yet.
	Suggest(ctx context.Context, s *Session) ([]*models.Suggestion, error)

	// ReportMeasurements sends measured suggestions back.
	ReportMeasurements(ctx context.Context, s *Session, suggestions []*models.Suggestion) error
}

// GetSuggestions polls svc up to maxRetries times with a fixed delay between
// polls. A service that is still not ready after the last poll yields a
// *models.SuggestionTimeout. Other errors are returned immediately.
func GetSuggestions(ctx context.Context, svc Service, s *Session, maxRetries int, retryDelay time.Duration) ([]*models.Suggestion, error) {
	var suggestions []*models.Suggestion
	attempt := 0

	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: maxRetries,
		Backoff:     retry.Constant(retryDelay),
		RetryIf:     func(err error) bool { return errors.Is(err, ErrNotReady) },
	}, func(ctx context.Context) error {
		attempt++
		got, err := svc.Suggest(ctx, s)
		if err != nil {
			if errors.Is(err, ErrNotReady) {
				slog.Debug("suggestions not ready", "optimization", s.ID, "attempt", attempt, "max_retries", maxRetries)
			}
			return err
		}
		suggestions = got
		return nil
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, &models.SuggestionTimeout{Attempts: exhausted.Attempts, Err: exhausted.Err}
		}
		return nil, fmt.Errorf("getting suggestions: %w", err)
	}

	return suggestions, nil
}
