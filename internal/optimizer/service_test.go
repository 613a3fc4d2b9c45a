package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spachava753/cellopt/internal/models"
)

// scriptedService answers Suggest with ErrNotReady notReady times, then with batch.
type scriptedService struct {
	notReady int
	err      error
	batch    []*models.Suggestion
	calls    int
}

func (s *scriptedService) Initialize(ctx context.Context, cfg Config) (*Session, error) {
	return &Session{ID: "scripted", Config: cfg}, nil
}

func (s *scriptedService) Suggest(ctx context.Context, _ *Session) ([]*models.Suggestion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls <= s.notReady {
		return nil, ErrNotReady
	}
	return s.batch, nil
}

func (s *scriptedService) ReportMeasurements(ctx context.Context, _ *Session, _ []*models.Suggestion) error {
	return nil
}

func TestGetSuggestionsRetriesUntilReady(t *testing.T) {
	batch := []*models.Suggestion{{ID: "sixth", ParamValues: map[string]float64{"x": 1}}}
	svc := &scriptedService{notReady: 5, batch: batch}

	got, err := GetSuggestions(context.Background(), svc, &Session{ID: "s"}, 6, time.Millisecond)
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "sixth" {
		t.Errorf("expected the sixth response, got %v", got)
	}
	if svc.calls != 6 {
		t.Errorf("calls = %d, want 6", svc.calls)
	}
}

func TestGetSuggestionsTimeout(t *testing.T) {
	svc := &scriptedService{notReady: 5, batch: []*models.Suggestion{{ID: "late"}}}

	_, err := GetSuggestions(context.Background(), svc, &Session{ID: "s"}, 5, time.Millisecond)

	var timeout *models.SuggestionTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected SuggestionTimeout, got %v", err)
	}
	if timeout.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", timeout.Attempts)
	}
	if !errors.Is(err, ErrNotReady) {
		t.Error("timeout should wrap ErrNotReady")
	}
	if svc.calls != 5 {
		t.Errorf("calls = %d, want 5", svc.calls)
	}
}

func TestGetSuggestionsOtherErrorsAreNotRetried(t *testing.T) {
	boom := errors.New("boom")
	svc := &scriptedService{err: boom}

	_, err := GetSuggestions(context.Background(), svc, &Session{ID: "s"}, 6, time.Millisecond)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var timeout *models.SuggestionTimeout
	if errors.As(err, &timeout) {
		t.Error("non-ready errors must not become SuggestionTimeout")
	}
	if svc.calls != 1 {
		t.Errorf("calls = %d, want 1", svc.calls)
	}
}

func TestGetSuggestionsEmptyBatch(t *testing.T) {
	svc := &scriptedService{batch: nil}
	got, err := GetSuggestions(context.Background(), svc, &Session{ID: "s"}, 3, 0)
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty batch, got %v", got)
	}
}
