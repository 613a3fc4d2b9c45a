package optimizer

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/spachava753/cellopt/internal/models"
)

func TestFakeSuggestionsWithinBounds(t *testing.T) {
	ctx := context.Background()
	cfg := validConfig()
	cfg.BatchSize = 4

	f := NewFake()
	s, err := f.Initialize(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		batch, err := f.Suggest(ctx, s)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch) != 4 {
			t.Fatalf("batch size = %d, want 4", len(batch))
		}
		for _, sg := range batch {
			for _, p := range cfg.Parameters {
				v := sg.ParamValues[p.Name]
				if v < p.LowValue || v > p.HighValue {
					t.Errorf("%s = %g outside [%g, %g]", p.Name, v, p.LowValue, p.HighValue)
				}
			}
		}
	}
}

func TestFakeIsDeterministicPerSeed(t *testing.T) {
	ctx := context.Background()
	draw := func(seed int) []map[string]float64 {
		cfg := validConfig()
		cfg.RandomSeed = seed
		f := NewFake()
		s, _ := f.Initialize(ctx, cfg)
		var out []map[string]float64
		for i := 0; i < 3; i++ {
			batch, _ := f.Suggest(ctx, s)
			for _, sg := range batch {
				out = append(out, sg.ParamValues)
			}
		}
		return out
	}

	if !reflect.DeepEqual(draw(42), draw(42)) {
		t.Error("same seed produced different suggestions")
	}
	if reflect.DeepEqual(draw(42), draw(43)) {
		t.Error("different seeds produced identical suggestions")
	}
}

func TestFakeNotReadyAndReport(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.NotReadyPolls = 2
	s, _ := f.Initialize(ctx, validConfig())

	for i := 0; i < 2; i++ {
		if _, err := f.Suggest(ctx, s); !errors.Is(err, ErrNotReady) {
			t.Fatalf("poll %d: expected ErrNotReady, got %v", i, err)
		}
	}
	batch, err := f.Suggest(ctx, s)
	if err != nil || len(batch) != 1 {
		t.Fatalf("expected batch after not-ready polls, got %v %v", batch, err)
	}

	if err := f.ReportMeasurements(ctx, s, batch); err == nil {
		t.Error("expected error for unmeasured suggestion")
	}
	batch[0].Measure(models.ObjectiveEnergyDensity, 1)
	if err := f.ReportMeasurements(ctx, s, batch); err != nil {
		t.Fatal(err)
	}
	if got := f.Reported(s.ID); len(got) != 1 {
		t.Errorf("Reported() = %v", got)
	}
}

func TestFakeRejectsInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Algorithm = "notreal"
	var vErr *models.ValidationError
	if _, err := NewFake().Initialize(context.Background(), cfg); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
