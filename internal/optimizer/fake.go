package optimizer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/spachava753/cellopt/internal/models"
)

// Fake is an in-memory Service that draws suggestions uniformly inside the
// parameter bounds from a generator seeded with the config's random seed.
// It is used for dry runs and tests.
type Fake struct {
	// NotReadyPolls makes each batch answer ErrNotReady this many times
	// before it is handed out.
	NotReadyPolls int

	mu       sync.Mutex
	sessions map[string]*fakeSession
	next     int
}

type fakeSession struct {
	cfg      Config
	rng      *rand.Rand
	pending  int
	issued   int
	reported [][]*models.Suggestion
}

// NewFake creates an empty fake optimizer.
func NewFake() *Fake {
	return &Fake{sessions: make(map[string]*fakeSession)}
}

func (f *Fake) Initialize(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	id := fmt.Sprintf("fake-%d", f.next)
	seed := uint64(cfg.RandomSeed)
	f.sessions[id] = &fakeSession{
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		pending: f.NotReadyPolls,
	}
	return &Session{ID: id, Config: cfg}, nil
}

func (f *Fake) Suggest(ctx context.Context, s *Session) ([]*models.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fs, ok := f.sessions[s.ID]
	if !ok {
		return nil, fmt.Errorf("unknown optimization %q", s.ID)
	}
	if fs.pending > 0 {
		fs.pending--
		return nil, ErrNotReady
	}
	fs.pending = f.NotReadyPolls

	batch := make([]*models.Suggestion, 0, fs.cfg.BatchSize)
	for range fs.cfg.BatchSize {
		fs.issued++
		values := make(map[string]float64, len(fs.cfg.Parameters))
		for _, p := range fs.cfg.Parameters {
			values[p.Name] = p.LowValue + fs.rng.Float64()*(p.HighValue-p.LowValue)
		}
		batch = append(batch, &models.Suggestion{
			ID:          fmt.Sprintf("%s-%d", s.ID, fs.issued),
			ParamValues: values,
		})
	}
	return batch, nil
}

func (f *Fake) ReportMeasurements(ctx context.Context, s *Session, suggestions []*models.Suggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fs, ok := f.sessions[s.ID]
	if !ok {
		return fmt.Errorf("unknown optimization %q", s.ID)
	}
	for _, sg := range suggestions {
		if !sg.Measured() {
			return fmt.Errorf("suggestion %s has no measurements", sg.ID)
		}
	}
	fs.reported = append(fs.reported, suggestions)
	return nil
}

// Reported returns the batches reported for a session, in order.
func (f *Fake) Reported(sessionID string) [][]*models.Suggestion {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fs, ok := f.sessions[sessionID]; ok {
		return fs.reported
	}
	return nil
}
