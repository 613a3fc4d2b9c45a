package models

import (
	"time"

	"github.com/google/uuid"
)

// ObjectiveEnergyDensity is the measurement name reported to the optimizer.
const ObjectiveEnergyDensity = "energy_density"

// OptimizationRequest carries the caller-chosen knobs of a run.
type OptimizationRequest struct {
	UUID       uuid.UUID `yaml:"uuid,omitempty" json:"uuid"`
	Budget     int       `yaml:"budget" json:"budget"`
	BatchSize  int       `yaml:"batch_size" json:"batch_size"`
	Algorithm  string    `yaml:"algorithm" json:"algorithm"`
	RandomSeed int       `yaml:"random_seed" json:"random_seed"`
}

// DefaultOptimizationRequest returns the request used when nothing is set.
func DefaultOptimizationRequest() OptimizationRequest {
	return OptimizationRequest{
		Budget:     10,
		BatchSize:  1,
		Algorithm:  "gpyopt",
		RandomSeed: 10,
	}
}

// Suggestion is one candidate parameter assignment from the optimizer.
type Suggestion struct {
	ID           string             `json:"id,omitempty"`
	ParamValues  map[string]float64 `json:"param_values"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

// Measure attaches a measurement value to the suggestion.
func (s *Suggestion) Measure(name string, value float64) {
	if s.Measurements == nil {
		s.Measurements = make(map[string]float64)
	}
	s.Measurements[name] = value
}

// Measured reports whether any measurement has been attached.
func (s *Suggestion) Measured() bool {
	return len(s.Measurements) > 0
}

// ExecutedExperiment pairs a geometry with the simulator's answer.
type ExecutedExperiment struct {
	Geometry  Geometry1D        `json:"geometry"`
	Response  *SimulationResult `json:"spec_response,omitempty"`
	Batch     int               `json:"batch"`
	Iteration int               `json:"iteration"`
	Failed    bool              `json:"failed,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Objective returns the energy density of a successful experiment.
func (e *ExecutedExperiment) Objective() (float64, bool) {
	if e == nil || e.Failed || e.Response == nil {
		return 0, false
	}
	return e.Response.Result.EnergyDensity, true
}

// OptimizationRun accumulates experiments and tracks the best one.
type OptimizationRun struct {
	RunID       uuid.UUID            `json:"run_id"`
	Algorithm   string               `json:"algorithm,omitempty"`
	Budget      int                  `json:"budget"`
	Experiments []ExecutedExperiment `json:"experiments"`
	BestRun     *ExecutedExperiment  `json:"best_run"`
	StartedAt   time.Time            `json:"started_at"`
	EndedAt     time.Time            `json:"ended_at"`

	hasBest   bool
	bestIndex int
}

// NewOptimizationRun creates an empty run.
func NewOptimizationRun(runID uuid.UUID) *OptimizationRun {
	return &OptimizationRun{
		RunID:       runID,
		Experiments: make([]ExecutedExperiment, 0),
		StartedAt:   time.Now(),
	}
}

// Append records an experiment. The best pointer moves only when the new
// objective strictly exceeds the current best, so ties keep the earlier one.
// It reports whether the appended experiment became the best.
func (r *OptimizationRun) Append(exp ExecutedExperiment) bool {
	r.Experiments = append(r.Experiments, exp)
	idx := len(r.Experiments) - 1

	improved := false
	if value, ok := r.Experiments[idx].Objective(); ok {
		if !r.hasBest {
			improved = true
		} else if best, _ := r.Experiments[r.bestIndex].Objective(); value > best {
			improved = true
		}
	}
	if improved {
		r.hasBest = true
		r.bestIndex = idx
	}

	// Re-point after every append since the backing array may have moved.
	if r.hasBest {
		r.BestRun = &r.Experiments[r.bestIndex]
	}
	return improved
}

// BestIndex returns the position of the best experiment, or -1.
func (r *OptimizationRun) BestIndex() int {
	if !r.hasBest {
		return -1
	}
	return r.bestIndex
}

// BestEnergyDensity returns the best objective observed so far.
func (r *OptimizationRun) BestEnergyDensity() (float64, bool) {
	return r.BestRun.Objective()
}

// FailedCount returns the number of experiments whose simulation failed.
func (r *OptimizationRun) FailedCount() int {
	n := 0
	for i := range r.Experiments {
		if r.Experiments[i].Failed {
			n++
		}
	}
	return n
}
