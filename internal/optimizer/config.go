// Package optimizer talks to the hosted black-box optimizer.
package optimizer

import (
	"fmt"
	"slices"

	"github.com/spachava753/cellopt/internal/models"
)

// Algorithms accepted by the hosted optimizer.
var Algorithms = []string{
	"randomsearch",
	"grid",
	"dragonfly",
	"gpyopt",
	"sobol",
	"latinhypercube",
	"hyperopt",
}

const (
	GoalMax = "max"
	GoalMin = "min"

	MinBudget     = 1
	MaxBudget     = 20
	MinBatchSize  = 1
	MaxBatchSize  = 8
	MinRandomSeed = 1
	MaxRandomSeed = 1_000_000
)

// Parameter is one bounded search dimension.
type Parameter struct {
	Name      string  `json:"name"`
	LowValue  float64 `json:"low_value"`
	HighValue float64 `json:"high_value"`
}

// Objective names a measurement and its direction.
type Objective struct {
	Name string `json:"name"`
	Goal string `json:"goal"`
}

// Config is the declarative optimization document sent to the service.
type Config struct {
	OptimizationName string      `json:"optimization_name"`
	Description      string      `json:"description"`
	GroupID          string      `json:"sdlabs_group_id"`
	AccountType      string      `json:"sdlabs_account_type"`
	Parameters       []Parameter `json:"parameters"`
	Objectives       []Objective `json:"objectives"`
	InheritData      bool        `json:"inherit_data"`
	AlwaysRestart    bool        `json:"always_restart"`
	BatchSize        int         `json:"batch_size"`
	Algorithm        string      `json:"algorithm"`
	Budget           int         `json:"budget"`
	RandomSeed       int         `json:"random_seed"`
}

// Validate rejects a config the service would refuse. It never performs I/O.
func (c Config) Validate() error {
	if !slices.Contains(Algorithms, c.Algorithm) {
		return &models.ValidationError{Field: "algorithm", Message: fmt.Sprintf("%q is not one of %v", c.Algorithm, Algorithms)}
	}
	if c.Budget < MinBudget || c.Budget > MaxBudget {
		return &models.ValidationError{Field: "budget", Message: fmt.Sprintf("%d outside [%d, %d]", c.Budget, MinBudget, MaxBudget)}
	}
	if c.BatchSize < MinBatchSize || c.BatchSize > MaxBatchSize {
		return &models.ValidationError{Field: "batch_size", Message: fmt.Sprintf("%d outside [%d, %d]", c.BatchSize, MinBatchSize, MaxBatchSize)}
	}
	if c.RandomSeed < MinRandomSeed || c.RandomSeed > MaxRandomSeed {
		return &models.ValidationError{Field: "random_seed", Message: fmt.Sprintf("%d outside [%d, %d]", c.RandomSeed, MinRandomSeed, MaxRandomSeed)}
	}
	if len(c.Parameters) == 0 {
		return &models.ValidationError{Field: "parameters", Message: "at least one parameter is required"}
	}
	seen := make(map[string]bool, len(c.Parameters))
	for _, p := range c.Parameters {
		if p.Name == "" {
			return &models.ValidationError{Field: "parameters", Message: "parameter name must not be empty"}
		}
		if seen[p.Name] {
			return &models.ValidationError{Field: "parameters", Message: fmt.Sprintf("duplicate parameter %q", p.Name)}
		}
		seen[p.Name] = true
		if !(p.LowValue < p.HighValue) {
			return &models.ValidationError{Field: "parameters", Message: fmt.Sprintf("%s: low_value %g must be below high_value %g", p.Name, p.LowValue, p.HighValue)}
		}
	}
	if len(c.Objectives) == 0 {
		return &models.ValidationError{Field: "objectives", Message: "at least one objective is required"}
	}
	for _, o := range c.Objectives {
		if o.Name == "" {
			return &models.ValidationError{Field: "objectives", Message: "objective name must not be empty"}
		}
		if o.Goal != GoalMax && o.Goal != GoalMin {
			return &models.ValidationError{Field: "objectives", Message: fmt.Sprintf("%s: goal %q must be max or min", o.Name, o.Goal)}
		}
	}
	return nil
}

// Account identifies the optimizer group the run is billed to.
type Account struct {
	GroupID     string
	AccountType string
}

// BattmoConfig builds the fixed cell-thickness optimization merged with the
// caller's budget, batch size, algorithm and seed.
func BattmoConfig(req models.OptimizationRequest, account Account) Config {
	return Config{
		OptimizationName: "BattmoSimulation",
		Description:      "Optimize cell layer thicknesses",
		GroupID:          account.GroupID,
		AccountType:      account.AccountType,
		Parameters: []Parameter{
			{Name: models.ParamNegativeElectrodeThickness, LowValue: 30e-6, HighValue: 150e-6},
			{Name: models.ParamPositiveElectrodeThickness, LowValue: 30e-6, HighValue: 150e-6},
			{Name: models.ParamSeparatorThickness, LowValue: 8e-6, HighValue: 15e-6},
		},
		Objectives: []Objective{
			{Name: models.ObjectiveEnergyDensity, Goal: GoalMax},
		},
		InheritData:   false,
		AlwaysRestart: true,
		BatchSize:     req.BatchSize,
		Algorithm:     req.Algorithm,
		Budget:        req.Budget,
		RandomSeed:    req.RandomSeed,
	}
}
