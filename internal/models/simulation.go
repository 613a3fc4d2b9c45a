package models

import "github.com/google/uuid"

// StatusOK is the status reported by a successful simulation.
const StatusOK = "ok"

// PerformanceSpec holds the last sample of each simulator output series.
type PerformanceSpec struct {
	E             float64 `json:"E"`
	EnergyDensity float64 `json:"energyDensity"`
	Energy        float64 `json:"energy"`
}

// SimulationRequest correlates one simulator invocation with its artifacts.
type SimulationRequest struct {
	UUID     uuid.UUID  `json:"uuid"`
	Geometry Geometry1D `json:"geometry"`
}

// NewSimulationRequest wraps the geometry with a fresh random identifier.
func NewSimulationRequest(g Geometry1D) SimulationRequest {
	return SimulationRequest{UUID: uuid.New(), Geometry: g}
}

// SimulationResult is the parsed simulator output for one request.
type SimulationResult struct {
	Status string          `json:"status"`
	UUID   uuid.UUID       `json:"uuid"`
	Result PerformanceSpec `json:"result"`
}
