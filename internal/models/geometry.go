package models

import "fmt"

// Parameter names shared by the optimizer config and geometry mapping.
const (
	ParamNegativeElectrodeThickness = "negative_electrode_thickness"
	ParamPositiveElectrodeThickness = "positive_electrode_thickness"
	ParamSeparatorThickness         = "separator_thickness"
)

// ActiveMaterial holds an electrode coating thickness in metres.
type ActiveMaterial struct {
	Thickness float64 `json:"thickness" yaml:"thickness"`
}

// Separator holds the separator thickness in metres.
type Separator struct {
	Thickness float64 `json:"thickness" yaml:"thickness"`
}

type NegativeElectrode struct {
	ActiveMaterial ActiveMaterial `json:"ActiveMaterial" yaml:"ActiveMaterial"`
}

type PositiveElectrode struct {
	ActiveMaterial ActiveMaterial `json:"ActiveMaterial" yaml:"ActiveMaterial"`
}

type Electrolyte struct {
	Separator Separator `json:"Separator" yaml:"Separator"`
}

// Geometry1D is the cell layout handed to the simulator. Field names match
// the simulator's JSON input encoding.
type Geometry1D struct {
	Format            string            `json:"format" yaml:"format"`
	FaceArea          float64           `json:"faceArea" yaml:"faceArea"`
	NegativeElectrode NegativeElectrode `json:"NegativeElectrode" yaml:"NegativeElectrode"`
	PositiveElectrode PositiveElectrode `json:"PositiveElectrode" yaml:"PositiveElectrode"`
	Electrolyte       Electrolyte       `json:"Electrolyte" yaml:"Electrolyte"`
}

const (
	DefaultFormat   = "1D"
	DefaultFaceArea = 1e-4
)

// DefaultGeometry returns the reference NMC/graphite cell.
func DefaultGeometry() Geometry1D {
	return NewGeometry(64e-6, 57e-6, 15e-6)
}

// NewGeometry builds a 1D geometry with the fixed structural constants.
func NewGeometry(negative, positive, separator float64) Geometry1D {
	return Geometry1D{
		Format:            DefaultFormat,
		FaceArea:          DefaultFaceArea,
		NegativeElectrode: NegativeElectrode{ActiveMaterial: ActiveMaterial{Thickness: negative}},
		PositiveElectrode: PositiveElectrode{ActiveMaterial: ActiveMaterial{Thickness: positive}},
		Electrolyte:       Electrolyte{Separator: Separator{Thickness: separator}},
	}
}

// GeometryFromParams maps optimizer parameter values onto a geometry.
func GeometryFromParams(params map[string]float64) (Geometry1D, error) {
	neg, ok := params[ParamNegativeElectrodeThickness]
	if !ok {
		return Geometry1D{}, fmt.Errorf("missing parameter %q", ParamNegativeElectrodeThickness)
	}
	pos, ok := params[ParamPositiveElectrodeThickness]
	if !ok {
		return Geometry1D{}, fmt.Errorf("missing parameter %q", ParamPositiveElectrodeThickness)
	}
	sep, ok := params[ParamSeparatorThickness]
	if !ok {
		return Geometry1D{}, fmt.Errorf("missing parameter %q", ParamSeparatorThickness)
	}
	return NewGeometry(neg, pos, sep), nil
}

// Params returns the optimizer-facing view of the geometry.
func (g Geometry1D) Params() map[string]float64 {
	return map[string]float64{
		ParamNegativeElectrodeThickness: g.NegativeElectrode.ActiveMaterial.Thickness,
		ParamPositiveElectrodeThickness: g.PositiveElectrode.ActiveMaterial.Thickness,
		ParamSeparatorThickness:         g.Electrolyte.Separator.Thickness,
	}
}
