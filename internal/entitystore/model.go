package entitystore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spachava753/cellopt/internal/models"
)

// Well-known entity titles.
const (
	StatusToDo = "Item:OSWaa8d29404288446a9f3ec7afa4e2a512"
	StatusDone = "Item:OSWf474ec34b7df451ea8356134241aef8a"

	ToolSimulation   = "Item:OSWe7c08b2300f04d0bbb0a55bca8838437"
	ToolOptimization = "Item:OSWb80747f1ccf340d790955572d27f678c"

	CategoryBattmoModel = "Category:OSW553f78cc66194ae1873241207b906c4b"
)

// Title returns the page title of the entity with the given id.
func Title(id uuid.UUID) string {
	return "Item:OSW" + strings.ReplaceAll(id.String(), "-", "")
}

// ParseTitle extracts the entity id from a page title.
func ParseTitle(title string) (uuid.UUID, error) {
	_, hex, ok := strings.Cut(title, ":OSW")
	if !ok {
		return uuid.Nil, fmt.Errorf("title %q is not an entity title", title)
	}
	id, err := uuid.Parse(hex)
	if err != nil {
		return uuid.Nil, fmt.Errorf("title %q: %w", title, err)
	}
	return id, nil
}

// Text is a language-tagged string.
type Text struct {
	Text string `json:"text"`
	Lang string `json:"lang,omitempty"`
}

// Performance is the performance summary attached to a model.
type Performance struct {
	UUID          uuid.UUID `json:"uuid"`
	EnergyDensity float64   `json:"energyDensity"`
}

// WorkflowRun is a request against a model, processed by one tool.
type WorkflowRun struct {
	UUID   uuid.UUID `json:"uuid"`
	Status string    `json:"status,omitempty"`
	Tool   []string  `json:"tool,omitempty"`
}

// UsesTool reports whether the run is addressed to the given tool.
func (r WorkflowRun) UsesTool(tool string) bool {
	for _, t := range r.Tool {
		if t == tool {
			return true
		}
	}
	return false
}

// RepositoryRecord points at a published archive record.
type RepositoryRecord struct {
	RepositoryName string `json:"repository_name"`
	RecordPID      string `json:"record_pid"`
	RecordLink     string `json:"record_link"`
}

// BattmoModel is the battery model entity. Fields this type does not
// declare are kept in Extra and written back unchanged.
type BattmoModel struct {
	UUID              uuid.UUID          `json:"uuid"`
	Label             []Text             `json:"label,omitempty"`
	Description       []Text             `json:"description,omitempty"`
	Geometry          *models.Geometry1D `json:"geometry,omitempty"`
	Performance       *Performance       `json:"performance,omitempty"`
	WorkflowRuns      []WorkflowRun      `json:"workflow_runs,omitempty"`
	RepositoryRecords []RepositoryRecord `json:"repository_records,omitempty"`
	DOI               string             `json:"doi,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type battmoModelFields BattmoModel

var knownFields = []string{"uuid", "label", "description", "geometry", "performance", "workflow_runs", "repository_records", "doi"}

func (m *BattmoModel) UnmarshalJSON(data []byte) error {
	var fields battmoModelFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(all, k)
	}
	if len(all) > 0 {
		fields.Extra = all
	}
	*m = BattmoModel(fields)
	return nil
}

func (m BattmoModel) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(battmoModelFields(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return data, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Validate checks the fields this program depends on.
func (m *BattmoModel) Validate() error {
	if m.UUID == uuid.Nil {
		return &models.ValidationError{Field: "uuid", Message: "must be set"}
	}
	for i, r := range m.WorkflowRuns {
		if r.UUID == uuid.Nil {
			return &models.ValidationError{Field: fmt.Sprintf("workflow_runs[%d].uuid", i), Message: "must be set"}
		}
	}
	return nil
}

// Title returns the page title of the model.
func (m *BattmoModel) Title() string {
	return Title(m.UUID)
}

// LabelText returns the first label, or def when there is none.
func (m *BattmoModel) LabelText(def string) string {
	if len(m.Label) > 0 && m.Label[0].Text != "" {
		return m.Label[0].Text
	}
	return def
}

// DescriptionText returns the first description, or def when there is none.
func (m *BattmoModel) DescriptionText(def string) string {
	if len(m.Description) > 0 && m.Description[0].Text != "" {
		return m.Description[0].Text
	}
	return def
}

// PendingRun returns the first ToDo workflow run addressed to tool.
func (m *BattmoModel) PendingRun(tool string) (*WorkflowRun, bool) {
	for i := range m.WorkflowRuns {
		r := &m.WorkflowRuns[i]
		if r.Status == StatusToDo && r.UsesTool(tool) {
			return r, true
		}
	}
	return nil, false
}

// CompleteRun marks every workflow run matching one of ids as done and
// returns how many were updated.
func (m *BattmoModel) CompleteRun(ids ...uuid.UUID) int {
	n := 0
	for i := range m.WorkflowRuns {
		for _, id := range ids {
			if id != uuid.Nil && m.WorkflowRuns[i].UUID == id {
				m.WorkflowRuns[i].Status = StatusDone
				n++
				break
			}
		}
	}
	return n
}
