package simulation

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/spachava753/cellopt/internal/models"
)

// ParseOutput reads the simulator's three-column output (E, energy density,
// energy) and returns the last row. Columns may be separated by commas,
// semicolons or whitespace; a single leading header row is skipped.
func ParseOutput(r io.Reader) (models.PerformanceSpec, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var last []float64
	line := 0
	headerSkipped := false
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t'
		})
		if len(fields) < 3 {
			return models.PerformanceSpec{}, fmt.Errorf("line %d: expected 3 columns, got %d", line, len(fields))
		}

		values, err := parseRow(fields[:3])
		if err != nil {
			if last == nil && !headerSkipped && !looksNumeric(fields[0]) {
				headerSkipped = true
				continue
			}
			return models.PerformanceSpec{}, fmt.Errorf("line %d: %w", line, err)
		}
		last = values
	}
	if err := scanner.Err(); err != nil {
		return models.PerformanceSpec{}, fmt.Errorf("reading output: %w", err)
	}
	if last == nil {
		return models.PerformanceSpec{}, fmt.Errorf("output has no data rows")
	}

	return models.PerformanceSpec{E: last[0], EnergyDensity: last[1], Energy: last[2]}, nil
}

func parseRow(fields []string) ([]float64, error) {
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: invalid number %q", i+1, f)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("column %d: non-finite value %q", i+1, f)
		}
		values[i] = v
	}
	return values, nil
}

func looksNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
