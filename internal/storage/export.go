package storage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"strconv"
)

// WriteCSV writes one row per tick: the tick, every compartment, then
// every scalar channel in name order.
func WriteCSV(w io.Writer, s *Series) error {
	cw := csv.NewWriter(w)
	scalars := s.ScalarNames()

	header := append([]string{"tick"}, s.Compartments...)
	header = append(header, scalars...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for t, state := range s.States {
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(t))
		for _, v := range state {
			row = append(row, formatFloat(v))
		}
		for _, name := range scalars {
			v := math.NaN()
			if col := s.Scalars[name]; t < len(col) {
				v = col[t]
			}
			row = append(row, formatFloat(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type ExportData struct {
	ID           string                `json:"id"`
	Model        string                `json:"model"`
	Order        string                `json:"order"`
	Ticks        int                   `json:"ticks"`
	Done         bool                  `json:"done"`
	Compartments []string              `json:"compartments"`
	States       [][]float64           `json:"states"`
	Scalars      map[string][]*float64 `json:"scalars,omitempty"`
	Metrics      map[string]float64    `json:"metrics"`
}

// ExportJSON writes a run and its trajectory as indented JSON. Missing
// scalar samples are written as null.
func ExportJSON(w io.Writer, meta *RunMetadata, s *Series) error {
	data := ExportData{
		ID:           meta.ID,
		Model:        meta.Model,
		Order:        meta.Order,
		Ticks:        meta.Ticks,
		Done:         meta.Done,
		Compartments: s.Compartments,
		States:       s.States,
		Scalars:      make(map[string][]*float64, len(s.Scalars)),
		Metrics:      meta.Metrics,
	}
	for name, col := range s.Scalars {
		out := make([]*float64, len(col))
		for i, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out[i] = &col[i]
		}
		data.Scalars[name] = out
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
