package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
)

// DirStore keeps one directory per run holding metadata.json and
// states.csv.
type DirStore struct {
	baseDir string
}

var _ Store = (*DirStore)(nil)

func NewDirStore(baseDir string) *DirStore {
	return &DirStore{baseDir: baseDir}
}

func (s *DirStore) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *DirStore) Close() error { return nil }

func (s *DirStore) Save(_ context.Context, cfg *config.Config, res *experiment.Result) (string, error) {
	meta, err := newMetadata(cfg, res)
	if err != nil {
		return "", err
	}
	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "states.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteCSV(csvFile, seriesOf(res)); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func (s *DirStore) List(_ context.Context) ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.readMetadata(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *DirStore) Load(_ context.Context, id string) (*RunMetadata, error) {
	return s.readMetadata(id)
}

func (s *DirStore) readMetadata(id string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, "metadata.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *DirStore) LoadStates(ctx context.Context, id string) (*Series, error) {
	meta, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.baseDir, id, "states.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	series := &Series{
		Compartments: meta.Compartments,
		Scalars:      map[string][]float64{},
	}
	if len(records) < 2 {
		return series, nil
	}

	header := records[0]
	nc := len(meta.Compartments)
	if len(header) < 1+nc {
		return nil, fmt.Errorf("storage: %s: header has %d columns, want at least %d", id, len(header), 1+nc)
	}
	for _, record := range records[1:] {
		if len(record) != len(header) {
			continue
		}
		row := make([]float64, 0, len(header)-1)
		for _, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: %s: %w", id, err)
			}
			row = append(row, v)
		}
		series.States = append(series.States, row[:nc:nc])
		for j, name := range header[1+nc:] {
			series.Scalars[name] = append(series.Scalars[name], row[nc+j])
		}
	}
	return series, nil
}
