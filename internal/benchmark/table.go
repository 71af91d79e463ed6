package benchmark

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/gonas/internal/graph"
)

// Record is one tabulated architecture. Arch is the canonical graph string.
type Record struct {
	Arch      string  `yaml:"arch"`
	ValAcc    float64 `yaml:"val_acc"`
	TestAcc   float64 `yaml:"test_acc"`
	TrainTime float64 `yaml:"train_time"`
	Params    float64 `yaml:"params"`
}

// Table is a tabular benchmark loaded from a YAML (or JSON) list of records.
type Table struct {
	records map[string]Record
}

// NewTable indexes records by architecture string.
func NewTable(records []Record) *Table {
	t := &Table{records: make(map[string]Record, len(records))}
	for _, r := range records {
		t.records[r.Arch] = r
	}
	return t
}

// LoadTable reads records from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read benchmark table: %w", err)
	}
	var records []Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse benchmark table: %w", err)
	}
	return NewTable(records), nil
}

// Len returns the number of tabulated architectures.
func (t *Table) Len() int {
	return len(t.records)
}

// Query implements Benchmark.
func (t *Table) Query(g *graph.Graph, metric Metric) (float64, error) {
	r, ok := t.records[g.String()]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownArchitecture, g.String())
	}
	switch metric {
	case ValAccuracy:
		return r.ValAcc, nil
	case TestAccuracy:
		return r.TestAcc, nil
	case TrainTime:
		return r.TrainTime, nil
	case Params:
		return r.Params, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

// Tabulate queries every architecture from src and returns the records, which
// can be marshalled to build a table file.
func Tabulate(src Benchmark, archs []*graph.Graph) ([]Record, error) {
	records := make([]Record, 0, len(archs))
	for _, g := range archs {
		r := Record{Arch: g.String()}
		var err error
		if r.ValAcc, err = src.Query(g, ValAccuracy); err != nil {
			return nil, err
		}
		if r.TestAcc, err = src.Query(g, TestAccuracy); err != nil {
			return nil, err
		}
		if r.TrainTime, err = src.Query(g, TrainTime); err != nil {
			return nil, err
		}
		if r.Params, err = src.Query(g, Params); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
