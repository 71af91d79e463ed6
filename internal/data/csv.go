package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// DatasetClasses lists the label count of the vision datasets.
var DatasetClasses = map[string]int{
	"cifar10":        10,
	"cifar100":       100,
	"ImageNet16-120": 120,
}

// LoadCSVDir reads <dir>/<dataset>/train.csv and test.csv. Each row holds the
// flattened features followed by the integer label.
func LoadCSVDir(dir, dataset string) (train, test *Dataset, err error) {
	if dir == "" {
		return nil, nil, fmt.Errorf("dataset %s needs data_path (or --datapath)", dataset)
	}
	classes := DatasetClasses[dataset]
	base := filepath.Join(dir, dataset)
	if train, err = LoadCSV(filepath.Join(base, "train.csv"), classes); err != nil {
		return nil, nil, err
	}
	if test, err = LoadCSV(filepath.Join(base, "test.csv"), classes); err != nil {
		return nil, nil, err
	}
	if train.Features() != test.Features() {
		return nil, nil, fmt.Errorf("train has %d features, test has %d", train.Features(), test.Features())
	}
	return train, test, nil
}

// LoadCSV reads one labelled CSV file. classes <= 0 infers the class count
// from the largest label.
func LoadCSV(path string, classes int) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, classes)
}

// ReadCSV parses labelled rows from r.
func ReadCSV(r io.Reader, classes int) (*Dataset, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return nil, fmt.Errorf("csv needs at least one row with a feature and a label")
	}
	features := len(rows[0]) - 1
	x := mat.NewDense(len(rows), features, nil)
	y := make([]int, len(rows))
	maxLabel := 0
	for i, row := range rows {
		if len(row) != features+1 {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), features+1)
		}
		for j := 0; j < features; j++ {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			x.Set(i, j, v)
		}
		label, err := strconv.Atoi(row[features])
		if err != nil || label < 0 {
			return nil, fmt.Errorf("row %d: invalid label %q", i, row[features])
		}
		y[i] = label
		maxLabel = max(maxLabel, label)
	}
	if classes <= 0 {
		classes = maxLabel + 1
	}
	if maxLabel >= classes {
		return nil, fmt.Errorf("label %d out of range for %d classes", maxLabel, classes)
	}
	return &Dataset{X: x, Y: y, Classes: classes}, nil
}
