package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

type CSVOptions struct {
	// LabelColumn indexes the integer class column; negative counts from the end.
	LabelColumn int
	HasHeader   bool
	Comma       rune
}

func LoadCSV(path string, opts CSVOptions) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer f.Close()
	ds, err := ReadCSV(f, opts)
	if err != nil {
		return Dataset{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ds, nil
}

func ReadCSV(r io.Reader, opts CSVOptions) (Dataset, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return Dataset{}, err
	}
	if opts.HasHeader && len(records) > 0 {
		records = records[1:]
	}
	if len(records) == 0 {
		return Dataset{}, ErrEmptyDataset
	}

	width := len(records[0])
	if width < 2 {
		return Dataset{}, errors.New("csv needs at least one feature and one label column")
	}
	labelCol := opts.LabelColumn
	if labelCol < 0 {
		labelCol += width
	}
	if labelCol < 0 || labelCol >= width {
		return Dataset{}, fmt.Errorf("label column %d out of range for width %d", opts.LabelColumn, width)
	}

	x := mat.NewDense(len(records), width-1, nil)
	y := make([]int, len(records))
	for i, record := range records {
		if len(record) != width {
			return Dataset{}, fmt.Errorf("row %d: expected %d columns, got %d", i, width, len(record))
		}
		col := 0
		for j, field := range record {
			field = strings.TrimSpace(field)
			if j == labelCol {
				label, err := strconv.Atoi(field)
				if err != nil {
					return Dataset{}, fmt.Errorf("row %d: parse label %q: %w", i, field, err)
				}
				y[i] = label
				continue
			}
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("row %d col %d: parse %q: %w", i, j, field, err)
			}
			x.Set(i, col, value)
			col++
		}
	}
	return NewDataset(x, y, 0)
}
