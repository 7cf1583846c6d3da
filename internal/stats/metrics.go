package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"pfsap/internal/model"
)

// MetricsHeader is the fixed metrics.csv header; columns map onto the core
// series in order.
var MetricsHeader = []string{"t", "kappa", "curl_rms", "curvature", "norm"}

// WriteMetricsCSV writes one row per step. A missing or short series leaves
// an empty cell; a run with no steps produces the header alone.
func WriteMetricsCSV(path string, series map[string][]float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	rows := 0
	for _, key := range model.CoreSeries {
		if n := len(series[key]); n > rows {
			rows = n
		}
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(MetricsHeader); err != nil {
		return err
	}
	record := make([]string, len(MetricsHeader))
	for t := 0; t < rows; t++ {
		record[0] = strconv.Itoa(t)
		for i, key := range model.CoreSeries {
			record[i+1] = formatCell(series[key], t)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func formatCell(values []float64, t int) string {
	if t >= len(values) {
		return ""
	}
	v := values[t]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadMetricsCSV loads metrics.csv from a run directory back into core
// series. Empty cells read back as NaN.
func ReadMetricsCSV(runDir string) (map[string][]float64, bool, error) {
	file, err := os.Open(filepath.Join(runDir, MetricsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, false, fmt.Errorf("metrics header: %w", err)
	}
	if len(header) != len(MetricsHeader) {
		return nil, false, fmt.Errorf("metrics header must have %d columns, got %d", len(MetricsHeader), len(header))
	}
	for i, name := range MetricsHeader {
		if header[i] != name {
			return nil, false, fmt.Errorf("metrics header column %d is %q, want %q", i, header[i], name)
		}
	}

	series := make(map[string][]float64, len(model.CoreSeries))
	for _, key := range model.CoreSeries {
		series[key] = []float64{}
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		for i, key := range model.CoreSeries {
			cell := record[i+1]
			if cell == "" {
				series[key] = append(series[key], math.NaN())
				continue
			}
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, false, fmt.Errorf("metrics row %s column %s: %w", record[0], MetricsHeader[i+1], err)
			}
			series[key] = append(series[key], value)
		}
	}
	return series, true, nil
}
