package stats

import (
	"bufio"
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"pfsap/internal/model"
	"pfsap/internal/runid"
)

// telemetryLines returns the attached telemetry, or synthesizes it from the
// four core series when all are present.
func telemetryLines(rec model.RunRecord) ([]model.TelemetryLine, bool) {
	if len(rec.Telemetry) > 0 {
		return rec.Telemetry, true
	}
	if !rec.HasCoreSeries() {
		return nil, false
	}
	n := rec.SeriesLen(model.SeriesKappa)
	for _, key := range model.CoreSeries[1:] {
		if m := rec.SeriesLen(key); m < n {
			n = m
		}
	}
	lines := make([]model.TelemetryLine, n)
	for t := 0; t < n; t++ {
		lines[t] = model.TelemetryLine{
			T:         t,
			Kappa:     rec.Series[model.SeriesKappa][t],
			CurlRMS:   rec.Series[model.SeriesCurlRMS][t],
			Curvature: rec.Series[model.SeriesCurvature][t],
			Norm:      rec.Series[model.SeriesNorm][t],
		}
	}
	return lines, true
}

func writeTelemetry(path string, lines []model.TelemetryLine) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := w.Write(EncodeTelemetryLine(line)); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// EncodeTelemetryLine renders one record with t, kappa, curl_rms, curvature
// and norm first, followed by extra keys in sorted order.
func EncodeTelemetryLine(line model.TelemetryLine) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"t":`)
	buf.WriteString(strconv.Itoa(line.T))
	put := func(key string, v float64) {
		buf.WriteByte(',')
		encoded, _ := json.Marshal(key)
		buf.Write(encoded)
		buf.WriteByte(':')
		buf.WriteString(jsonFloat(v))
	}
	put("kappa", line.Kappa)
	put("curl_rms", line.CurlRMS)
	put("curvature", line.Curvature)
	put("norm", line.Norm)

	keys := make([]string, 0, len(line.Extra))
	for k := range line.Extra {
		switch k {
		case "t", "kappa", "curl_rms", "curvature", "norm":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		put(k, line.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func jsonFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "null"
	}
	return runid.FormatFloat(v)
}

// ReadTelemetry decodes telemetry.jsonl from a run directory.
func ReadTelemetry(runDir string) ([]map[string]any, bool, error) {
	file, err := os.Open(filepath.Join(runDir, TelemetryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	out := []map[string]any{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			return nil, false, err
		}
		out = append(out, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return out, true, nil
}
