package stats

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfsap/internal/model"
	"pfsap/internal/npz"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func sampleRecord() model.RunRecord {
	return model.RunRecord{
		TestID:     "BG01",
		RunHash:    "f580230",
		Controller: "open_loop",
		Seed:       0,
		Pillar:     model.PillarGravity,
		DT:         0.05,
		Scalars:    map[string]float64{"coupling_score": -0.25, "curv0": 0.125},
		Series: map[string][]float64{
			model.SeriesKappa:     {0, 0.1, 1e-7},
			model.SeriesCurlRMS:   {0.5, 1.0 / 3, 2},
			model.SeriesCurvature: {3, 4, 5.5},
			model.SeriesNorm:      {10, 9.75, 9.5},
		},
		Frames: []model.Frame{
			{Step: 0, H: 2, W: 2, Data: []complex128{1, 2i, -1, 0.5 + 0.5i}},
			{Step: 2, H: 2, W: 2, Data: []complex128{0, 1, 2, 3}},
		},
		Extra: map[string]any{"prng": map[string]any{"seed": 0, "source": "math/rand"}},
	}
}

func sampleConfig() model.Config {
	return model.Config{Pillar: model.PillarGravity, H: 2, W: 2, Steps: 3, DT: 0.05, Clip: 5, KappaCap: 0.3}
}

func allOptional() WriteOptions {
	return WriteOptions{EmitTelemetry: true, EmitField: true, Now: fixedNow}
}

func TestWriteRunLayout(t *testing.T) {
	root := t.TempDir()
	res, err := WriteRun(root, sampleRecord(), sampleConfig(), allOptional())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "BG01", "f580230"), res.Dir)
	assert.True(t, res.CoreOK)
	assert.True(t, res.Optional.Telemetry)
	assert.True(t, res.Optional.Field)
	assert.Positive(t, res.Bytes)
	for _, file := range []string{MetaFile, ConfigFile, RunFile, MetricsFile, TelemetryFile, FieldFile} {
		_, err := os.Stat(filepath.Join(res.Dir, file))
		assert.NoError(t, err, file)
	}

	meta, ok, err := ReadMeta(res.Dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BG01", meta.TestID)
	assert.Equal(t, "f580230", meta.RunHash)
	assert.Equal(t, "open_loop", meta.Controller)
	assert.Equal(t, "2026-01-02T03:04:05Z", meta.TimestampUTC)
	assert.Equal(t, "math/rand", meta.PRNG["source"])

	configData, err := os.ReadFile(filepath.Join(res.Dir, ConfigFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(configData), "{\n  \"H\": 2,\n  \"W\": 2,\n"))
	assert.True(t, strings.HasSuffix(string(configData), "}\n"))

	doc, ok, err := ReadRunJSON(res.Dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "open_loop", doc["controller"])
	assert.Equal(t, "f580230", doc["run_hash"])
	assert.Equal(t, -0.25, doc["coupling_score"])
	assert.Equal(t, false, doc["diverged"])
	assert.Len(t, doc[model.SeriesKappa], 3)
	for _, key := range []string{"psi_frames", "field_snaps", "telemetry_lines", "frame_steps"} {
		assert.NotContains(t, doc, key)
	}
}

func TestWriteRunIsIdempotent(t *testing.T) {
	root := t.TempDir()
	first, err := WriteRun(root, sampleRecord(), sampleConfig(), allOptional())
	require.NoError(t, err)
	snapshot := map[string][]byte{}
	for _, file := range []string{MetaFile, ConfigFile, RunFile, MetricsFile, TelemetryFile, FieldFile} {
		data, err := os.ReadFile(filepath.Join(first.Dir, file))
		require.NoError(t, err)
		snapshot[file] = data
	}

	second, err := WriteRun(root, sampleRecord(), sampleConfig(), allOptional())
	require.NoError(t, err)
	assert.Equal(t, first.Dir, second.Dir)
	for file, want := range snapshot {
		got, err := os.ReadFile(filepath.Join(second.Dir, file))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, got), file)
	}
}

func TestMetricsCSVRoundTrip(t *testing.T) {
	rec := sampleRecord()
	res, err := WriteRun(t.TempDir(), rec, sampleConfig(), WriteOptions{Now: fixedNow})
	require.NoError(t, err)

	series, ok, err := ReadMetricsCSV(res.Dir)
	require.NoError(t, err)
	require.True(t, ok)
	for _, key := range model.CoreSeries {
		assert.Equal(t, rec.Series[key], series[key], key)
	}
}

func TestMetricsCSVMissingCells(t *testing.T) {
	rec := sampleRecord()
	rec.Series[model.SeriesNorm] = []float64{1}
	rec.Series[model.SeriesCurvature] = []float64{1, math.NaN(), 3}
	res, err := WriteRun(t.TempDir(), rec, sampleConfig(), WriteOptions{Now: fixedNow})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(res.Dir, MetricsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "t,kappa,curl_rms,curvature,norm", lines[0])
	assert.Equal(t, "1,0.1,0.3333333333333333,,", lines[2])
	assert.NotContains(t, string(data), "\r")
}

func TestZeroStepsWritesHeaderOnly(t *testing.T) {
	rec := sampleRecord()
	for _, key := range model.CoreSeries {
		rec.Series[key] = []float64{}
	}
	rec.Frames = nil
	res, err := WriteRun(t.TempDir(), rec, sampleConfig(), allOptional())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(res.Dir, MetricsFile))
	require.NoError(t, err)
	assert.Equal(t, "t,kappa,curl_rms,curvature,norm\n", string(data))
	assert.False(t, res.Optional.Field)
	_, err = os.Stat(filepath.Join(res.Dir, FieldFile))
	assert.True(t, os.IsNotExist(err))
}

func TestTelemetrySynthesizedFromSeries(t *testing.T) {
	res, err := WriteRun(t.TempDir(), sampleRecord(), sampleConfig(), allOptional())
	require.NoError(t, err)

	rows, ok, err := ReadTelemetry(res.Dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, float64(i), row["t"])
	}

	data, err := os.ReadFile(filepath.Join(res.Dir, TelemetryFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"t":0,"kappa":0.0,"curl_rms":0.5,"curvature":3.0,"norm":10.0}`+"\n"))
}

func TestJSONDocumentsKeepIntegralFloats(t *testing.T) {
	res, err := WriteRun(t.TempDir(), sampleRecord(), sampleConfig(), WriteOptions{Now: fixedNow})
	require.NoError(t, err)

	configData, err := os.ReadFile(filepath.Join(res.Dir, ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(configData), "\"clip\": 5.0,")
	assert.Contains(t, string(configData), "\"dt\": 0.05,")
	assert.Contains(t, string(configData), "\"steps\": 3\n")

	runData, err := os.ReadFile(filepath.Join(res.Dir, RunFile))
	require.NoError(t, err)
	assert.Contains(t, string(runData), "\"seed\": 0,")
	assert.Contains(t, string(runData), "\"curv0\": 0.125")
	assert.NotContains(t, string(runData), "NaN")
}

func TestTelemetryExtraKeysFollowCoreKeys(t *testing.T) {
	line := model.TelemetryLine{T: 4, Kappa: 0.5, CurlRMS: 1, Curvature: 2, Norm: 3, Extra: map[string]float64{"g": 1, "S": 0.25, "R": math.NaN()}}
	assert.Equal(t,
		`{"t":4,"kappa":0.5,"curl_rms":1.0,"curvature":2.0,"norm":3.0,"R":null,"S":0.25,"g":1.0}`,
		string(EncodeTelemetryLine(line)))
}

func TestOptionalGatesAndFailures(t *testing.T) {
	root := t.TempDir()
	res, err := WriteRun(root, sampleRecord(), sampleConfig(), WriteOptions{Now: fixedNow})
	require.NoError(t, err)
	assert.False(t, res.Optional.Telemetry)
	assert.False(t, res.Optional.Field)
	_, err = os.Stat(filepath.Join(res.Dir, TelemetryFile))
	assert.True(t, os.IsNotExist(err))

	// A directory squatting on telemetry.jsonl and a ragged frame set both
	// fail their optional writes without touching the core outputs.
	rec := sampleRecord()
	rec.RunHash = "0000001"
	rec.Frames[1].H = 3
	dir := RunDir(root, rec.TestID, rec.RunHash)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, TelemetryFile), 0o755))

	res, err = WriteRun(root, rec, sampleConfig(), allOptional())
	require.NoError(t, err)
	assert.True(t, res.CoreOK)
	assert.False(t, res.Optional.Telemetry)
	assert.False(t, res.Optional.Field)
	_, err = os.Stat(filepath.Join(dir, FieldFile))
	assert.True(t, os.IsNotExist(err))
	_, ok, err := ReadMetricsCSV(dir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFieldArchiveContents(t *testing.T) {
	rec := sampleRecord()
	rec.FieldSnaps = rec.Frames
	rec.Frames = nil
	res, err := WriteRun(t.TempDir(), rec, sampleConfig(), allOptional())
	require.NoError(t, err)
	require.True(t, res.Optional.Field)

	arrays, err := npz.ReadFile(filepath.Join(res.Dir, FieldFile))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, arrays[KeyPsiReal].Shape)
	assert.Equal(t, npz.DtypeFloat32, arrays[KeyPsiImag].Dtype)
	assert.Equal(t, []float32{1, 0, -1, 0.5, 0, 1, 2, 3}, arrays[KeyPsiReal].Float32)
	assert.Equal(t, []float32{0, 2, 0, 0.5, 0, 0, 0, 0}, arrays[KeyPsiImag].Float32)
	assert.Equal(t, []int64{0, 2}, arrays[KeyFrameSteps].Int64)
	assert.Equal(t, []float64{0.05}, arrays[KeyDT].Float64)
	for _, key := range []string{"kappa", "curl_rms", "curvature", "norm"} {
		assert.Equal(t, []int{3}, arrays[key].Shape, key)
	}
}

func TestWriteRunRejectsBadIdentity(t *testing.T) {
	rec := sampleRecord()
	rec.TestID = "bg01"
	_, err := WriteRun(t.TempDir(), rec, sampleConfig(), allOptional())
	assert.Error(t, err)

	rec = sampleRecord()
	rec.RunHash = "XYZ"
	_, err = WriteRun(t.TempDir(), rec, sampleConfig(), allOptional())
	assert.Error(t, err)
}

func TestNonFiniteScalarsBecomeNull(t *testing.T) {
	rec := sampleRecord()
	rec.Scalars["coupling_coeff"] = math.Inf(1)
	res, err := WriteRun(t.TempDir(), rec, sampleConfig(), WriteOptions{Now: fixedNow})
	require.NoError(t, err)
	doc, _, err := ReadRunJSON(res.Dir)
	require.NoError(t, err)
	v, ok := doc["coupling_coeff"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestListExportAndIndex(t *testing.T) {
	root := t.TempDir()
	a := sampleRecord()
	b := sampleRecord()
	b.TestID = "TH01"
	b.RunHash = "abc1234"
	for _, rec := range []model.RunRecord{b, a} {
		_, err := WriteRun(root, rec, sampleConfig(), allOptional())
		require.NoError(t, err)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "BG01", "not-a-hash"), 0o755))

	runs, err := ListRunDirs(root)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "BG01", runs[0].TestID)
	assert.Equal(t, "TH01", runs[1].TestID)

	out := t.TempDir()
	dst, err := ExportRun(root, "TH01", "abc1234", out)
	require.NoError(t, err)
	for _, file := range []string{MetaFile, ConfigFile, RunFile, MetricsFile, TelemetryFile, FieldFile} {
		_, err := os.Stat(filepath.Join(dst, file))
		assert.NoError(t, err, file)
	}
	_, err = ExportRun(root, "TH01", "fffffff", out)
	assert.Error(t, err)

	require.NoError(t, AppendRunIndex(root, model.RunSummary{TestID: "BG01", RunHash: "f580230", CreatedAtUTC: "2026-01-01T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(root, model.RunSummary{TestID: "TH01", RunHash: "abc1234", CreatedAtUTC: "2026-01-02T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(root, model.RunSummary{TestID: "BG01", RunHash: "f580230", CreatedAtUTC: "2026-01-03T00:00:00Z", Diverged: true}))
	index, err := ListRunIndex(root)
	require.NoError(t, err)
	require.Len(t, index, 2)
	assert.Equal(t, "BG01", index[0].TestID)
	assert.True(t, index[0].Diverged)
}

func TestBatchManifests(t *testing.T) {
	root := t.TempDir()
	_, ok, err := ReadBatchManifest(root, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, WriteBatchManifest(root, BatchManifest{ID: "b1", StartedAtUTC: "2026-01-01T00:00:00Z", TotalRuns: 2}))
	require.NoError(t, WriteBatchManifest(root, BatchManifest{ID: "b2", StartedAtUTC: "2026-01-02T00:00:00Z", TotalRuns: 1, Failures: []string{"boom"}}))
	assert.Error(t, WriteBatchManifest(root, BatchManifest{}))

	all, err := ListBatchManifests(root)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b2", all[0].ID)
	assert.Equal(t, []string{"boom"}, all[0].Failures)
}
