package model

// Series keys shared by every pillar. The four core series feed metrics.csv,
// telemetry.jsonl and field.npz.
const (
	SeriesKappa     = "kappa_series"
	SeriesCurlRMS   = "curl_rms_series"
	SeriesCurvature = "curvature_series"
	SeriesNorm      = "norm_series"

	SeriesS         = "S_series"
	SeriesR         = "R_series"
	SeriesG         = "g_series"
	SeriesEta       = "eta_series"
	SeriesMSE       = "mse_series"
	SeriesCoherence = "coherence_series"
)

// CoreSeries lists the series every writer output is keyed on, in column order.
var CoreSeries = []string{SeriesKappa, SeriesCurlRMS, SeriesCurvature, SeriesNorm}

// Metrics is the scalar observation a controller sees at each step. Fields a
// pillar does not measure stay zero.
type Metrics struct {
	CurlRMS    float64
	Curvature  float64
	Norm       float64
	S          float64
	R          float64
	Efficiency float64
	MSE        float64
	Coherence  float64
}

// Frame is one persisted field snapshot taken after step Step.
type Frame struct {
	Step int
	H    int
	W    int
	Data []complex128
}

// TelemetryLine is one per-step flat record. Extra keys are emitted after the
// five core keys.
type TelemetryLine struct {
	T         int
	Kappa     float64
	CurlRMS   float64
	Curvature float64
	Norm      float64
	Extra     map[string]float64
}

// RunRecord is the payload a simulator produces and the artifact writer
// consumes. The writer never mutates it.
type RunRecord struct {
	TestID     string
	RunHash    string
	Controller string
	Seed       int64
	Pillar     string
	DT         float64

	Scalars map[string]float64
	Series  map[string][]float64

	Diverged     bool
	FlaggedSteps []int

	Telemetry  []TelemetryLine
	Frames     []Frame
	FieldSnaps []Frame

	// Extra carries pass-through fields for downstream consumers.
	Extra map[string]any
}

// SeriesLen returns the length of a named series, or 0 when absent.
func (r RunRecord) SeriesLen(key string) int {
	return len(r.Series[key])
}

// HasCoreSeries reports whether all four core series are present.
func (r RunRecord) HasCoreSeries() bool {
	for _, key := range CoreSeries {
		if _, ok := r.Series[key]; !ok {
			return false
		}
	}
	return true
}

// Document flattens the record into the run.json shape: identity, scalars and
// series share one object. Bulky frame data is never included.
func (r RunRecord) Document() map[string]any {
	doc := make(map[string]any, len(r.Scalars)+len(r.Series)+len(r.Extra)+8)
	for k, v := range r.Extra {
		doc[k] = v
	}
	for k, v := range r.Scalars {
		doc[k] = v
	}
	for k, v := range r.Series {
		if v == nil {
			v = []float64{}
		}
		doc[k] = v
	}
	doc["test_id"] = r.TestID
	doc["run_hash"] = r.RunHash
	doc["controller"] = r.Controller
	doc["seed"] = r.Seed
	doc["diverged"] = r.Diverged
	if r.Pillar != "" {
		doc["pillar"] = r.Pillar
	}
	if len(r.FlaggedSteps) > 0 {
		doc["flagged_steps"] = r.FlaggedSteps
	}
	if n := len(r.Frames) + len(r.FieldSnaps); n > 0 {
		doc["frame_count"] = n
	}
	return doc
}

// RunSummary is the index entry persisted for each written run.
type RunSummary struct {
	VersionedRecord
	TestID       string             `json:"test_id"`
	RunHash      string             `json:"run_hash"`
	Pillar       string             `json:"pillar"`
	Controller   string             `json:"controller"`
	Seed         int64              `json:"seed"`
	Steps        int                `json:"steps"`
	Dir          string             `json:"dir"`
	Diverged     bool               `json:"diverged"`
	Scalars      map[string]float64 `json:"scalars,omitempty"`
	CreatedAtUTC string             `json:"created_at_utc"`
}

// Key identifies a summary inside an index.
func (s RunSummary) Key() string {
	return s.TestID + "/" + s.RunHash
}
