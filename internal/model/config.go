package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrConfiguration marks a run configuration the simulators refuse to start with.
var ErrConfiguration = errors.New("configuration error")

const (
	PillarGravity = "gravity"
	PillarThermo  = "thermo"
	PillarEnergy  = "energy"
)

// Config is the immutable per-run parameter record. Each pillar reads a subset
// of the fields; ParamKeys lists the subset that is persisted and hashed.
type Config struct {
	Pillar string `json:"-" yaml:"pillar"`

	H     int     `json:"H" yaml:"H" validate:"gte=1"`
	W     int     `json:"W" yaml:"W" validate:"gte=1"`
	Steps int     `json:"steps" yaml:"steps" validate:"gte=0"`
	DT    float64 `json:"dt" yaml:"dt" validate:"gt=0"`

	Alpha  float64 `json:"alpha" yaml:"alpha"`
	Lambda float64 `json:"lambda" yaml:"lambda"`
	Beta   float64 `json:"beta" yaml:"beta"`
	Chi    float64 `json:"chi" yaml:"chi" validate:"gte=0"`
	Nu     float64 `json:"nu" yaml:"nu"`
	Damp   float64 `json:"damp" yaml:"damp"`

	Amp0        float64 `json:"amp0" yaml:"amp0"`
	Sigma0      float64 `json:"sigma0" yaml:"sigma0" validate:"gte=0"`
	Clip        float64 `json:"clip" yaml:"clip" validate:"gte=0"`
	Norm0Target float64 `json:"norm0_target" yaml:"norm0_target" validate:"gte=0"`
	NormCap     float64 `json:"norm_cap" yaml:"norm_cap" validate:"gte=0"`

	KappaCap   float64 `json:"kappa_cap" yaml:"kappa_cap" validate:"gte=0"`
	CurlTarget float64 `json:"curl_target" yaml:"curl_target"`
	RTarget    float64 `json:"R_target" yaml:"R_target"`
	STarget    float64 `json:"S_target" yaml:"S_target"`

	NoiseSigma float64 `json:"noise_sigma" yaml:"noise_sigma" validate:"gte=0"`
	T          float64 `json:"T" yaml:"T"`
	DriftSigma float64 `json:"drift_sigma" yaml:"drift_sigma" validate:"gte=0"`
	ROIRadius  float64 `json:"roi_radius" yaml:"roi_radius" validate:"gte=0"`

	Seed int64 `json:"seed" yaml:"seed"`
}

// Param is one typed configuration entry. Value is an int64 or a float64 so
// canonical encoders can keep the integer/float distinction.
type Param struct {
	Key   string
	Value any
}

var pillarParamKeys = map[string][]string{
	PillarGravity: {"H", "W", "steps", "dt", "alpha", "lambda", "beta", "amp0", "sigma0", "clip", "curl_target", "kappa_cap", "seed"},
	PillarThermo:  {"H", "W", "steps", "dt", "nu", "damp", "T", "noise_sigma", "norm_cap", "norm0_target", "kappa_cap", "R_target", "S_target", "seed"},
	PillarEnergy:  {"H", "W", "steps", "dt", "amp0", "sigma0", "chi", "drift_sigma", "roi_radius", "kappa_cap", "seed"},
}

// ParamKeys returns the parameter subset a pillar persists. Unknown pillars
// persist every recognized field.
func ParamKeys(pillar string) []string {
	keys, ok := pillarParamKeys[strings.TrimSpace(strings.ToLower(pillar))]
	if !ok {
		keys = allParamKeys()
	}
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}

func allParamKeys() []string {
	keys := make([]string, 0, 24)
	for key := range (Config{}).lookupTable() {
		keys = append(keys, key)
	}
	return keys
}

func (c Config) lookupTable() map[string]any {
	return map[string]any{
		"H":            int64(c.H),
		"W":            int64(c.W),
		"steps":        int64(c.Steps),
		"dt":           c.DT,
		"alpha":        c.Alpha,
		"lambda":       c.Lambda,
		"beta":         c.Beta,
		"chi":          c.Chi,
		"nu":           c.Nu,
		"damp":         c.Damp,
		"amp0":         c.Amp0,
		"sigma0":       c.Sigma0,
		"clip":         c.Clip,
		"norm0_target": c.Norm0Target,
		"norm_cap":     c.NormCap,
		"kappa_cap":    c.KappaCap,
		"curl_target":  c.CurlTarget,
		"R_target":     c.RTarget,
		"S_target":     c.STarget,
		"noise_sigma":  c.NoiseSigma,
		"T":            c.T,
		"drift_sigma":  c.DriftSigma,
		"roi_radius":   c.ROIRadius,
		"seed":         c.Seed,
	}
}

// Params returns the pillar's parameters sorted by key.
func (c Config) Params() []Param {
	table := c.lookupTable()
	keys := ParamKeys(c.Pillar)
	params := make([]Param, 0, len(keys))
	for _, key := range keys {
		params = append(params, Param{Key: key, Value: table[key]})
	}
	return params
}

// Map is Params as a map, suitable for sorted-key JSON encoding.
func (c Config) Map() map[string]any {
	params := c.Params()
	out := make(map[string]any, len(params))
	for _, p := range params {
		out[p.Key] = p.Value
	}
	return out
}

// Set assigns a recognized parameter by its persisted key.
func (c *Config) Set(key string, value float64) error {
	switch key {
	case "H":
		c.H = int(value)
	case "W":
		c.W = int(value)
	case "steps":
		c.Steps = int(value)
	case "dt":
		c.DT = value
	case "alpha":
		c.Alpha = value
	case "lambda", "lam":
		c.Lambda = value
	case "beta":
		c.Beta = value
	case "chi":
		c.Chi = value
	case "nu":
		c.Nu = value
	case "damp":
		c.Damp = value
	case "amp0":
		c.Amp0 = value
	case "sigma0":
		c.Sigma0 = value
	case "clip":
		c.Clip = value
	case "norm0_target":
		c.Norm0Target = value
	case "norm_cap":
		c.NormCap = value
	case "kappa_cap":
		c.KappaCap = value
	case "curl_target":
		c.CurlTarget = value
	case "R_target":
		c.RTarget = value
	case "S_target":
		c.STarget = value
	case "noise_sigma":
		c.NoiseSigma = value
	case "T":
		c.T = value
	case "drift_sigma":
		c.DriftSigma = value
	case "roi_radius":
		c.ROIRadius = value
	case "seed":
		c.Seed = int64(value)
	default:
		return fmt.Errorf("%w: unknown parameter %q", ErrConfiguration, key)
	}
	return nil
}

// ConfigError wraps ErrConfiguration with the offending field.
func ConfigError(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrConfiguration, field, fmt.Sprintf(format, args...))
}
