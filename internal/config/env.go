// Package config reads process settings from the environment and run
// descriptions from YAML or JSON files.
package config

import (
	"os"
	"strings"

	"pfsap/internal/stats"
	"pfsap/internal/storage"
)

// Environment variable names.
const (
	EnvEmitTelemetry = "EMIT_TELEMETRY"
	EnvEmitField     = "EMIT_FIELD"
	EnvArtifactRoot  = "ARTIFACT_ROOT"
	EnvLogLevel      = "PFSAP_LOG_LEVEL"
	EnvStore         = "PFSAP_STORE"
	EnvDBPath        = "PFSAP_DB_PATH"
)

// Env is the process configuration taken from the environment.
type Env struct {
	EmitTelemetry bool
	EmitField     bool
	ArtifactRoot  string
	LogLevel      string
	Store         string
	DBPath        string
}

func FromEnv() Env {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds an Env from any lookup function. Both emit gates default
// to "1" when unset.
func FromLookup(lookup func(string) (string, bool)) Env {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok {
			return v
		}
		return fallback
	}
	env := Env{
		EmitTelemetry: Truthy(get(EnvEmitTelemetry, "1")),
		EmitField:     Truthy(get(EnvEmitField, "1")),
		ArtifactRoot:  strings.TrimSpace(get(EnvArtifactRoot, "")),
		LogLevel:      get(EnvLogLevel, "info"),
		Store:         get(EnvStore, storage.BackendMemory),
		DBPath:        get(EnvDBPath, ""),
	}
	if env.ArtifactRoot == "" {
		env.ArtifactRoot = stats.DefaultRoot
	}
	return env
}

// Truthy reports whether a flag value is one of 1, true, yes or on.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
