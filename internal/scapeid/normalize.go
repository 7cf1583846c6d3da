package scapeid

import "strings"

// Normalize canonicalizes pillar names, test ids and their aliases.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	for _, candidate := range aliasCandidates(normalized) {
		if canonical, ok := canonicalPillarName(candidate); ok {
			return canonical
		}
	}
	return normalized
}

func aliasCandidates(normalized string) []string {
	candidates := []string{normalized}
	candidate := strings.Trim(strings.TrimPrefix(normalized, "scape-"), "-")
	if candidate != "" && candidate != normalized {
		candidates = append(candidates, candidate)
	}
	if trimmed := trimPillarSuffix(candidate); trimmed != "" && trimmed != candidate {
		candidates = append(candidates, trimmed)
	}
	return candidates
}

func trimPillarSuffix(value string) string {
	for _, suffix := range []string{"-pillar", "-sim"} {
		if strings.HasSuffix(value, suffix) {
			return strings.TrimSuffix(value, suffix)
		}
	}
	return value
}

func canonicalPillarName(alias string) (string, bool) {
	switch strings.ReplaceAll(alias, "-", "") {
	case "gravity", "gravitycurl", "curl", "bg01":
		return "gravity", true
	case "thermo", "thermocoherence", "coherence", "th01":
		return "thermo", true
	case "energy", "energyphasemask", "phasemask", "en01":
		return "energy", true
	default:
		return "", false
	}
}
