// Package runid computes the content address of a run: the first seven hex
// characters of SHA-256 over a canonical JSON payload.
package runid

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pfsap/internal/model"
)

// Length is the number of hex characters kept from the digest.
const Length = 7

var (
	hashPattern   = regexp.MustCompile(`^[0-9a-f]{7}$`)
	testIDPattern = regexp.MustCompile(`^[A-Z]{1,4}\d{2,3}$`)
)

// Payload is the hashed identity of a run.
func Payload(testID, controller string, seed int64, cfg model.Config) map[string]any {
	return map[string]any{
		"test_id":    testID,
		"controller": controller,
		"seed":       seed,
		"cfg":        cfg.Map(),
	}
}

// Hash returns the 7-hex run hash for (test_id, controller, seed, cfg). It
// never depends on runtime metrics or wall time.
func Hash(testID, controller string, seed int64, cfg model.Config) (string, error) {
	data, err := Canonical(Payload(testID, controller, seed, cfg))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:Length], nil
}

// ValidHash reports whether s looks like a run hash.
func ValidHash(s string) bool { return hashPattern.MatchString(s) }

// ValidTestID reports whether s matches the test id grammar [A-Z]{1,4}\d{2,3}.
func ValidTestID(s string) bool { return testIDPattern.MatchString(s) }

// Canonical encodes v as compact JSON with sorted keys. Integers stay
// integers; floats use the shortest round-trip spelling with a mandatory
// fractional part or exponent (1.0, 0.05, 1e-05).
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(x))
	case string:
		return encodeString(buf, x)
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case float32:
		return encodeFloat(buf, float64(x))
	case float64:
		return encodeFloat(buf, x)
	case json.Number:
		buf.WriteString(x.String())
	case []float64:
		buf.WriteByte('[')
		for i, f := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeFloat(buf, f); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []int:
		buf.WriteByte('[')
		for i, n := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Itoa(n))
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for i, s := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, s); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []any:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]float64:
		m := make(map[string]any, len(x))
		for k, f := range x {
			m[k] = f
		}
		return encode(buf, m)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical json: unsupported type %T", v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical json: non-finite float %v", f)
	}
	buf.WriteString(FormatFloat(f))
	return nil
}

// FormatFloat spells f the way the reference encoder does: exponent form
// below 1e-4 and from 1e16 up, otherwise positional with at least one
// fractional digit.
func FormatFloat(f float64) string {
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
