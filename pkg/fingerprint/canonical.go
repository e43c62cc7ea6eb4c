// Copyright © 2018 One Concern

package fingerprint

import (
	"fmt"
	"math"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v2"
)

// encMode encodes with CBOR Core Deterministic Encoding: sorted map keys,
// smallest integer encoding, no indefinite-length items.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fingerprint: CBOR encoder initialization failed: " + err.Error())
	}
}

// CanonicalValue encodes a structured value deterministically
func CanonicalValue(v interface{}) ([]byte, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(n)
}

// CanonicalDocument parses a JSON or YAML document and re-encodes it deterministically,
// so reformatted documents with the same content yield the same bytes.
//
// Text that does not parse as a structured document is normalized as plain text instead.
func CanonicalDocument(doc []byte) ([]byte, error) {
	var v interface{}
	if err := yaml.Unmarshal(doc, &v); err != nil {
		return NormalizeText(doc), nil
	}
	switch v.(type) {
	case string:
		return NormalizeText(doc), nil
	default:
		return CanonicalValue(v)
	}
}

// normalize converts the generic maps produced by yaml into string-keyed maps, and integral
// floats into integers so that 1, 1.0 and 1e0 encode alike.
//
// Keys which only differ by type, such as 1 and "1", are rejected.
func normalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			key := fmt.Sprint(scalar(k))
			if _, dup := m[key]; dup {
				return nil, ErrDuplicateKey.Detailf("%q", key)
			}
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			m[key] = n
		}
		return m, nil
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			m[k] = n
		}
		return m, nil
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			s[i] = n
		}
		return s, nil
	default:
		return scalar(v), nil
	}
}

func scalar(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<63 {
			return int64(t)
		}
	case float32:
		return scalar(float64(t))
	}
	return v
}

// NormalizeText normalizes source text before hashing: line endings become LF, trailing whitespace
// is stripped, consecutive blank lines are collapsed and leading or trailing blank lines are trimmed.
// Indentation is preserved.
func NormalizeText(b []byte) []byte {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")

	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\v\f")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, line)
			continue
		}
		blank = false
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return []byte(strings.Join(out, "\n"))
}
