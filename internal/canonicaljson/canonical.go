// Package canonicaljson serializes JSON values into the canonical form used
// as the pre-image for pipeline content hashing: object keys sorted by code
// point, minimal separators, UTF-8, no HTML escaping. The same content always
// hashes to the same 32 bytes across runs and processes.
package canonicaljson

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Marshal produces the canonical serialization of v. Values are expected to
// be decoded JSON (maps, slices, strings, numbers, booleans, nil); other Go
// values are serialized through encoding/json as a fallback.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := appendValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash computes the SHA-256 digest of the canonical serialization of v. The
// returned slice is the raw 32-byte digest.
func Hash(v any) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// Text returns the canonical serialization as a string, or the empty string
// when v cannot be serialized. Used for fuzzy-matching text projections where
// a degraded result is preferable to an error.
func Text(v any) string {
	data, err := Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func appendValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return appendString(buf, val)
	case json.Number:
		buf.WriteString(val.String())
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float32:
		return appendFloat(buf, float64(val))
	case float64:
		return appendFloat(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendValue(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := appendValue(buf, val[k]); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		// Not decoded JSON: round-trip through encoding/json so structs and
		// typed maps still canonicalize.
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("canonical json: %w", err)
		}
		var generic any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return fmt.Errorf("canonical json: %w", err)
		}
		return appendValue(buf, generic)
	}
	return nil
}

func appendFloat(buf *bytes.Buffer, f float64) error {
	if f == float64(int64(f)) {
		// Integral floats (the common case after a generic JSON decode)
		// serialize without an exponent or trailing fraction.
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	b := strconv.AppendFloat(nil, f, 'g', -1, 64)
	buf.Write(b)
	return nil
}

func appendString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
