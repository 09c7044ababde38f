package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind identifies which variant a Value holds.
type ValueKind uint8

const (
	KindString ValueKind = iota
	KindNumber
	KindBlob
)

// Value is a single metadata field as reported by an extraction tool. Tool output
// vocabularies are open ended, so a field is either a string, a number, or an
// opaque blob (raw JSON for structured values, raw bytes for binary ones).
type Value struct {
	kind ValueKind
	str  string
	num  float64
	blob []byte
}

// String constructs a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number constructs a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Blob constructs an opaque value. The bytes are copied.
func Blob(b []byte) Value { return Value{kind: KindBlob, blob: append([]byte(nil), b...)} }

// Kind reports the variant.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string payload and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric payload and whether v is a number.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Bytes returns the blob payload and whether v is a blob.
func (v Value) Bytes() ([]byte, bool) { return v.blob, v.kind == KindBlob }

// Text renders any variant as display text.
func (v Value) Text() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBlob:
		if json.Valid(v.blob) {
			return string(v.blob)
		}
		return base64.StdEncoding.EncodeToString(v.blob)
	default:
		return v.str
	}
}

// blobEnvelope wraps non-JSON blobs so they survive a JSON round trip.
type blobEnvelope struct {
	Base64 string `json:"$base64"`
}

// MarshalJSON encodes strings and numbers natively. Blobs holding valid JSON are
// embedded as-is; other blobs become {"$base64": "..."}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBlob:
		if json.Valid(v.blob) {
			return v.blob, nil
		}
		return json.Marshal(blobEnvelope{Base64: base64.StdEncoding.EncodeToString(v.blob)})
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON maps JSON strings and numbers to their variants; anything else
// (objects, arrays, booleans) is kept as a raw JSON blob.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("metadata value: empty input")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = String(s)
	case '{':
		var env blobEnvelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Base64 != "" && bytes.Contains(trimmed, []byte(`"$base64"`)) {
			raw, err := base64.StdEncoding.DecodeString(env.Base64)
			if err != nil {
				return fmt.Errorf("metadata value: %w", err)
			}
			*v = Blob(raw)
			return nil
		}
		*v = Blob(trimmed)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
		*v = Number(n)
	default:
		*v = Blob(trimmed)
	}
	return nil
}

// Metadata is a snapshot of embedded file metadata, keyed by tool field name.
type Metadata map[string]Value

// Keys returns the field names in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sensitivePrefixes lists field names (or name prefixes) that identify a person,
// device, place or time of capture.
var sensitivePrefixes = []string{
	"GPS",
	"Creator",
	"Author",
	"Artist",
	"LastModifiedBy",
	"OwnerName",
	"SerialNumber",
	"CameraSerialNumber",
	"LensSerialNumber",
	"Make",
	"Model",
	"CreateDate",
	"ModifyDate",
	"DateTimeOriginal",
	"Software",
	"History",
	"XMPToolkit",
	"HostComputer",
}

// Sensitive returns the sorted field names that carry identifying data.
// Group prefixes such as "EXIF:" are ignored when matching.
func (m Metadata) Sensitive() []string {
	var out []string
	for _, k := range m.Keys() {
		name := k
		if i := strings.LastIndexByte(name, ':'); i >= 0 {
			name = name[i+1:]
		}
		for _, p := range sensitivePrefixes {
			if strings.HasPrefix(name, p) {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// Value implements driver.Valuer; metadata is stored as JSONB.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch s := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	*m = out
	return nil
}
